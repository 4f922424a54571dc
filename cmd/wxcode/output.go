package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/GilbertoAbrao/wxcode-sub008/internal/artifact"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/config"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/depgraph"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/observability"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/pipeline"
)

func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	return observability.NewLogger(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printValue prints v as JSON, or text otherwise.
func printValue(w io.Writer, asJSON bool, v any, text string) error {
	if asJSON {
		return writeJSON(w, v)
	}
	_, err := io.WriteString(w, text)
	return err
}

func table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func printExtract(w io.Writer, asJSON bool, names []string, results map[string]artifact.DependencySet) error {
	if asJSON {
		if len(names) == 1 {
			return writeJSON(w, results[names[0]])
		}
		return writeJSON(w, results)
	}
	for _, name := range names {
		deps := results[name]
		if len(names) > 1 {
			fmt.Fprintf(w, "%s\n", name)
		}
		fmt.Fprintf(w, "  calls:        %s\n", list(deps.Calls))
		fmt.Fprintf(w, "  tables:       %s\n", list(deps.UsesTables))
		fmt.Fprintf(w, "  classes:      %s\n", list(deps.UsesClasses))
		fmt.Fprintf(w, "  external api: %s\n", list(deps.UsesExternalAPIs))
	}
	return nil
}

func list(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func printSync(w io.Writer, asJSON bool, r *pipeline.SyncReport) error {
	if asJSON {
		return writeJSON(w, r)
	}
	verb := "Synced"
	if r.Result.DryRun {
		verb = "Dry run for"
	}
	fmt.Fprintf(w, "%s %s in %s\n", verb, r.ProjectID, r.Result.Duration.Round(1e6))
	fmt.Fprintf(w, "  artifacts:    %d (%d reused, %d written back)\n", r.Artifacts, r.Reused, r.DependenciesWritten)
	fmt.Fprintf(w, "  nodes:        %d (%d external placeholders)\n", r.Result.NodeCount, r.Placeholders)
	fmt.Fprintf(w, "  edges:        %d in %d batches\n", r.Result.EdgeCount, r.Result.Batches)
	if r.Result.RunID != "" && !r.Result.DryRun {
		fmt.Fprintf(w, "  run:          %s\n", r.Result.RunID)
	}
	if len(r.Cycles) > 0 {
		fmt.Fprintf(w, "  cycles:       %s\n", strings.Join(r.Cycles, ", "))
	}
	for _, s := range r.Skipped {
		fmt.Fprintf(w, "  skipped:      %s/%s: %s\n", s.ArtifactID, s.Body, s.Reason)
	}
	return nil
}

func printImpact(w io.Writer, asJSON bool, impacted []depgraph.Impacted) error {
	if asJSON {
		return writeJSON(w, impacted)
	}
	if len(impacted) == 0 {
		fmt.Fprintln(w, "Nothing depends on this node.")
		return nil
	}
	tw := table(w)
	fmt.Fprintln(tw, "DEPTH\tKIND\tNAME")
	for _, im := range impacted {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", im.Depth, im.Node.Kind, im.Node.Name)
	}
	return tw.Flush()
}

func printPath(w io.Writer, asJSON bool, res depgraph.PathResult) error {
	if asJSON {
		return writeJSON(w, res)
	}
	if len(res.Paths) == 0 {
		fmt.Fprintln(w, "No path.")
		return nil
	}
	for _, p := range res.Paths {
		keys := make([]string, len(p))
		for i, n := range p {
			keys[i] = n.Key
		}
		fmt.Fprintln(w, strings.Join(keys, " -> "))
	}
	if res.Truncated {
		fmt.Fprintln(w, "(truncated)")
	}
	return nil
}

func printHubs(w io.Writer, asJSON bool, hubs []depgraph.Hub) error {
	if asJSON {
		return writeJSON(w, hubs)
	}
	tw := table(w)
	fmt.Fprintln(tw, "KEY\tIN\tOUT\tTOTAL")
	for _, h := range hubs {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", h.Node.Key, h.In, h.Out, h.Total)
	}
	return tw.Flush()
}

func printNodes(w io.Writer, asJSON bool, nodes []depgraph.Node) error {
	if asJSON {
		return writeJSON(w, nodes)
	}
	for _, n := range nodes {
		fmt.Fprintln(w, n.Key)
	}
	return nil
}

func printSequence(w io.Writer, asJSON bool, seq depgraph.Sequence) error {
	if asJSON {
		return writeJSON(w, seq)
	}
	tw := table(w)
	fmt.Fprintln(tw, "ORDER\tLAYER\tKEY\t")
	for _, n := range seq.Nodes {
		mark := ""
		if n.CycleWarning {
			mark = "cycle"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", *n.TopologicalOrder, n.Layer, n.Key, mark)
	}
	return tw.Flush()
}
