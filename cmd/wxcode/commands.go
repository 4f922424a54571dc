package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	temporalclient "go.temporal.io/sdk/client"
	temporallog "go.temporal.io/sdk/log"

	"github.com/GilbertoAbrao/wxcode-sub008/internal/app"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/artifact"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/config"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/depgraph"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/extract"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/graph/neo4j"
	"github.com/GilbertoAbrao/wxcode-sub008/internal/pipeline"
	temporalmod "github.com/GilbertoAbrao/wxcode-sub008/internal/temporal"
)

// withApp loads configuration, builds the App and closes it after fn.
func withApp(cmd *cobra.Command, opts *options, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))
	return fn(ctx, a)
}

func newExtractCmd(opts *options) *cobra.Command {
	var classes []string
	cmd := &cobra.Command{
		Use:   "extract [file...]",
		Short: "Print the dependencies found in WLanguage source (stdin when no file is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			vocab, err := extract.LoadVocabulary(cfg.Extract.Vocabulary)
			if err != nil {
				return err
			}
			ex := extract.New(vocab, extract.WithClasses(classes))

			results := make(map[string]artifact.DependencySet)
			var names []string
			if len(args) == 0 {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				names = append(names, "-")
				results["-"] = ex.Extract(string(data))
			}
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				names = append(names, path)
				results[path] = ex.Extract(string(data))
			}
			return printExtract(cmd.OutOrStdout(), opts.jsonOutput, names, results)
		},
	}
	cmd.Flags().StringSliceVar(&classes, "classes", nil, "Known class names (excluded from calls, matched as class uses)")
	return cmd
}

func newSyncCmd(opts *options) *cobra.Command {
	var (
		dryRun  bool
		noClear bool
		enqueue bool
		wait    bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Aggregate dependencies and rebuild the project graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireProject(); err != nil {
				return err
			}
			if enqueue {
				return enqueueSync(cmd, opts, temporalmod.SyncInput{
					ProjectID:  opts.projectID,
					DryRun:     dryRun,
					ClearFirst: !noClear,
				}, wait)
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				report, err := a.Service.Sync(ctx, opts.projectID, pipeline.SyncOptions{
					DryRun:     dryRun,
					ClearFirst: !noClear,
				})
				if err != nil {
					return err
				}
				return printSync(cmd.OutOrStdout(), opts.jsonOutput, report)
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Compute everything but write nothing")
	cmd.Flags().BoolVar(&noClear, "no-clear", false, "Merge into the existing graph instead of replacing it")
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "Start the sync workflow on the Temporal worker instead")
	cmd.Flags().BoolVar(&wait, "wait", false, "With --enqueue, wait for the workflow result")
	return cmd
}

func enqueueSync(cmd *cobra.Command, opts *options, input temporalmod.SyncInput, wait bool) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	c, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporallog.NewStructuredLogger(newLogger(cmd, cfg)),
	})
	if err != nil {
		return fmt.Errorf("temporal client: %w", err)
	}
	defer c.Close()

	run, err := temporalmod.StartSync(ctx, c, cfg.Temporal.TaskQueue, input)
	if err != nil {
		return err
	}
	if !wait {
		return printValue(cmd.OutOrStdout(), opts.jsonOutput,
			map[string]string{"workflow_id": run.GetID(), "run_id": run.GetRunID()},
			fmt.Sprintf("Started workflow %s (run %s)\n", run.GetID(), run.GetRunID()))
	}

	var out temporalmod.SyncOutput
	if err := run.Get(ctx, &out); err != nil {
		return err
	}
	return printValue(cmd.OutOrStdout(), opts.jsonOutput, out,
		fmt.Sprintf("Synced %s: %d nodes, %d edges (run %s)\n", out.ProjectID, out.NodeCount, out.EdgeCount, out.RunID))
}

func newImpactCmd(opts *options) *cobra.Command {
	var (
		depth  int
		cypher bool
	)
	cmd := &cobra.Command{
		Use:   "impact <key>",
		Short: "List everything that depends on a node, e.g. table:CLIENTE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireProject(); err != nil {
				return err
			}
			if cypher {
				d := depth
				if d <= 0 {
					d = config.Default().Analysis.MaxImpactDepth
				}
				fmt.Fprintf(cmd.OutOrStdout(), "// params: {projectId: %q, key: %q}\n%s\n", opts.projectID, args[0], neo4j.ImpactQuery(d))
				return nil
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				d := depth
				if d <= 0 {
					d = a.Config.Analysis.MaxImpactDepth
				}
				impacted, err := a.Service.Impact(ctx, opts.projectID, args[0], d)
				if err != nil {
					return err
				}
				return printImpact(cmd.OutOrStdout(), opts.jsonOutput, impacted)
			})
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 0, "Maximum depth (default: analysis.max_impact_depth)")
	cmd.Flags().BoolVar(&cypher, "cypher", false, "Print the equivalent Cypher query instead of running it")
	return cmd
}

func newPathCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "path <from> <to>",
		Short: "Show the shortest dependency paths between two nodes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireProject(); err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				res, err := a.Service.Path(ctx, opts.projectID, args[0], args[1])
				if err != nil {
					return err
				}
				return printPath(cmd.OutOrStdout(), opts.jsonOutput, res)
			})
		},
	}
}

func newHubsCmd(opts *options) *cobra.Command {
	var minConnections int
	cmd := &cobra.Command{
		Use:   "hubs",
		Short: "List the most connected nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireProject(); err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				hubs, err := a.Service.Hubs(ctx, opts.projectID, minConnections)
				if err != nil {
					return err
				}
				return printHubs(cmd.OutOrStdout(), opts.jsonOutput, hubs)
			})
		},
	}
	cmd.Flags().IntVar(&minConnections, "min", 5, "Minimum incoming plus outgoing edges")
	return cmd
}

func newDeadCodeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "dead-code",
		Short: "List procedures nothing calls, excluding entry points",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireProject(); err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				dead, err := a.Service.DeadCode(ctx, opts.projectID)
				if err != nil {
					return err
				}
				return printNodes(cmd.OutOrStdout(), opts.jsonOutput, dead)
			})
		},
	}
}

func newSequenceCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sequence",
		Short: "Print the migration order, layer by layer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireProject(); err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				seq, err := a.Service.Sequence(ctx, opts.projectID)
				if err != nil {
					return err
				}
				return printSequence(cmd.OutOrStdout(), opts.jsonOutput, seq)
			})
		},
	}
}

func newExportCmd(opts *options) *cobra.Command {
	var (
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the project graph as DOT, Mermaid or JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireProject(); err != nil {
				return err
			}
			if format == "" {
				format = formatFromExt(output)
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				m, err := a.Service.Model(ctx, opts.projectID)
				if err != nil {
					return err
				}
				data, err := render(m, format)
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				if err := os.WriteFile(output, data, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d nodes and %d edges to %s\n", len(m.Nodes), len(m.Edges), output)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "dot, mermaid or json (default: from --output extension, else dot)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (stdout when empty)")
	return cmd
}

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the project graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireProject(); err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				stats, err := a.Service.Stats(ctx, opts.projectID)
				if err != nil {
					return err
				}
				return printValue(cmd.OutOrStdout(), opts.jsonOutput, stats, depgraph.FormatStats(stats))
			})
		},
	}
}

func formatFromExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".mmd", ".mermaid":
		return "mermaid"
	default:
		return "dot"
	}
}

func render(m *depgraph.Model, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "dot":
		return []byte(depgraph.ExportDOT(m)), nil
	case "mermaid":
		return []byte(depgraph.ExportMermaid(m)), nil
	case "json":
		return depgraph.ExportJSON(m)
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}
