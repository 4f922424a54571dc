package artifact

import "sort"

// DependencySet holds the names referenced by an artifact's code. Every field
// is kept sorted and free of duplicates so that equal sets serialize to equal
// bytes.
type DependencySet struct {
	Calls            []string `json:"calls" yaml:"calls"`
	UsesTables       []string `json:"uses_tables" yaml:"uses_tables"`
	UsesClasses      []string `json:"uses_classes" yaml:"uses_classes"`
	UsesExternalAPIs []string `json:"uses_external_apis" yaml:"uses_external_apis"`
}

// NewDependencySet normalizes the four name lists into a DependencySet.
func NewDependencySet(calls, tables, classes, apis []string) DependencySet {
	return DependencySet{
		Calls:            normalize(calls),
		UsesTables:       normalize(tables),
		UsesClasses:      normalize(classes),
		UsesExternalAPIs: normalize(apis),
	}
}

// Merge returns the union of sets. It is associative, commutative and
// idempotent; Merge() is the empty set.
func Merge(sets ...DependencySet) DependencySet {
	var calls, tables, classes, apis []string
	for _, s := range sets {
		calls = append(calls, s.Calls...)
		tables = append(tables, s.UsesTables...)
		classes = append(classes, s.UsesClasses...)
		apis = append(apis, s.UsesExternalAPIs...)
	}
	return NewDependencySet(calls, tables, classes, apis)
}

// IsEmpty reports whether no dependency was found.
func (d DependencySet) IsEmpty() bool {
	return len(d.Calls) == 0 && len(d.UsesTables) == 0 &&
		len(d.UsesClasses) == 0 && len(d.UsesExternalAPIs) == 0
}

// Equal compares two sets field by field.
func (d DependencySet) Equal(o DependencySet) bool {
	return equalStrings(d.Calls, o.Calls) &&
		equalStrings(d.UsesTables, o.UsesTables) &&
		equalStrings(d.UsesClasses, o.UsesClasses) &&
		equalStrings(d.UsesExternalAPIs, o.UsesExternalAPIs)
}

// Size is the total number of names across all fields.
func (d DependencySet) Size() int {
	return len(d.Calls) + len(d.UsesTables) + len(d.UsesClasses) + len(d.UsesExternalAPIs)
}

// normalize sorts and dedups names, dropping empty strings. It never returns
// nil so JSON output is always [] rather than null.
func normalize(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
