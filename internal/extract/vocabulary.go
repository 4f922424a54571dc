package extract

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed builtins.yaml
var defaultVocabularyYAML []byte

// vocabularyFile is the YAML layout of a vocabulary.
type vocabularyFile struct {
	Version         string              `yaml:"version"`
	Keywords        []string            `yaml:"keywords"`
	Functions       []string            `yaml:"functions"`
	TableOperations []string            `yaml:"table_operations"`
	APIFamilies     map[string][]string `yaml:"api_families"`
}

// Vocabulary is the immutable set of built-in identifiers of the legacy
// language. It is loaded once and shared read-only by every Extractor.
type Vocabulary struct {
	version     string
	builtins    map[string]struct{}
	tableOps    []string
	apiFamilies map[string][]string
}

var (
	defaultOnce  sync.Once
	defaultVocab *Vocabulary
	defaultErr   error
)

// DefaultVocabulary returns the vocabulary embedded in the binary.
func DefaultVocabulary() *Vocabulary {
	defaultOnce.Do(func() {
		defaultVocab, defaultErr = ParseVocabulary(defaultVocabularyYAML)
	})
	if defaultErr != nil {
		panic(fmt.Sprintf("embedded vocabulary is invalid: %v", defaultErr))
	}
	return defaultVocab
}

// LoadVocabulary reads a vocabulary file. An empty path yields the default.
func LoadVocabulary(path string) (*Vocabulary, error) {
	if path == "" {
		return DefaultVocabulary(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vocabulary: %w", err)
	}
	return ParseVocabulary(data)
}

// ParseVocabulary decodes a YAML vocabulary.
func ParseVocabulary(data []byte) (*Vocabulary, error) {
	var f vocabularyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing vocabulary: %w", err)
	}
	if strings.TrimSpace(f.Version) == "" {
		return nil, fmt.Errorf("vocabulary has no version")
	}

	v := &Vocabulary{
		version:     f.Version,
		builtins:    make(map[string]struct{}),
		apiFamilies: make(map[string][]string, len(f.APIFamilies)),
	}
	add := func(names []string) {
		for _, n := range names {
			if n = strings.TrimSpace(n); n != "" {
				v.builtins[strings.ToLower(n)] = struct{}{}
			}
		}
	}
	add(f.Keywords)
	add(f.Functions)
	add(f.TableOperations)
	v.tableOps = append(v.tableOps, f.TableOperations...)
	for family, prims := range f.APIFamilies {
		add(prims)
		v.apiFamilies[strings.ToUpper(family)] = append([]string(nil), prims...)
	}
	return v, nil
}

// Version identifies the vocabulary revision.
func (v *Vocabulary) Version() string { return v.version }

// Size is the number of distinct built-in identifiers.
func (v *Vocabulary) Size() int { return len(v.builtins) }

// IsBuiltin reports whether name is a built-in. The legacy language is case
// insensitive, so the lookup is too.
func (v *Vocabulary) IsBuiltin(name string) bool {
	_, ok := v.builtins[strings.ToLower(name)]
	return ok
}

// TableOps returns a copy of the data-access operation names.
func (v *Vocabulary) TableOps() []string {
	return append([]string(nil), v.tableOps...)
}

// APIFamilies returns the family names in sorted order.
func (v *Vocabulary) APIFamilies() []string {
	out := make([]string, 0, len(v.apiFamilies))
	for f := range v.apiFamilies {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// APIPrimitives returns a copy of the primitives of one family.
func (v *Vocabulary) APIPrimitives(family string) []string {
	return append([]string(nil), v.apiFamilies[family]...)
}
