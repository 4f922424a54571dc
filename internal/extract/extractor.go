// Package extract finds inter-artifact references in legacy code bodies.
//
// Extraction is heuristic: four independent pattern matchers classify the
// references of a code body into procedure calls, table accesses, class
// usages and external API usages. Any single matcher can be swapped for a
// parser-backed implementation without touching the others.
package extract

import (
	"github.com/GilbertoAbrao/wxcode-sub008/internal/artifact"
)

// Extractor turns code text into a DependencySet. It holds no mutable state
// and is safe for concurrent use.
type Extractor struct {
	vocab   *Vocabulary
	calls   Matcher
	tables  Matcher
	classes Matcher
	apis    Matcher
}

// Option configures an Extractor.
type Option func(*extractorOptions)

type extractorOptions struct {
	classes []string
	calls   Matcher
	tables  Matcher
	klass   Matcher
	apis    Matcher
}

// WithClasses sets the known class names used by class-usage detection.
func WithClasses(names []string) Option {
	return func(o *extractorOptions) { o.classes = append([]string(nil), names...) }
}

// WithCallMatcher replaces the call matcher.
func WithCallMatcher(m Matcher) Option {
	return func(o *extractorOptions) { o.calls = m }
}

// WithTableMatcher replaces the table matcher.
func WithTableMatcher(m Matcher) Option {
	return func(o *extractorOptions) { o.tables = m }
}

// WithClassMatcher replaces the class matcher.
func WithClassMatcher(m Matcher) Option {
	return func(o *extractorOptions) { o.klass = m }
}

// WithExternalAPIMatcher replaces the external API matcher.
func WithExternalAPIMatcher(m Matcher) Option {
	return func(o *extractorOptions) { o.apis = m }
}

// New creates an Extractor over vocab. A nil vocab means DefaultVocabulary.
func New(vocab *Vocabulary, opts ...Option) *Extractor {
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	var o extractorOptions
	for _, opt := range opts {
		opt(&o)
	}
	e := &Extractor{
		vocab:   vocab,
		calls:   o.calls,
		tables:  o.tables,
		classes: o.klass,
		apis:    o.apis,
	}
	if e.calls == nil {
		e.calls = NewCallMatcher(vocab, o.classes)
	}
	if e.tables == nil {
		e.tables = NewTableMatcher(vocab)
	}
	if e.classes == nil {
		e.classes = NewClassMatcher(o.classes)
	}
	if e.apis == nil {
		e.apis = NewExternalAPIMatcher(vocab)
	}
	return e
}

// Vocabulary returns the vocabulary the extractor filters against.
func (e *Extractor) Vocabulary() *Vocabulary { return e.vocab }

// Extract classifies the references in code. It never fails: text that
// matches nothing yields the empty set.
func (e *Extractor) Extract(code string) artifact.DependencySet {
	if code == "" {
		return artifact.Merge()
	}
	stripped := stripComments(code)
	literalFree := blankStrings(code)

	calls := e.calls.Match(stripped)
	// matchers are replaceable; the built-in exclusion is not
	filtered := calls[:0]
	for _, c := range calls {
		if !e.vocab.IsBuiltin(c) {
			filtered = append(filtered, c)
		}
	}

	return artifact.NewDependencySet(
		filtered,
		e.tables.Match(stripped),
		e.classes.Match(literalFree),
		e.apis.Match(literalFree),
	)
}
