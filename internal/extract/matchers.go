package extract

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Matcher is one reference classifier. Implementations must be safe for
// concurrent use and must never panic on arbitrary input.
type Matcher interface {
	// Name identifies the matcher in logs.
	Name() string
	// Match returns the names found in code, in any order, possibly repeated.
	Match(code string) []string
}

const identifier = `[\p{L}_][\p{L}\p{N}_]*`

var (
	// Foo( with no space before the parenthesis.
	callPattern = regexp.MustCompile(`(` + identifier + `)\(`)

	// PROCEDURE Foo(...) headers declare rather than call.
	declarationPattern = regexp.MustCompile(`(?im)^[ \t]*(?:INTERNAL[ \t]+)?(?:PROCEDURE|PROCÉDURE|FUNCTION|FONCTION)[ \t]+` + identifier)

	// oCli is Cliente / oCli is object Cliente / oCli est un objet Cliente
	classDeclPattern = regexp.MustCompile(`(?i:\b(?:is|est)\s+(?:(?:a|an|un|une|object|objet|dynamic|dynamique|array|tableau|of|de)\s+)*)(` + identifier + `)`)
	// new Cliente / nouveau Cliente
	classNewPattern = regexp.MustCompile(`(?i:\b(?:new|nouveau)\s+)(` + identifier + `)`)
)

// CallMatcher captures procedure calls, skipping member calls on records or
// objects and anything in the built-in vocabulary.
type CallMatcher struct {
	vocab   *Vocabulary
	classes map[string]struct{}
}

// NewCallMatcher creates a CallMatcher. Known class names are excluded
// because a call with a class name is a constructor.
func NewCallMatcher(vocab *Vocabulary, classes []string) *CallMatcher {
	m := &CallMatcher{vocab: vocab, classes: make(map[string]struct{}, len(classes))}
	for _, c := range classes {
		m.classes[c] = struct{}{}
	}
	return m
}

func (m *CallMatcher) Name() string { return "calls" }

func (m *CallMatcher) Match(code string) []string {
	code = declarationPattern.ReplaceAllStringFunc(blankStrings(code), blank)

	var out []string
	for _, loc := range callPattern.FindAllStringSubmatchIndex(code, -1) {
		start, end := loc[2], loc[3]
		if isMemberAccess(code, start) {
			continue
		}
		name := code[start:end]
		if m.vocab.IsBuiltin(name) {
			continue
		}
		if _, ok := m.classes[name]; ok {
			continue
		}
		out = append(out, name)
	}
	return out
}

// isMemberAccess reports whether the identifier starting at i is preceded,
// ignoring spaces, by "." or ":" (record field or object member).
func isMemberAccess(code string, i int) bool {
	for j := i - 1; j >= 0; j-- {
		switch code[j] {
		case ' ', '\t':
			continue
		case '.', ':':
			return true
		default:
			return false
		}
	}
	return false
}

// TableMatcher captures the first argument of data-access operations. It
// expects comment-free code with string literals intact so that a quoted
// table name is still captured.
type TableMatcher struct {
	pattern *regexp.Regexp
}

// NewTableMatcher builds the matcher from the vocabulary's operation family.
func NewTableMatcher(vocab *Vocabulary) *TableMatcher {
	ops := vocab.TableOps()
	if len(ops) == 0 {
		return &TableMatcher{}
	}
	return &TableMatcher{
		pattern: regexp.MustCompile(`(?i:\b(?:` + alternation(ops) + `))\s*\(\s*"?(` + identifier + `)`),
	}
}

func (m *TableMatcher) Name() string { return "tables" }

func (m *TableMatcher) Match(code string) []string {
	if m.pattern == nil {
		return nil
	}
	var out []string
	for _, loc := range m.pattern.FindAllStringSubmatchIndex(code, -1) {
		if insideLiteral(code, loc[0]) {
			continue
		}
		out = append(out, code[loc[2]:loc[3]])
	}
	return out
}

// insideLiteral reports whether byte offset i of comment-free code falls
// within a "..." literal. Literals do not span lines.
func insideLiteral(code string, i int) bool {
	start := strings.LastIndexByte(code[:i], '\n') + 1
	return strings.Count(code[start:i], `"`)%2 == 1
}

// ClassMatcher captures declarations and instantiations of known classes.
// Class names are matched case-sensitively as whole tokens.
type ClassMatcher struct {
	classes map[string]struct{}
}

// NewClassMatcher creates a ClassMatcher over the given class names.
func NewClassMatcher(classes []string) *ClassMatcher {
	m := &ClassMatcher{classes: make(map[string]struct{}, len(classes))}
	for _, c := range classes {
		m.classes[c] = struct{}{}
	}
	return m
}

func (m *ClassMatcher) Name() string { return "classes" }

func (m *ClassMatcher) Match(code string) []string {
	if len(m.classes) == 0 {
		return nil
	}
	var out []string
	for _, p := range []*regexp.Regexp{classDeclPattern, classNewPattern} {
		for _, sm := range p.FindAllStringSubmatch(code, -1) {
			if _, ok := m.classes[sm[1]]; ok {
				out = append(out, sm[1])
			}
		}
	}
	return out
}

// ExternalAPIMatcher tags code that uses a network primitive with the
// primitive's family name (REST, SOAP, ...).
type ExternalAPIMatcher struct {
	families []apiFamily
}

type apiFamily struct {
	name    string
	pattern *regexp.Regexp
}

// NewExternalAPIMatcher builds one pattern per family.
func NewExternalAPIMatcher(vocab *Vocabulary) *ExternalAPIMatcher {
	m := &ExternalAPIMatcher{}
	for _, family := range vocab.APIFamilies() {
		prims := vocab.APIPrimitives(family)
		if len(prims) == 0 {
			continue
		}
		m.families = append(m.families, apiFamily{
			name:    family,
			pattern: regexp.MustCompile(`(?i:\b(?:` + alternation(prims) + `))\s*\(`),
		})
	}
	return m
}

func (m *ExternalAPIMatcher) Name() string { return "external_apis" }

func (m *ExternalAPIMatcher) Match(code string) []string {
	var out []string
	for _, f := range m.families {
		if f.pattern.MatchString(code) {
			out = append(out, f.name)
		}
	}
	return out
}

// alternation quotes names and orders them longest first so that HReadSeek
// is preferred over HRead.
func alternation(names []string) string {
	quoted := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			quoted = append(quoted, regexp.QuoteMeta(n))
		}
	}
	sort.SliceStable(quoted, func(i, j int) bool { return len(quoted[i]) > len(quoted[j]) })
	return strings.Join(quoted, "|")
}

func blank(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' {
			return r
		}
		return ' '
	}, s)
}

// stripComments replaces // line comments and /* */ block comments with
// spaces, leaving string literals intact.
func stripComments(code string) string {
	return scan(code, false)
}

// blankStrings strips comments and replaces the contents of "..." literals
// with spaces.
func blankStrings(code string) string {
	return scan(code, true)
}

func scan(code string, blankLiterals bool) string {
	var b strings.Builder
	b.Grow(len(code))

	const (
		normal = iota
		inString
		inLine
		inBlock
	)
	state := normal
	runes := []rune(code)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		next := rune(0)
		if i+1 < len(runes) {
			next = runes[i+1]
		}
		switch state {
		case normal:
			switch {
			case r == '"':
				state = inString
				b.WriteRune(r)
			case r == '/' && next == '/':
				state = inLine
				b.WriteString("  ")
				i++
			case r == '/' && next == '*':
				state = inBlock
				b.WriteString("  ")
				i++
			default:
				b.WriteRune(r)
			}
		case inString:
			switch {
			case r == '"':
				state = normal
				b.WriteRune(r)
			case r == '\n':
				// unterminated literal; resume at the next line
				state = normal
				b.WriteRune(r)
			case blankLiterals && !unicode.IsSpace(r):
				b.WriteRune(' ')
			default:
				b.WriteRune(r)
			}
		case inLine:
			if r == '\n' {
				state = normal
				b.WriteRune(r)
			} else {
				b.WriteRune(' ')
			}
		case inBlock:
			if r == '*' && next == '/' {
				state = normal
				b.WriteString("  ")
				i++
			} else if r == '\n' {
				b.WriteRune(r)
			} else {
				b.WriteRune(' ')
			}
		}
	}
	return b.String()
}
