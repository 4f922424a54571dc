// Package artifact models the legacy source units handed over by the import
// pipeline: pages, classes, procedure sets, tables and queries, together with
// the code bodies attached to them and the dependency set computed from them.
package artifact

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Kind classifies artifacts.
type Kind string

const (
	KindTable     Kind = "table"
	KindClass     Kind = "class"
	KindProcedure Kind = "procedure"
	KindPage      Kind = "page"
	KindQuery     Kind = "query"
)

// Kinds lists every artifact kind in migration order.
var Kinds = []Kind{KindTable, KindClass, KindProcedure, KindPage, KindQuery}

// Valid reports whether k is a known artifact kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseKind maps loose spellings used by the importers ("proc", "window",
// "procedures") onto a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "table", "file", "hfsql":
		return KindTable, nil
	case "class":
		return KindClass, nil
	case "procedure", "procedures", "proc", "procedure_set":
		return KindProcedure, nil
	case "page", "window", "form":
		return KindPage, nil
	case "query":
		return KindQuery, nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidArtifact, s)
}

// BodyType classifies code bodies.
type BodyType string

const (
	BodyEvent     BodyType = "event"
	BodyProcedure BodyType = "procedure"
	BodyMain      BodyType = "body"
)

// Encodings accepted on a CodeBody.
const (
	EncodingUTF8   = "utf-8"
	EncodingBase64 = "base64"
)

// Sentinel errors.
var (
	ErrInvalidArtifact = errors.New("invalid artifact")
	ErrNotFound        = errors.New("artifact not found")
	ErrUndecodable     = errors.New("code body cannot be decoded")
)

// CodeBody is one block of code attached to an artifact: an event handler,
// a local procedure or the artifact's own body.
type CodeBody struct {
	Name     string   `json:"name" yaml:"name"`
	Type     BodyType `json:"type,omitempty" yaml:"type,omitempty" validate:"omitempty,oneof=event procedure body"`
	Text     string   `json:"text" yaml:"text"`
	Encoding string   `json:"encoding,omitempty" yaml:"encoding,omitempty" validate:"omitempty,oneof=utf-8 base64"`
}

// Decode returns the body as UTF-8 text.
func (b CodeBody) Decode() (string, error) {
	text := b.Text
	if b.Encoding == EncodingBase64 {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b.Text))
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrUndecodable, b.Name, err)
		}
		text = string(raw)
	}
	if !utf8.ValidString(text) {
		return "", fmt.Errorf("%w: %s: invalid utf-8", ErrUndecodable, b.Name)
	}
	return text, nil
}

// Artifact is a named source unit. Everything but Dependencies and CodeHash
// is owned by the import pipeline.
type Artifact struct {
	ProjectID    string         `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	Kind         Kind           `json:"kind" yaml:"kind" validate:"required,oneof=table class procedure page query"`
	Name         string         `json:"name" yaml:"name" validate:"required,max=256"`
	ParentClass  string         `json:"parent_class,omitempty" yaml:"parent_class,omitempty"`
	Code         []CodeBody     `json:"code,omitempty" yaml:"code,omitempty" validate:"dive"`
	CodeHash     string         `json:"code_hash,omitempty" yaml:"code_hash,omitempty"`
	Dependencies *DependencySet `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// ID returns "kind:name".
func (a Artifact) ID() string {
	return string(a.Kind) + ":" + a.Name
}
