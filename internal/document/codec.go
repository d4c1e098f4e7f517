package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind names a document type.
type Kind string

const (
	KindSchema  Kind = "schema"
	KindRuleSet Kind = "rules"
)

// ErrShape is returned when a decoded value cannot be read as the document.
var ErrShape = errors.New("value does not match document shape")

// Codec converts decoder output and final text into a typed document.
// Every value a Codec returns is normalized.
type Codec[D any] interface {
	Kind() Kind
	// Empty returns a well-formed document with all lists empty.
	Empty() D
	// Coerce reads a best-effort decoded value. Missing keys become empty
	// lists; a non-object value or a mistyped field is ErrShape.
	Coerce(v any) (D, error)
	// Parse strictly parses complete JSON text.
	Parse(text string) (D, error)
}

// SchemaCodec is the Codec for *Schema.
type SchemaCodec struct{}

func (SchemaCodec) Kind() Kind { return KindSchema }

func (SchemaCodec) Empty() *Schema {
	s := &Schema{}
	s.Normalize()
	return s
}

func (SchemaCodec) Coerce(v any) (*Schema, error) {
	s := &Schema{}
	if err := coerce(v, s); err != nil {
		return nil, err
	}
	s.Normalize()
	return s, nil
}

func (SchemaCodec) Parse(text string) (*Schema, error) {
	s := &Schema{}
	if err := parseStrict(text, s); err != nil {
		return nil, err
	}
	s.Normalize()
	return s, nil
}

// RuleSetCodec is the Codec for *RuleSet.
type RuleSetCodec struct{}

func (RuleSetCodec) Kind() Kind { return KindRuleSet }

func (RuleSetCodec) Empty() *RuleSet {
	r := &RuleSet{}
	r.Normalize()
	return r
}

func (RuleSetCodec) Coerce(v any) (*RuleSet, error) {
	r := &RuleSet{}
	if err := coerce(v, r); err != nil {
		return nil, err
	}
	r.Normalize()
	return r, nil
}

func (RuleSetCodec) Parse(text string) (*RuleSet, error) {
	r := &RuleSet{}
	if err := parseStrict(text, r); err != nil {
		return nil, err
	}
	r.Normalize()
	return r, nil
}

// coerce round-trips a generic decoded value through encoding/json.
func coerce(v any, dst any) error {
	if _, ok := v.(map[string]any); !ok {
		return fmt.Errorf("%w: top-level value is %T, want object", ErrShape, v)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrShape, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrShape, err)
	}
	return nil
}

// parseStrict accepts exactly one JSON object, optionally wrapped in a
// markdown code fence.
func parseStrict(text string, dst any) error {
	body := StripFence(text)
	if !strings.HasPrefix(body, "{") {
		return fmt.Errorf("expected a JSON object, got %q", truncate(body, 40))
	}
	if err := json.Unmarshal([]byte(body), dst); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// StripFence trims whitespace and a surrounding ```json ... ``` fence.
func StripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
