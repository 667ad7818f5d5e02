// Package payload validates decoded JSON request bodies against declared
// field schemas.
//
// Validation is pure: a body and a schema go in, a list of human readable
// messages comes out. An empty list means the body is valid.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Kind is a JSON type category a field value may belong to.
type Kind int

const (
	String Kind = iota + 1
	// Integer matches whole numbers written without a fraction or exponent.
	Integer
	// Number matches any JSON number, integer or real.
	Number
	Boolean
	Object
	Array
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Integer:
		return "integer"
	case Number:
		return "number"
	case Boolean:
		return "boolean"
	case Object:
		return "object"
	case Array:
		return "array"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Matches reports whether v belongs to the category. Booleans never count
// as numbers.
func (k Kind) Matches(v any) bool {
	switch k {
	case String:
		_, ok := v.(string)
		return ok
	case Integer:
		return isInteger(v)
	case Number:
		return isNumber(v)
	case Boolean:
		_, ok := v.(bool)
		return ok
	case Object:
		_, ok := v.(map[string]any)
		return ok
	case Array:
		_, ok := v.([]any)
		return ok
	}
	return false
}

// Field declares one schema entry and its acceptable kinds.
type Field struct {
	Name  string
	Kinds []Kind
}

// F is shorthand for building a Field.
func F(name string, kinds ...Kind) Field {
	return Field{Name: name, Kinds: kinds}
}

func (f Field) accepts(v any) bool {
	for _, k := range f.Kinds {
		if k.Matches(v) {
			return true
		}
	}
	return false
}

// Schema is an ordered list of fields. Messages list fields in this order.
type Schema []Field

// Names returns the field names in declaration order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// Validate checks body against required. Both checks always run:
// fields absent from body are reported together as one "missing fields"
// message, and present fields of the wrong kind as one "invalid types"
// message.
func Validate(body map[string]any, required Schema) []string {
	var msgs []string

	var missing []string
	for _, f := range required {
		if _, ok := body[f.Name]; !ok {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) > 0 {
		msgs = append(msgs, "missing fields: "+strings.Join(missing, ", "))
	}

	return append(msgs, checkTypes(body, required, false)...)
}

// CheckTypes reports present fields whose value matches none of the
// acceptable kinds. Absent fields and JSON nulls are ignored, so it suits
// optional fields.
func CheckTypes(body map[string]any, schema Schema) []string {
	return checkTypes(body, schema, true)
}

func checkTypes(body map[string]any, schema Schema, skipNull bool) []string {
	var invalid []string
	for _, f := range schema {
		v, ok := body[f.Name]
		if !ok || (skipNull && v == nil) {
			continue
		}
		if !f.accepts(v) {
			invalid = append(invalid, f.Name)
		}
	}
	if len(invalid) == 0 {
		return nil
	}
	return []string{"invalid types: " + strings.Join(invalid, ", ")}
}

// Decode reads a JSON object with numbers preserved as json.Number. The
// returned map is never nil: malformed input or a non-object body yields an
// empty map together with the parse error, so callers can report missing
// fields instead of failing outright.
func Decode(r io.Reader) (map[string]any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return map[string]any{}, fmt.Errorf("payload: read body: %w", err)
	}

	var body map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return map[string]any{}, fmt.Errorf("payload: decode body: %w", err)
	}
	if body == nil {
		return map[string]any{}, nil
	}
	return body, nil
}

// Error is a validation failure carrying every message found.
type Error struct {
	Messages []string
}

func (e *Error) Error() string {
	return "validation failed: " + strings.Join(e.Messages, "; ")
}

// NewError returns nil when msgs is empty.
func NewError(msgs []string) error {
	if len(msgs) == 0 {
		return nil
	}
	return &Error{Messages: msgs}
}
