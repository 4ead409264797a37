package object

import (
	"fmt"

	"github.com/danmuck/ggipc/ggerr"
)

// Field describes one expected map entry for ValidateMap.
type Field struct {
	Key      string
	Required bool
	Type     Type
	// Out receives the entry's value, or nil when an optional entry is
	// absent. May be nil.
	Out *Value
}

// Required declares a mandatory entry of type t.
func Required(key string, t Type, out *Value) Field {
	return Field{Key: key, Required: true, Type: t, Out: out}
}

// Optional declares an optional entry of type t.
func Optional(key string, t Type, out *Value) Field {
	return Field{Key: key, Type: t, Out: out}
}

// ValidationError reports the entry that failed validation.
type ValidationError struct {
	Key    string
	Reason string
	kind   ggerr.Kind
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("object: key %q: %s", e.Key, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.kind
}

// ValidateMap looks up each field in m. A missing required entry is a
// ggerr.NoEntry error and an entry of the wrong type is a ggerr.Parse error.
// Entries not named by fields are ignored.
func ValidateMap(m Map, fields ...Field) error {
	for _, f := range fields {
		v, ok := m.Get(f.Key)
		if !ok {
			if f.Out != nil {
				*f.Out = nil
			}
			if f.Required {
				return &ValidationError{Key: f.Key, Reason: "missing required entry", kind: ggerr.NoEntry}
			}
			continue
		}
		if f.Type != TypeAny && TypeOf(v) != f.Type {
			return &ValidationError{
				Key:    f.Key,
				Reason: fmt.Sprintf("expected %s, got %s", f.Type, TypeOf(v)),
				kind:   ggerr.Parse,
			}
		}
		if f.Out != nil {
			*f.Out = v
		}
	}
	return nil
}

// ListTypeCheck reports a ggerr.Parse error if any element of l is not of
// type t.
func ListTypeCheck(l List, t Type) error {
	for i, v := range l {
		if TypeOf(v) != t {
			return ggerr.Errorf(ggerr.Parse, "object: list element %d: expected %s, got %s", i, t, TypeOf(v))
		}
	}
	return nil
}
