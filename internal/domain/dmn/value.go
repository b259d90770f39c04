// Package dmn models the request and response envelopes exchanged with the
// decision table evaluator.
package dmn

import (
	"fmt"
	"strconv"

	"github.com/bytedance/sonic"
)

// Kind is the evaluator's type tag for a value
type Kind string

const (
	KindString  Kind = "String"
	KindInteger Kind = "Integer"
	KindBoolean Kind = "Boolean"
	KindNull    Kind = "Null"
)

// Value is a decision table value: a type tag plus its textual payload.
type Value struct {
	Kind Kind
	Raw  string
}

// String builds a String value
func String(s string) Value {
	return Value{Kind: KindString, Raw: s}
}

// Integer builds an Integer value
func Integer(n int) Value {
	return Value{Kind: KindInteger, Raw: strconv.Itoa(n)}
}

// Boolean builds a Boolean value
func Boolean(b bool) Value {
	return Value{Kind: KindBoolean, Raw: strconv.FormatBool(b)}
}

// String returns the payload as text. Typed values render as their literal.
func (v Value) String() string {
	return v.Raw
}

// Int parses the payload as an integer
func (v Value) Int() (int, error) {
	n, err := strconv.Atoi(v.Raw)
	if err != nil {
		return 0, fmt.Errorf("dmn value %q is not an integer: %w", v.Raw, err)
	}
	return n, nil
}

// IsEmpty reports whether the value carries no payload
func (v Value) IsEmpty() bool {
	return v.Kind == KindNull || v.Raw == ""
}

type wireValue struct {
	Value interface{} `json:"value"`
	Type  Kind        `json:"type,omitempty"`
}

type wireValueIn struct {
	Value sonic.NoCopyRawMessage `json:"value"`
	Type  Kind                   `json:"type"`
}

// MarshalJSON encodes the value as {"value": ..., "type": ...}
func (v Value) MarshalJSON() ([]byte, error) {
	out := wireValue{Type: v.Kind}
	switch v.Kind {
	case KindInteger:
		n, err := v.Int()
		if err != nil {
			return nil, err
		}
		out.Value = n
	case KindBoolean:
		b, err := strconv.ParseBool(v.Raw)
		if err != nil {
			return nil, fmt.Errorf("dmn value %q is not a boolean: %w", v.Raw, err)
		}
		out.Value = b
	case KindNull:
		out.Value = nil
	default:
		out.Value = v.Raw
	}
	return sonic.ConfigStd.Marshal(out)
}

// UnmarshalJSON decodes {"value": ..., "type": ...}. A missing type is
// inferred from the JSON value.
func (v *Value) UnmarshalJSON(data []byte) error {
	var in wireValueIn
	if err := sonic.ConfigStd.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("decode dmn value: %w", err)
	}

	raw := string(in.Value)
	switch {
	case raw == "" || raw == "null":
		v.Kind, v.Raw = KindNull, ""
	case raw[0] == '"':
		var s string
		if err := sonic.ConfigStd.UnmarshalFromString(raw, &s); err != nil {
			return fmt.Errorf("decode dmn string value: %w", err)
		}
		v.Kind, v.Raw = KindString, s
	case raw == "true" || raw == "false":
		v.Kind, v.Raw = KindBoolean, raw
	default:
		v.Kind, v.Raw = KindInteger, raw
	}

	if in.Type != "" && v.Kind != KindNull {
		v.Kind = in.Type
	}
	return nil
}
