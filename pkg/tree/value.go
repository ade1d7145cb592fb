package tree

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the dynamic type held by a Value
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	}
	return "null"
}

// Value is a node value or attribute
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
}

// Null returns the empty value
func Null() Value { return Value{} }

// Bool returns a boolean value
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number returns a numeric value
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// String returns a string value. Enum values are strings.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Kind returns the dynamic type
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is empty
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean, false for other kinds
func (v Value) AsBool() bool { return v.kind == KindBool && v.b }

// AsNumber returns the number, 0 for other kinds
func (v Value) AsNumber() float64 {
	if v.kind != KindNumber {
		return 0
	}
	return v.n
}

// AsString returns the string, "" for other kinds
func (v Value) AsString() string {
	if v.kind != KindString {
		return ""
	}
	return v.s
}

// Equal reports whether both values have the same kind and content
func (v Value) Equal(o Value) bool {
	return v == o
}

// String renders the value for display
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return strconv.FormatFloat(v.n, 'g', -1, 64)
	case KindString:
		return v.s
	}
	return "null"
}

// ValueType declares what a node or action parameter accepts
type ValueType string

const (
	TypeDynamic ValueType = "dynamic"
	TypeBool    ValueType = "bool"
	TypeNumber  ValueType = "number"
	TypeString  ValueType = "string"
)

// EnumType declares a string restricted to the given choices
func EnumType(choices ...string) ValueType {
	return ValueType("enum[" + strings.Join(choices, ",") + "]")
}

// Choices returns the enum choices, nil for non-enum types
func (t ValueType) Choices() []string {
	s := string(t)
	if !strings.HasPrefix(s, "enum[") || !strings.HasSuffix(s, "]") {
		return nil
	}
	inner := s[len("enum[") : len(s)-1]
	if inner == "" {
		return []string{}
	}
	return strings.Split(inner, ",")
}

// IsEnum reports whether t is an enum type
func (t ValueType) IsEnum() bool {
	return t.Choices() != nil
}

// Accepts reports whether v may be stored under t. Null is always accepted.
func (t ValueType) Accepts(v Value) bool {
	if v.IsNull() || t == TypeDynamic || t == "" {
		return true
	}
	switch t {
	case TypeBool:
		return v.kind == KindBool
	case TypeNumber:
		return v.kind == KindNumber
	case TypeString:
		return v.kind == KindString
	}
	if choices := t.Choices(); choices != nil {
		if v.kind != KindString {
			return false
		}
		for _, c := range choices {
			if c == v.s {
				return true
			}
		}
	}
	return false
}

// ParseValue converts text entered by an operator into a value of type t
func ParseValue(t ValueType, text string) (Value, error) {
	switch t {
	case TypeBool:
		b, err := strconv.ParseBool(strings.TrimSpace(text))
		if err != nil {
			return Null(), fmt.Errorf("%q is not a bool", text)
		}
		return Bool(b), nil
	case TypeNumber:
		n, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return Null(), fmt.Errorf("%q is not a number", text)
		}
		return Number(n), nil
	}
	v := String(text)
	if !t.Accepts(v) {
		return Null(), fmt.Errorf("%q is not one of %v", text, t.Choices())
	}
	return v, nil
}
