// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package value implements the single tagged-value sum type every message
// argument is represented as: number, string, or a tagged {type, value}
// pair. Adapters at the wire boundary (internal/msg) convert between this
// form and the bare OSC primitives; everything above the wire boundary
// (drivers, macro engine, cue engine) only ever sees a Value.
package value

import (
	"encoding/base64"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Kind tags which field of a Value is meaningful.
type Kind uint8

const (
	KindInt Kind = iota
	KindFloat
	KindString
	KindBool
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "i"
	case KindFloat:
		return "f"
	case KindString:
		return "s"
	case KindBool:
		return "b"
	case KindBytes:
		return "blob"
	default:
		return "unknown"
	}
}

// Value is a single typed argument: float | int | string, optionally bool or
// bytes. Zero Value is the int 0.
type Value struct {
	kind  Kind
	i     int32
	f     float32
	s     string
	b     bool
	bytes []byte
}

func Int(v int32) Value    { return Value{kind: KindInt, i: v} }
func Float(v float32) Value { return Value{kind: KindFloat, f: v} }
func String(v string) Value { return Value{kind: KindString, s: v} }
func Bool(v bool) Value     { return Value{kind: KindBool, b: v} }
func Bytes(v []byte) Value  { return Value{kind: KindBytes, bytes: v} }

// Kind reports which variant this Value holds.
func (v Value) Kind() Kind { return v.kind }

// AsFloat coerces int or float kinds to float64; any other kind returns 0, false.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return float64(v.f), true
	case KindInt:
		return float64(v.i), true
	default:
		return 0, false
	}
}

// AsInt coerces int or float kinds to int; any other kind returns 0, false.
func (v Value) AsInt() (int, bool) {
	switch v.kind {
	case KindInt:
		return int(v.i), true
	case KindFloat:
		return int(v.f), true
	default:
		return 0, false
	}
}

// AsString returns the string form of a string-kind Value.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// AsBool returns the bool form of a bool-kind Value.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsBytes returns the raw bytes of a bytes-kind Value.
func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return v.bytes, true
}

// String renders a human-readable form for logging.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindString:
		return v.s
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindBytes:
		return fmt.Sprintf("<%d bytes>", len(v.bytes))
	default:
		return "<invalid>"
	}
}

// taggedDoc is the serialised {type, value} form used in persisted show and
// macro documents.
type taggedDoc struct {
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
}

// MarshalYAML serialises a Value as its tagged {type, value} form.
func (v Value) MarshalYAML() (any, error) {
	doc := taggedDoc{Type: v.kind.String()}
	switch v.kind {
	case KindBytes:
		doc.Value = base64.StdEncoding.EncodeToString(v.bytes)
	default:
		doc.Value = v.String()
	}
	return doc, nil
}

// UnmarshalYAML accepts either the tagged {type, value} form or a bare
// scalar, inferring the kind of bare scalars the way FromAny does.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		var doc taggedDoc
		if err := node.Decode(&doc); err != nil {
			return err
		}
		switch doc.Type {
		case "i":
			var i int32
			if _, err := fmt.Sscanf(doc.Value, "%d", &i); err != nil {
				return fmt.Errorf("value: bad int %q: %w", doc.Value, err)
			}
			*v = Int(i)
		case "f":
			var f float32
			if _, err := fmt.Sscanf(doc.Value, "%g", &f); err != nil {
				return fmt.Errorf("value: bad float %q: %w", doc.Value, err)
			}
			*v = Float(f)
		case "b":
			*v = Bool(doc.Value == "true")
		case "blob":
			raw, err := base64.StdEncoding.DecodeString(doc.Value)
			if err != nil {
				return fmt.Errorf("value: bad blob: %w", err)
			}
			*v = Bytes(raw)
		default:
			*v = String(doc.Value)
		}
		return nil
	}

	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// FromAny wraps a bare Go primitive (as seen at a driver/test boundary) into
// a Value, inferring the kind the way the macro engine's OSC sender does:
// integers become "i", non-integer numbers become "f", bools and byte slices
// keep their own kinds, and everything else becomes "s".
func FromAny(a any) Value {
	switch t := a.(type) {
	case Value:
		return t
	case int:
		return Int(int32(t))
	case int32:
		return Int(t)
	case int64:
		return Int(int32(t))
	case float32:
		if t == float32(int32(t)) {
			return Int(int32(t))
		}
		return Float(t)
	case float64:
		if t == float64(int32(t)) {
			return Int(int32(t))
		}
		return Float(float32(t))
	case bool:
		return Bool(t)
	case []byte:
		return Bytes(t)
	case string:
		return String(t)
	default:
		return String(fmt.Sprintf("%v", t))
	}
}
