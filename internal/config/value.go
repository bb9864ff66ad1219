package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies which member of the Value variant is populated.
type Kind int

const (
	KindInt Kind = iota
	KindReal
	KindBool
	KindString
	KindPath
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindReal:
		return "real"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindPath:
		return "path"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a tagged variant over the setting types a Field can hold.
type Value struct {
	kind Kind
	i    int64
	f    float64
	b    bool
	s    string
}

func Int(v int64) Value     { return Value{kind: KindInt, i: v} }
func Real(v float64) Value  { return Value{kind: KindReal, f: v} }
func Bool(v bool) Value     { return Value{kind: KindBool, b: v} }
func String(v string) Value { return Value{kind: KindString, s: v} }
func Path(v string) Value   { return Value{kind: KindPath, s: v} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) AsInt() int64 { return v.i }

func (v Value) AsReal() float64 { return v.f }

func (v Value) AsBool() bool { return v.b }

// AsString returns the text of a string or path value.
func (v Value) AsString() string { return v.s }

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindReal:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindPath:
		if v.s == "" {
			return "[no path specified]"
		}
		return v.s
	default:
		return v.s
	}
}

func (v Value) Equal(o Value) bool {
	return v == o
}

// parse converts raw text into a Value of the same kind as v.
func (v Value) parse(raw string) (Value, error) {
	raw = strings.TrimSpace(raw)
	switch v.kind {
	case KindInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("expected integer, got %q", raw)
		}
		return Int(n), nil
	case KindReal:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Value{}, fmt.Errorf("expected number, got %q", raw)
		}
		return Real(f), nil
	case KindBool:
		b, err := parseBool(raw)
		if err != nil {
			return Value{}, err
		}
		return Bool(b), nil
	case KindPath:
		return Path(raw), nil
	default:
		return String(raw), nil
	}
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off", "":
		return false, nil
	}
	return false, fmt.Errorf("expected boolean, got %q", raw)
}
