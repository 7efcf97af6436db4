package wire

import "fmt"

// Kind is the type tag of an inline argument.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindBool
	KindString
	KindBinary
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is one inline message argument.
type Value struct {
	Kind Kind
	Int  int32
	Bool bool
	Str  string
	Data []byte
}

func Null() Value           { return Value{Kind: KindNull} }
func Int(v int32) Value     { return Value{Kind: KindInt, Int: v} }
func Bool(v bool) Value     { return Value{Kind: KindBool, Bool: v} }
func String(v string) Value { return Value{Kind: KindString, Str: v} }
func Binary(v []byte) Value { return Value{Kind: KindBinary, Data: v} }
