package wire

import "unicode/utf8"

// PayloadKind identifies the variant held by a Payload.
type PayloadKind uint8

const (
	PayloadEmpty PayloadKind = iota
	PayloadText
	PayloadBinary
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadText:
		return "text"
	case PayloadBinary:
		return "binary"
	default:
		return "empty"
	}
}

// Payload is the body of a query or a successful response.
type Payload struct {
	kind PayloadKind
	data []byte
}

// EmptyPayload returns a payload with no body. It encodes as null.
func EmptyPayload() Payload {
	return Payload{}
}

// TextPayload returns a UTF-8 text payload.
func TextPayload(s string) Payload {
	return Payload{kind: PayloadText, data: []byte(s)}
}

// BinaryPayload returns a binary payload. The slice is retained, not copied.
func BinaryPayload(b []byte) Payload {
	return Payload{kind: PayloadBinary, data: b}
}

// textPayloadFromBytes mirrors how region-backed text is read back: bytes
// that are not valid UTF-8 decode as an empty payload.
func textPayloadFromBytes(b []byte) Payload {
	if !utf8.Valid(b) {
		return EmptyPayload()
	}
	return Payload{kind: PayloadText, data: b}
}

func (p Payload) Kind() PayloadKind { return p.kind }
func (p Payload) IsEmpty() bool     { return p.kind == PayloadEmpty }
func (p Payload) IsText() bool      { return p.kind == PayloadText }
func (p Payload) IsBinary() bool    { return p.kind == PayloadBinary }

// Size is the number of body bytes.
func (p Payload) Size() int { return len(p.data) }

// Text returns the body as a string regardless of kind.
func (p Payload) Text() string { return string(p.data) }

// Bytes returns the body without copying.
func (p Payload) Bytes() []byte { return p.data }

// value converts the payload to the inline argument that carries it.
func (p Payload) value() Value {
	switch p.kind {
	case PayloadText:
		return String(string(p.data))
	case PayloadBinary:
		return Binary(p.data)
	default:
		return Null()
	}
}

// payloadFromValue is the inverse of value. Null decodes as an empty binary
// payload so handlers see the same shape for both.
func payloadFromValue(v Value) (Payload, bool) {
	switch v.Kind {
	case KindString:
		return TextPayload(v.Str), true
	case KindBinary:
		return BinaryPayload(v.Data), true
	case KindNull:
		return BinaryPayload(nil), true
	default:
		return Payload{}, false
	}
}
