package wire

import (
	"fmt"
	"slices"
)

// Query is a decoded content-to-host query.
type Query struct {
	ContextID  int32
	RequestID  int32
	Persistent bool
	Payload    Payload
}

// Cancel is a decoded content-to-host cancel.
type Cancel struct {
	ContextID int32
	RequestID int32
}

// Response is a decoded host-to-content response.
type Response struct {
	ContextID    int32
	RequestID    int32
	Success      bool
	ErrorCode    int32
	ErrorMessage string
	Payload      Payload
}

// DecodeQuery decodes a query message. When the identifiers could be read
// but the rest could not, they are returned alongside ErrMalformed so the
// caller can still answer the request.
func DecodeQuery(m *Message) (Query, error) {
	if m.Region != nil {
		data := m.Region.Bytes()
		h, ok := readQueryHeader(data)
		if !ok {
			return Query{}, fmt.Errorf("%w: query region of %d bytes", ErrMalformed, len(data))
		}
		q := Query{ContextID: h.contextID, RequestID: h.requestID, Persistent: h.persistent}
		q.Payload = regionPayload(data[queryHeaderSize:], h.binary)
		return q, nil
	}

	ctxID, reqID, ok := decodeIDs(m.Args)
	if !ok {
		return Query{}, fmt.Errorf("%w: query without identifiers", ErrMalformed)
	}
	q := Query{ContextID: ctxID, RequestID: reqID}
	if len(m.Args) != 4 || m.Args[3].Kind != KindBool {
		return q, fmt.Errorf("%w: query has %d arguments", ErrMalformed, len(m.Args))
	}
	payload, ok := payloadFromValue(m.Args[2])
	if !ok {
		return q, fmt.Errorf("%w: query payload of kind %s", ErrMalformed, m.Args[2].Kind)
	}
	q.Payload = payload
	q.Persistent = m.Args[3].Bool
	return q, nil
}

// DecodeCancel decodes a cancel message. Cancel messages are always inline.
func DecodeCancel(m *Message) (Cancel, error) {
	if m.Region != nil || len(m.Args) != 2 {
		return Cancel{}, fmt.Errorf("%w: cancel must carry two arguments", ErrMalformed)
	}
	ctxID, reqID, ok := decodeIDs(m.Args)
	if !ok {
		return Cancel{}, fmt.Errorf("%w: cancel identifiers", ErrMalformed)
	}
	return Cancel{ContextID: ctxID, RequestID: reqID}, nil
}

// DecodeResponse decodes a response message. Region-backed responses are
// always successful.
func DecodeResponse(m *Message) (Response, error) {
	if m.Region != nil {
		data := m.Region.Bytes()
		h, ok := readResponseHeader(data)
		if !ok {
			return Response{}, fmt.Errorf("%w: response region of %d bytes", ErrMalformed, len(data))
		}
		return Response{
			ContextID: h.contextID,
			RequestID: h.requestID,
			Success:   true,
			Payload:   regionPayload(data[responseHeaderSize:], h.binary),
		}, nil
	}

	ctxID, reqID, ok := decodeIDs(m.Args)
	if !ok || len(m.Args) < 3 || m.Args[2].Kind != KindBool {
		return Response{}, fmt.Errorf("%w: response header arguments", ErrMalformed)
	}
	r := Response{ContextID: ctxID, RequestID: reqID, Success: m.Args[2].Bool}

	if r.Success {
		if len(m.Args) != 4 {
			return r, fmt.Errorf("%w: success response has %d arguments", ErrMalformed, len(m.Args))
		}
		payload, ok := payloadFromValue(m.Args[3])
		if !ok {
			return r, fmt.Errorf("%w: response payload of kind %s", ErrMalformed, m.Args[3].Kind)
		}
		r.Payload = payload
		return r, nil
	}

	if len(m.Args) != 5 || m.Args[3].Kind != KindInt || m.Args[4].Kind != KindString {
		return r, fmt.Errorf("%w: failure response arguments", ErrMalformed)
	}
	r.ErrorCode = m.Args[3].Int
	r.ErrorMessage = m.Args[4].Str
	return r, nil
}

func decodeIDs(args []Value) (int32, int32, bool) {
	if len(args) < 2 || args[0].Kind != KindInt || args[1].Kind != KindInt {
		return 0, 0, false
	}
	return args[0].Int, args[1].Int, true
}

// regionPayload copies the body out of the region so the message can be
// released once decoded.
func regionPayload(body []byte, isBinary bool) Payload {
	body = slices.Clone(body)
	if isBinary {
		return BinaryPayload(body)
	}
	return textPayloadFromBytes(body)
}
