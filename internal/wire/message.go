package wire

import "errors"

const (
	// ReservedID is never issued as a query, context or request id. A cancel
	// carrying it as the request id targets every request of the context.
	ReservedID = 0

	// CanceledCode and CanceledMessage form the failure sent for queries that
	// were canceled or that no handler claimed.
	CanceledCode    int32 = -1
	CanceledMessage       = "The query has been canceled"

	// UndeliveredCode and UndeliveredMessage form the failure sent in place
	// of a success response the frame refused, such as one above the
	// transport's frame limit.
	UndeliveredCode    int32 = -2
	UndeliveredMessage       = "The response could not be delivered"

	// DefaultThreshold is the message size at which the shared region
	// encoding takes over from inline arguments.
	DefaultThreshold = 16 * 1024
)

var (
	// ErrMalformed is returned when an inbound message does not match any
	// known layout.
	ErrMalformed = errors.New("malformed message")
	// ErrRegionUsed is returned when a region-backed builder is asked to
	// build a second message.
	ErrRegionUsed = errors.New("shared region already built")
	// ErrWrongKind is returned when a builder made for one message kind is
	// asked to build another.
	ErrWrongKind = errors.New("builder built for a different message kind")
)

// Message is a named process message. Exactly one of Args or Region carries
// its content.
type Message struct {
	Name   string
	Args   []Value
	Region Region
}

// IsRegion reports whether the message content lives in a shared region.
func (m *Message) IsRegion() bool {
	return m.Region != nil
}

// Release frees the region backing the message, if any.
func (m *Message) Release() error {
	if m.Region == nil {
		return nil
	}
	return m.Region.Close()
}

// NewFailureMessage builds the inline failure response for a request.
func NewFailureMessage(name string, contextID, requestID, code int32, text string) *Message {
	return &Message{
		Name: name,
		Args: []Value{Int(contextID), Int(requestID), Bool(false), Int(code), String(text)},
	}
}

// NewCanceledMessage builds the fixed failure sent for canceled or unhandled
// queries.
func NewCanceledMessage(name string, contextID, requestID int32) *Message {
	return NewFailureMessage(name, contextID, requestID, CanceledCode, CanceledMessage)
}

// NewCancelMessage builds the content-to-host cancel message.
func NewCancelMessage(name string, contextID, requestID int32) *Message {
	return &Message{
		Name: name,
		Args: []Value{Int(contextID), Int(requestID)},
	}
}
