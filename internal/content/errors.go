package content

import (
	"errors"
	"fmt"
)

// ErrWrongSequence is returned when an owner-only method is called from
// outside the router's runner.
var ErrWrongSequence = errors.New("called outside the owning sequence")

// Object members of the query argument.
const (
	memberRequest    = "request"
	memberOnSuccess  = "onSuccess"
	memberOnFailure  = "onFailure"
	memberPersistent = "persistent"
)

// MalformedRequestError reports invalid arguments passed from script. The
// script bridge throws it as an exception.
type MalformedRequestError struct {
	Message string
}

func (e *MalformedRequestError) Error() string {
	return e.Message
}

func malformed(format string, args ...any) error {
	return &MalformedRequestError{Message: "Invalid arguments; " + fmt.Sprintf(format, args...)}
}

// IsMalformedRequest reports whether err is a MalformedRequestError.
func IsMalformedRequest(err error) bool {
	var m *MalformedRequestError
	return errors.As(err, &m)
}
