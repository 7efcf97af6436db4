// Package testutil provides fakes and mocks shared by router tests.
package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/host"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/wire"
)

// Browser is a fixed browser identifier.
type Browser int32

func (b Browser) Identifier() int32 { return int32(b) }

// Frame records every message sent to it.
type Frame struct {
	Main bool
	// Err, when set, is returned from SendMessage and the message is dropped.
	Err error
	// Reject, when set, is consulted for each message; a non-nil result is
	// returned from SendMessage and the message is dropped.
	Reject func(*wire.Message) error

	mu       sync.Mutex
	messages []*wire.Message
	onSend   func(*wire.Message)
}

// NewFrame creates a recording frame.
func NewFrame(main bool) *Frame {
	return &Frame{Main: main}
}

func (f *Frame) IsMain() bool { return f.Main }

func (f *Frame) SendMessage(msg *wire.Message) error {
	if f.Err != nil {
		return f.Err
	}
	if f.Reject != nil {
		if err := f.Reject(msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.messages = append(f.messages, msg)
	onSend := f.onSend
	f.mu.Unlock()
	if onSend != nil {
		onSend(msg)
	}
	return nil
}

// OnSend installs a hook called after each recorded message.
func (f *Frame) OnSend(fn func(*wire.Message)) {
	f.mu.Lock()
	f.onSend = fn
	f.mu.Unlock()
}

// Messages returns the recorded messages.
func (f *Frame) Messages() []*wire.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*wire.Message(nil), f.messages...)
}

// Responses decodes every recorded message as a response.
func (f *Frame) Responses(t testing.TB) []wire.Response {
	t.Helper()
	var out []wire.Response
	for _, msg := range f.Messages() {
		r, err := wire.DecodeResponse(msg)
		require.NoError(t, err)
		out = append(out, r)
	}
	return out
}

// Reset forgets recorded messages.
func (f *Frame) Reset() {
	f.mu.Lock()
	f.messages = nil
	f.mu.Unlock()
}

// MockHandler is a mock implementation of host.Handler.
type MockHandler struct {
	mock.Mock
}

// OnQuery mocks the OnQuery method.
func (m *MockHandler) OnQuery(ctx context.Context, q *host.Query) bool {
	args := m.Called(ctx, q)
	return args.Bool(0)
}

// OnQueryCanceled mocks the OnQueryCanceled method.
func (m *MockHandler) OnQueryCanceled(ctx context.Context, browser host.Browser, frame host.Frame, queryID int64) {
	m.Called(ctx, browser, frame, queryID)
}

// NewMockHandler creates a handler that declines every query and accepts
// any cancellation.
func NewMockHandler(t *testing.T) *MockHandler {
	t.Helper()
	m := new(MockHandler)
	m.On("OnQuery", mock.Anything, mock.Anything).Return(false).Maybe()
	m.On("OnQueryCanceled", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return().Maybe()
	return m
}

// QueryMessage builds an inline query message as the content side would.
func QueryMessage(name string, contextID, requestID int32, payload wire.Payload, persistent bool) *wire.Message {
	msg, _ := wire.BuildQueryMessage(wire.DefaultThreshold, nil, name, contextID, requestID, payload, persistent)
	return msg
}
