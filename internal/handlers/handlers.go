// Package handlers provides ready-made host query handlers.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/host"
)

// Failure codes reported by the handlers in this package.
const (
	CodeBadRequest  int32 = 400
	CodeRateLimited int32 = 429
	CodeInternal    int32 = 500
)

// Error is a failure with an explicit code. Handler functions return it to
// control the code seen by script; any other error is reported as
// CodeInternal.
type Error struct {
	Code    int32
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%d: %s", e.Code, e.Message) }

// Errorf builds an *Error.
func Errorf(code int32, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func failure(err error) (int32, string) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, e.Message
	}
	return CodeInternal, err.Error()
}

// Echo claims every query and answers with its own request. Binary requests
// are answered with binary responses.
func Echo() host.Handler {
	return host.HandlerFuncs{
		Query: func(_ context.Context, q *host.Query) bool {
			if q.Request.IsBinary() {
				q.Callback.SuccessBinary(q.Request.Bytes())
			} else {
				q.Callback.Success(q.Request.Text())
			}
			return true
		},
	}
}

// call is the JSON request shape understood by Method.
type call struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Method returns a handler claiming text queries of the form
// {"method": name, "params": ...}. Params are decoded into Req, fn runs on
// its own goroutine and its result is sent back JSON encoded. The context
// passed to fn is canceled when the query is.
func Method[Req, Resp any](name string, fn func(ctx context.Context, req Req) (Resp, error)) host.Handler {
	return &method[Req, Resp]{
		name:    name,
		fn:      fn,
		running: make(map[int64]context.CancelFunc),
	}
}

type method[Req, Resp any] struct {
	name string
	fn   func(ctx context.Context, req Req) (Resp, error)

	mu      sync.Mutex
	running map[int64]context.CancelFunc
}

func (m *method[Req, Resp]) OnQuery(_ context.Context, q *host.Query) bool {
	if !q.Request.IsText() {
		return false
	}
	var c call
	if err := sonic.UnmarshalString(q.Request.Text(), &c); err != nil || c.Method != m.name {
		return false
	}

	var req Req
	if len(c.Params) > 0 {
		if err := sonic.Unmarshal(c.Params, &req); err != nil {
			q.Callback.Failure(CodeBadRequest, "invalid params: "+err.Error())
			return true
		}
	}

	// Handler contexts are bound to the router's sequence and must not
	// travel to other goroutines.
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.running[q.ID] = cancel
	m.mu.Unlock()

	cb := q.Callback
	go func() {
		defer m.done(q.ID)

		resp, err := m.fn(ctx, req)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			cb.Failure(failure(err))
			return
		}
		data, err := sonic.MarshalString(resp)
		if err != nil {
			cb.Failure(CodeInternal, err.Error())
			return
		}
		cb.Success(data)
	}()
	return true
}

func (m *method[Req, Resp]) OnQueryCanceled(_ context.Context, _ host.Browser, _ host.Frame, queryID int64) {
	m.done(queryID)
}

func (m *method[Req, Resp]) done(queryID int64) {
	m.mu.Lock()
	cancel := m.running[queryID]
	delete(m.running, queryID)
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// RateLimited wraps next so that queries beyond limiter's rate are claimed
// and failed with CodeRateLimited instead of reaching next.
func RateLimited(limiter *rate.Limiter, next host.Handler) host.Handler {
	return &rateLimited{limiter: limiter, next: next}
}

type rateLimited struct {
	limiter *rate.Limiter
	next    host.Handler
}

func (h *rateLimited) OnQuery(ctx context.Context, q *host.Query) bool {
	if !h.limiter.Allow() {
		q.Callback.Failure(CodeRateLimited, "rate limit exceeded")
		return true
	}
	return h.next.OnQuery(ctx, q)
}

func (h *rateLimited) OnQueryCanceled(ctx context.Context, browser host.Browser, frame host.Frame, queryID int64) {
	h.next.OnQueryCanceled(ctx, browser, frame, queryID)
}
