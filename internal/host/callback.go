package host

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/wire"
)

// Callback resolves one claimed query. Its methods may be called from any
// goroutine; the resolution itself always runs as a task on the router's
// runner. Once the query is canceled or a single-shot query is resolved, the
// callback is detached and further calls do nothing.
type Callback struct {
	mu     sync.Mutex
	router *Router

	browserID  int32
	queryID    int64
	persistent bool
}

func newCallback(r *Router, browserID int32, queryID int64, persistent bool) *Callback {
	return &Callback{router: r, browserID: browserID, queryID: queryID, persistent: persistent}
}

// QueryID returns the id of the query this callback resolves.
func (c *Callback) QueryID() int64 { return c.queryID }

// Persistent reports whether Success may be called more than once.
func (c *Callback) Persistent() bool { return c.persistent }

// Success responds with a text payload.
func (c *Callback) Success(response string) {
	c.success(wire.TextPayload(response))
}

// SuccessBinary responds with a binary payload. data is copied.
func (c *Callback) SuccessBinary(data []byte) {
	if len(data) == 0 {
		c.success(wire.EmptyPayload())
		return
	}
	c.success(wire.BinaryPayload(append([]byte(nil), data...)))
}

func (c *Callback) success(payload wire.Payload) {
	r := c.attached()
	if r == nil {
		return
	}
	builder := wire.NewResponseBuilder(r.threshold, r.alloc, r.queryName, payload)

	posted := r.runner.PostTask(func(ctx context.Context) {
		router := c.take(!c.persistent)
		if router == nil {
			builder.Discard()
			return
		}
		router.onCallbackSuccess(ctx, c.browserID, c.queryID, builder)
	})
	if !posted {
		builder.Discard()
	}
}

// Failure responds with an error code and message and always detaches the
// callback.
func (c *Callback) Failure(code int32, message string) {
	r := c.attached()
	if r == nil {
		return
	}
	r.runner.PostTask(func(ctx context.Context) {
		router := c.take(true)
		if router == nil {
			return
		}
		router.onCallbackFailure(ctx, c.browserID, c.queryID, code, message)
	})
}

func (c *Callback) attached() *Router {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.router
}

// take returns the router, clearing it when detach is set.
func (c *Callback) take(detach bool) *Router {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.router
	if detach {
		c.router = nil
	}
	return r
}

func (c *Callback) detach() {
	c.mu.Lock()
	c.router = nil
	c.mu.Unlock()
}
