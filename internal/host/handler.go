package host

import (
	"context"

	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/wire"
)

// HandlerID identifies a registered handler. Prepended handlers receive
// negative ids, appended handlers non-negative ones.
type HandlerID int

// Browser is the origin a query belongs to.
type Browser interface {
	Identifier() int32
}

// Frame is the sub-origin that issued a query and receives its responses.
type Frame interface {
	IsMain() bool
	// SendMessage delivers msg to the content process. The frame takes
	// ownership of msg and of any region it carries.
	SendMessage(msg *wire.Message) error
}

// Query is one inbound query offered to the handler chain.
type Query struct {
	Browser    Browser
	Frame      Frame
	ID         int64
	Request    wire.Payload
	Persistent bool
	Callback   *Callback
}

// Handler is offered every inbound query in chain order.
type Handler interface {
	// OnQuery returns true to claim q. A claiming handler must eventually
	// resolve q.Callback, synchronously or later from any goroutine.
	OnQuery(ctx context.Context, q *Query) bool
	// OnQueryCanceled is called when a claimed query is canceled before it
	// was resolved. The callback is already detached.
	OnQueryCanceled(ctx context.Context, browser Browser, frame Frame, queryID int64)
}

// HandlerFuncs adapts plain functions to Handler. A nil Query never claims;
// a nil Canceled ignores cancellation.
type HandlerFuncs struct {
	Query    func(ctx context.Context, q *Query) bool
	Canceled func(ctx context.Context, browser Browser, frame Frame, queryID int64)
}

func (h HandlerFuncs) OnQuery(ctx context.Context, q *Query) bool {
	if h.Query == nil {
		return false
	}
	return h.Query(ctx, q)
}

func (h HandlerFuncs) OnQueryCanceled(ctx context.Context, browser Browser, frame Frame, queryID int64) {
	if h.Canceled != nil {
		h.Canceled(ctx, browser, frame, queryID)
	}
}
