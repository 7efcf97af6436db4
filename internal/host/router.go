package host

import (
	"context"
	"errors"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/keyedmap"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/sequence"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/wire"
)

var (
	// ErrNilHandler is returned by AddHandler for a nil handler.
	ErrNilHandler = errors.New("handler is nil")
	// ErrWrongSequence is returned when an owner-only method is called from
	// outside the router's runner.
	ErrWrongSequence = errors.New("called outside the owning sequence")
)

// queryInfo is the record of a claimed query.
type queryInfo struct {
	browser    Browser
	frame      Frame
	contextID  int32
	requestID  int32
	persistent bool
	callback   *Callback
	handlerID  HandlerID
	handler    Handler
}

type canceledQuery struct {
	queryID int64
	info    *queryInfo
}

// Scope selects pending queries. The zero Scope selects every query of every
// browser; setting Browser and Handler narrows to their intersection.
type Scope struct {
	Browser Browser
	Handler *HandlerID
}

// HandlerScope selects the queries claimed by handler across all browsers.
func HandlerScope(handler HandlerID) Scope {
	return Scope{Handler: &handler}
}

// Router is the host side of the query router.
type Router struct {
	id         id.RouterID
	runner     sequence.Runner
	queryName  string
	cancelName string
	threshold  int
	alloc      wire.Allocator
	logger     *zap.Logger
	metrics    *monitoring.RouterMetrics

	mu       sync.Mutex
	handlers handlerChain
	queryIDs *id.Allocator[int64]
	pending  *keyedmap.Map[int64, *queryInfo]
}

// New creates a router whose state is owned by runner. cfg must match the
// configuration of the content router it talks to.
func New(cfg config.RouterConfig, runner sequence.Runner) *Router {
	threshold := cfg.MessageSizeThreshold
	if threshold <= 0 {
		threshold = wire.DefaultThreshold
	}
	return &Router{
		id:         id.NewHostRouterID(),
		runner:     runner,
		queryName:  cfg.QueryMessageName(),
		cancelName: cfg.CancelMessageName(),
		threshold:  threshold,
		alloc:      wire.HeapAllocator{},
		logger:     zap.NewNop(),
		queryIDs:   id.NewAllocator[int64](math.MaxInt64),
		pending:    keyedmap.New[int64, *queryInfo](),
	}
}

// WithLogger sets the logger. Call before the router is used.
func (r *Router) WithLogger(logger *zap.Logger) *Router {
	r.logger = logger.Named("host").With(zap.String("router_id", r.id.String()))
	return r
}

// WithMetrics sets the metrics sink. Call before the router is used.
func (r *Router) WithMetrics(metrics *monitoring.RouterMetrics) *Router {
	r.metrics = metrics
	return r
}

// WithAllocator sets the allocator for region-backed responses. Call before
// the router is used.
func (r *Router) WithAllocator(alloc wire.Allocator) *Router {
	r.alloc = alloc
	return r
}

// ID returns the router's instance id.
func (r *Router) ID() id.RouterID { return r.id }

func (r *Router) onOwner(ctx context.Context, op string) bool {
	if r.runner.CurrentlyOn(ctx) {
		return true
	}
	r.logger.DPanic("Router method called outside its sequence", zap.String("op", op))
	return false
}

// AddHandler registers h at the front of the chain when first is set,
// otherwise at the back.
func (r *Router) AddHandler(ctx context.Context, h Handler, first bool) (HandlerID, error) {
	if h == nil {
		return 0, ErrNilHandler
	}
	if !r.onOwner(ctx, "AddHandler") {
		return 0, ErrWrongSequence
	}

	r.mu.Lock()
	handlerID := r.handlers.add(h, first)
	r.metrics.SetHandlers(r.handlers.count())
	r.mu.Unlock()

	r.logger.Debug("Handler added", zap.Int("handler_id", int(handlerID)), zap.Bool("first", first))
	return handlerID, nil
}

// RemoveHandler unregisters the handler with handlerID and cancels every
// query it claimed, notifying both the handler and the content side. It
// reports whether a handler was registered under handlerID.
func (r *Router) RemoveHandler(ctx context.Context, handlerID HandlerID) bool {
	if !r.onOwner(ctx, "RemoveHandler") {
		return false
	}

	r.mu.Lock()
	h := r.handlers.remove(handlerID)
	r.metrics.SetHandlers(r.handlers.count())
	r.mu.Unlock()

	if h == nil {
		return false
	}
	r.logger.Debug("Handler removed", zap.Int("handler_id", int(handlerID)))
	r.cancelPendingFor(ctx, nil, &handlerID, true, monitoring.ReasonHandlerRemoved)
	return true
}

// CancelPending cancels the queries selected by scope, notifying the
// claiming handlers and the content side. An unknown handler id selects
// nothing. It may be called from any goroutine.
func (r *Router) CancelPending(ctx context.Context, scope Scope) {
	if !r.runner.CurrentlyOn(ctx) {
		r.runner.PostTask(func(ctx context.Context) { r.CancelPending(ctx, scope) })
		return
	}

	if scope.Handler != nil {
		r.mu.Lock()
		registered := r.handlers.get(*scope.Handler) != nil
		r.mu.Unlock()
		if !registered {
			return
		}
	}
	r.cancelPendingFor(ctx, scope.Browser, scope.Handler, true, monitoring.ReasonCancelPending)
}

// PendingCount returns the number of queries selected by scope.
func (r *Router) PendingCount(ctx context.Context, scope Scope) int {
	if !r.onOwner(ctx, "PendingCount") {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending.Empty() {
		return 0
	}

	if scope.Handler != nil {
		if r.handlers.get(*scope.Handler) == nil {
			return 0
		}
		count := 0
		visitor := func(_ int32, _ int64, info *queryInfo) keyedmap.Verdict {
			if info.handlerID == *scope.Handler {
				count++
			}
			return keyedmap.Keep
		}
		if scope.Browser != nil {
			r.pending.FindInBrowser(scope.Browser.Identifier(), visitor)
		} else {
			r.pending.FindAll(visitor)
		}
		return count
	}

	if scope.Browser != nil {
		return r.pending.BrowserLen(scope.Browser.Identifier())
	}
	return r.pending.Len()
}

// OnProcessMessageReceived dispatches a message from the content side. It
// reports whether the message belonged to this router.
func (r *Router) OnProcessMessageReceived(ctx context.Context, browser Browser, frame Frame, msg *wire.Message) bool {
	if msg == nil {
		return false
	}
	switch msg.Name {
	case r.queryName:
		if r.onOwner(ctx, "OnProcessMessageReceived") {
			r.handleQuery(ctx, browser, frame, msg)
		}
		return true
	case r.cancelName:
		if r.onOwner(ctx, "OnProcessMessageReceived") {
			r.handleCancel(ctx, browser, msg)
		}
		return true
	default:
		return false
	}
}

func (r *Router) handleQuery(ctx context.Context, browser Browser, frame Frame, msg *wire.Message) {
	q, err := wire.DecodeQuery(msg)
	_ = msg.Release()
	if err != nil {
		r.logger.Warn("Malformed query", zap.Error(err))
		r.metrics.RecordQuery(monitoring.OutcomeMalformed)
		if q.ContextID != wire.ReservedID || q.RequestID != wire.ReservedID {
			r.sendCanceled(frame, q.ContextID, q.RequestID)
		}
		return
	}

	r.mu.Lock()
	if browser == nil || r.handlers.empty() {
		r.mu.Unlock()
		r.metrics.RecordQuery(monitoring.OutcomeUnhandled)
		r.sendCanceled(frame, q.ContextID, q.RequestID)
		return
	}
	queryID := r.queryIDs.Next()
	chain := r.handlers.snapshot()
	r.mu.Unlock()

	browserID := browser.Identifier()
	fields := append(logging.Query(browserID, q.ContextID, q.RequestID), logging.QueryID(queryID))
	r.logger.Debug("Query received", fields...)

	callback := newCallback(r, browserID, queryID, q.Persistent)
	query := &Query{
		Browser:    browser,
		Frame:      frame,
		ID:         queryID,
		Request:    q.Payload,
		Persistent: q.Persistent,
		Callback:   callback,
	}

	var claimed *chainEntry
	for i := range chain {
		if chain[i].handler.OnQuery(ctx, query) {
			claimed = &chain[i]
			break
		}
	}

	if claimed == nil {
		callback.detach()
		r.logger.Debug("Query not handled", fields...)
		r.metrics.RecordQuery(monitoring.OutcomeUnhandled)
		r.sendCanceled(frame, q.ContextID, q.RequestID)
		return
	}

	info := &queryInfo{
		browser:    browser,
		frame:      frame,
		contextID:  q.ContextID,
		requestID:  q.RequestID,
		persistent: q.Persistent,
		callback:   callback,
		handlerID:  claimed.id,
		handler:    claimed.handler,
	}

	r.mu.Lock()
	stillRegistered := r.handlers.get(claimed.id) != nil
	if stillRegistered {
		r.pending.Insert(browserID, queryID, info)
		r.metrics.SetPending(r.pending.Len())
	}
	r.mu.Unlock()

	if !stillRegistered {
		// The handler removed itself while claiming.
		callback.detach()
		r.cancelQuery(ctx, queryID, info, true)
		r.metrics.RecordCancel(monitoring.ReasonHandlerRemoved, 1)
	}
}

func (r *Router) handleCancel(ctx context.Context, browser Browser, msg *wire.Message) {
	c, err := wire.DecodeCancel(msg)
	if err != nil {
		r.logger.Warn("Malformed cancel", zap.Error(err))
		return
	}
	if browser == nil {
		return
	}
	r.cancelPendingRequest(ctx, browser.Identifier(), c.ContextID, c.RequestID)
}

func (r *Router) onCallbackSuccess(ctx context.Context, browserID int32, queryID int64, builder *wire.Builder) {
	if !r.onOwner(ctx, "Callback.Success") {
		builder.Discard()
		return
	}

	r.mu.Lock()
	info, ok := r.pending.Find(browserID, queryID, func(_ int32, _ int64, info *queryInfo) keyedmap.Verdict {
		if info.persistent {
			return keyedmap.Keep
		}
		return keyedmap.Remove
	})
	r.metrics.SetPending(r.pending.Len())
	r.mu.Unlock()

	if !ok {
		builder.Discard()
		r.metrics.RecordQuery(monitoring.OutcomeDropped)
		return
	}

	msg, err := builder.BuildResponse(info.contextID, info.requestID)
	if err == nil {
		err = r.send(info.frame, msg, builder.Mode())
	}
	if err != nil {
		r.failUndelivered(ctx, browserID, queryID, info, err)
		return
	}
	r.metrics.RecordQuery(monitoring.OutcomeSuccess)
}

// failUndelivered answers a query whose success response could not be built
// or sent with an inline failure instead. A persistent query ends here and
// its handler is told it was canceled.
func (r *Router) failUndelivered(ctx context.Context, browserID int32, queryID int64, info *queryInfo, err error) {
	r.logger.Warn("Response undeliverable, failing query",
		append(logging.Query(browserID, info.contextID, info.requestID),
			logging.QueryID(queryID), zap.Error(err))...)

	if info.persistent {
		r.mu.Lock()
		_, removed := r.pending.Find(browserID, queryID, func(int32, int64, *queryInfo) keyedmap.Verdict {
			return keyedmap.Remove
		})
		r.metrics.SetPending(r.pending.Len())
		r.mu.Unlock()

		if removed {
			info.callback.detach()
			info.handler.OnQueryCanceled(ctx, info.browser, info.frame, queryID)
		}
	}

	r.metrics.RecordQuery(monitoring.OutcomeFailure)
	failure := wire.NewFailureMessage(r.queryName, info.contextID, info.requestID, wire.UndeliveredCode, wire.UndeliveredMessage)
	_ = r.send(info.frame, failure, wire.ModeInline)
}

func (r *Router) onCallbackFailure(ctx context.Context, browserID int32, queryID int64, code int32, message string) {
	if !r.onOwner(ctx, "Callback.Failure") {
		return
	}

	r.mu.Lock()
	info, ok := r.pending.Find(browserID, queryID, func(int32, int64, *queryInfo) keyedmap.Verdict {
		return keyedmap.Remove
	})
	r.metrics.SetPending(r.pending.Len())
	r.mu.Unlock()

	if !ok {
		r.metrics.RecordQuery(monitoring.OutcomeDropped)
		return
	}
	r.metrics.RecordQuery(monitoring.OutcomeFailure)
	_ = r.send(info.frame, wire.NewFailureMessage(r.queryName, info.contextID, info.requestID, code, message), wire.ModeInline)
}

// cancelPendingFor cancels every query of browser (all browsers when nil)
// claimed by handler (any handler when nil). It hops onto the runner when
// called from elsewhere.
func (r *Router) cancelPendingFor(ctx context.Context, browser Browser, handler *HandlerID, notify bool, reason string) {
	if !r.runner.CurrentlyOn(ctx) {
		r.runner.PostTask(func(ctx context.Context) {
			r.cancelPendingFor(ctx, browser, handler, notify, reason)
		})
		return
	}

	var canceled []canceledQuery
	visitor := func(_ int32, queryID int64, info *queryInfo) keyedmap.Verdict {
		if handler != nil && info.handlerID != *handler {
			return keyedmap.Keep
		}
		info.callback.detach()
		canceled = append(canceled, canceledQuery{queryID: queryID, info: info})
		return keyedmap.Remove
	}

	r.mu.Lock()
	if browser != nil {
		r.pending.FindInBrowser(browser.Identifier(), visitor)
	} else {
		r.pending.FindAll(visitor)
	}
	r.metrics.SetPending(r.pending.Len())
	r.mu.Unlock()

	r.metrics.RecordCancel(reason, len(canceled))
	for _, c := range canceled {
		r.cancelQuery(ctx, c.queryID, c.info, notify)
	}
}

// cancelPendingRequest cancels by content-side ids. The reserved request id
// selects every request of the context.
func (r *Router) cancelPendingRequest(ctx context.Context, browserID, contextID, requestID int32) {
	var canceled []canceledQuery

	r.mu.Lock()
	r.pending.FindInBrowser(browserID, func(_ int32, queryID int64, info *queryInfo) keyedmap.Verdict {
		if info.contextID != contextID {
			return keyedmap.Keep
		}
		if requestID == wire.ReservedID {
			info.callback.detach()
			canceled = append(canceled, canceledQuery{queryID: queryID, info: info})
			return keyedmap.Remove
		}
		if info.requestID != requestID {
			return keyedmap.Keep
		}
		info.callback.detach()
		canceled = append(canceled, canceledQuery{queryID: queryID, info: info})
		return keyedmap.RemoveAndStop
	})
	r.metrics.SetPending(r.pending.Len())
	r.mu.Unlock()

	r.metrics.RecordCancel(monitoring.ReasonRemoteCancel, len(canceled))
	for _, c := range canceled {
		r.cancelQuery(ctx, c.queryID, c.info, false)
	}
}

// cancelQuery notifies the content side when asked, then the handler. The
// record must already be removed and its callback detached.
func (r *Router) cancelQuery(ctx context.Context, queryID int64, info *queryInfo, notify bool) {
	r.logger.Debug("Query canceled",
		append(logging.Query(info.browser.Identifier(), info.contextID, info.requestID),
			logging.QueryID(queryID), zap.Bool("notify", notify))...)

	if notify {
		r.sendCanceled(info.frame, info.contextID, info.requestID)
	}
	info.handler.OnQueryCanceled(ctx, info.browser, info.frame, queryID)
}

func (r *Router) sendCanceled(frame Frame, contextID, requestID int32) {
	_ = r.send(frame, wire.NewCanceledMessage(r.queryName, contextID, requestID), wire.ModeInline)
}

func (r *Router) send(frame Frame, msg *wire.Message, mode wire.Mode) error {
	if frame == nil {
		_ = msg.Release()
		return nil
	}
	if err := frame.SendMessage(msg); err != nil {
		r.logger.Warn("Failed to send response", zap.String("message", msg.Name), zap.Error(err))
		return err
	}
	r.metrics.RecordMessage(msg.Name, mode.String())
	return nil
}
