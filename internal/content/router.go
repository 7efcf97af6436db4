package content

import (
	"context"
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

// requestInfo is the record of an issued query.
type requestInfo struct {
	persistent bool
	onSuccess  Value
	onFailure  Value
}

// requestKey packs a (context id, request id) pair into a map key.
func requestKey(contextID, requestID int32) int64 {
	return int64(contextID)<<32 | int64(uint32(requestID))
}

func splitKey(key int64) (contextID, requestID int32) {
	return int32(key >> 32), int32(uint32(key))
}

// Router is the content side of the query router.
type Router struct {
	id             id.RouterID
	runner         sequence.Runner
	queryFunction  string
	cancelFunction string
	queryName      string
	cancelName     string
	threshold      int
	alloc          wire.Allocator
	logger         *zap.Logger
	metrics        *monitoring.RouterMetrics

	mu         sync.Mutex
	contexts   map[int32]ScriptContext
	contextIDs *id.Allocator[int32]
	requestIDs *id.Allocator[int32]
	pending    *keyedmap.Map[int64, *requestInfo]
}

// New creates a router whose state is owned by runner. cfg must match the
// configuration of the host router it talks to.
func New(cfg config.RouterConfig, runner sequence.Runner) *Router {
	threshold := cfg.MessageSizeThreshold
	if threshold <= 0 {
		threshold = wire.DefaultThreshold
	}
	return &Router{
		id:             id.NewContentRouterID(),
		runner:         runner,
		queryFunction:  cfg.QueryFunction,
		cancelFunction: cfg.CancelFunction,
		queryName:      cfg.QueryMessageName(),
		cancelName:     cfg.CancelMessageName(),
		threshold:      threshold,
		alloc:          wire.HeapAllocator{},
		logger:         zap.NewNop(),
		contexts:       make(map[int32]ScriptContext),
		contextIDs:     id.NewAllocator[int32](math.MaxInt32),
		requestIDs:     id.NewAllocator[int32](math.MaxInt32),
		pending:        keyedmap.New[int64, *requestInfo](),
	}
}

// WithLogger sets the logger. Call before the router is used.
func (r *Router) WithLogger(logger *zap.Logger) *Router {
	r.logger = logger.Named("content").With(zap.String("router_id", r.id.String()))
	return r
}

// WithMetrics sets the metrics sink. Call before the router is used.
func (r *Router) WithMetrics(metrics *monitoring.RouterMetrics) *Router {
	r.metrics = metrics
	return r
}

// WithAllocator sets the allocator for region-backed queries. Call before
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

// OnContextCreated binds the query and cancel functions into sc.
func (r *Router) OnContextCreated(ctx context.Context, sc ScriptContext) error {
	if !r.onOwner(ctx, "OnContextCreated") {
		return ErrWrongSequence
	}
	err := sc.Bind(r.queryFunction, func(ctx context.Context, args []Value) (Value, error) {
		requestID, err := r.Issue(ctx, sc, args)
		if err != nil {
			return nil, err
		}
		return sc.NewInt(requestID), nil
	})
	if err != nil {
		return err
	}
	return sc.Bind(r.cancelFunction, func(ctx context.Context, args []Value) (Value, error) {
		ok, err := r.Cancel(ctx, sc, args)
		if err != nil {
			return nil, err
		}
		return sc.NewBool(ok), nil
	})
}

// Issue validates the query object passed from script, records the request
// and sends it to the host. It returns the new request id, or the reserved
// id when sc has no browser or frame to send through.
func (r *Router) Issue(ctx context.Context, sc ScriptContext, args []Value) (int32, error) {
	if len(args) != 1 || args[0] == nil || !args[0].IsObject() {
		return wire.ReservedID, malformed("expecting a single object")
	}
	arg := args[0]

	request, ok := arg.Member(memberRequest)
	if !ok {
		return wire.ReservedID, malformed("object member '%s' is required", memberRequest)
	}
	if !request.IsString() && !request.IsArrayBuffer() {
		return wire.ReservedID, malformed("object member '%s' must have type string or ArrayBuffer", memberRequest)
	}

	info := &requestInfo{}
	if v, ok := arg.Member(memberOnSuccess); ok {
		if !v.IsFunction() {
			return wire.ReservedID, malformed("object member '%s' must have type function", memberOnSuccess)
		}
		info.onSuccess = v
	}
	if v, ok := arg.Member(memberOnFailure); ok {
		if !v.IsFunction() {
			return wire.ReservedID, malformed("object member '%s' must have type function", memberOnFailure)
		}
		info.onFailure = v
	}
	if v, ok := arg.Member(memberPersistent); ok {
		if !v.IsBool() {
			return wire.ReservedID, malformed("object member '%s' must have type boolean", memberPersistent)
		}
		info.persistent = v.BoolValue()
	}

	if !r.onOwner(ctx, "Issue") {
		return wire.ReservedID, ErrWrongSequence
	}

	browser, frame := sc.Browser(), sc.Frame()
	if browser == nil || frame == nil {
		return wire.ReservedID, nil
	}

	var payload wire.Payload
	switch {
	case request.IsString():
		payload = wire.TextPayload(request.StringValue())
	default:
		if data := request.BytesValue(); len(data) > 0 {
			payload = wire.BinaryPayload(append([]byte(nil), data...))
		} else {
			payload = wire.EmptyPayload()
		}
	}

	r.mu.Lock()
	contextID := r.contextIDLocked(sc, true)
	requestID := r.requestIDs.Next()
	r.pending.Insert(browser.Identifier(), requestKey(contextID, requestID), info)
	r.metrics.SetPending(r.pending.Len())
	r.mu.Unlock()

	r.logger.Debug("Query issued",
		append(logging.Query(browser.Identifier(), contextID, requestID),
			zap.Bool("persistent", info.persistent), zap.Int("size", payload.Size()))...)

	builder := wire.NewQueryBuilder(r.threshold, r.alloc, r.queryName, payload)
	msg, err := builder.BuildQuery(contextID, requestID, info.persistent)
	if err != nil {
		r.logger.Error("Failed to build query", zap.Error(err))
		return requestID, nil
	}
	r.send(frame, msg, builder.Mode())
	return requestID, nil
}

// Cancel cancels the request whose id script passes, or every request of sc
// when the id is the reserved id. It reports whether anything was canceled.
func (r *Router) Cancel(ctx context.Context, sc ScriptContext, args []Value) (bool, error) {
	if len(args) != 1 || args[0] == nil || !args[0].IsInt() {
		return false, malformed("expecting a single integer")
	}
	if !r.onOwner(ctx, "Cancel") {
		return false, ErrWrongSequence
	}

	r.mu.Lock()
	contextID := r.contextIDLocked(sc, true)
	r.mu.Unlock()

	return r.sendCancel(sc.Browser(), sc.Frame(), contextID, args[0].IntValue(), monitoring.ReasonScriptCancel), nil
}

// OnContextReleased forgets sc and cancels all of its pending requests. The
// host is notified; script is not.
func (r *Router) OnContextReleased(ctx context.Context, sc ScriptContext) {
	if !r.onOwner(ctx, "OnContextReleased") {
		return
	}

	r.mu.Lock()
	contextID := r.contextIDLocked(sc, false)
	if contextID != wire.ReservedID {
		delete(r.contexts, contextID)
	}
	r.mu.Unlock()

	if contextID == wire.ReservedID {
		return
	}
	r.sendCancel(sc.Browser(), sc.Frame(), contextID, wire.ReservedID, monitoring.ReasonContextReleased)
}

// PendingCount returns the number of pending requests of browser and sc.
// Either may be nil to widen the selection.
func (r *Router) PendingCount(ctx context.Context, browser Browser, sc ScriptContext) int {
	if !r.onOwner(ctx, "PendingCount") {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending.Empty() {
		return 0
	}

	if sc != nil {
		contextID := r.contextIDLocked(sc, false)
		if contextID == wire.ReservedID {
			return 0
		}
		count := 0
		visitor := func(_ int32, key int64, _ *requestInfo) keyedmap.Verdict {
			if c, _ := splitKey(key); c == contextID {
				count++
			}
			return keyedmap.Keep
		}
		if browser != nil {
			r.pending.FindInBrowser(browser.Identifier(), visitor)
		} else {
			r.pending.FindAll(visitor)
		}
		return count
	}

	if browser != nil {
		return r.pending.BrowserLen(browser.Identifier())
	}
	return r.pending.Len()
}

// OnProcessMessageReceived dispatches a response from the host to the
// script callbacks of the originating context. It reports whether the
// message belonged to this router.
func (r *Router) OnProcessMessageReceived(ctx context.Context, browser Browser, msg *wire.Message) bool {
	if msg == nil {
		return true
	}
	if msg.Name != r.queryName {
		return false
	}
	if !r.onOwner(ctx, "OnProcessMessageReceived") {
		return true
	}

	resp, err := wire.DecodeResponse(msg)
	_ = msg.Release()
	if err != nil {
		r.logger.Warn("Malformed response", zap.Error(err))
		r.metrics.RecordQuery(monitoring.OutcomeMalformed)
		return true
	}
	if browser == nil {
		return true
	}

	if resp.Success {
		r.executeSuccess(ctx, browser.Identifier(), resp)
	} else {
		r.executeFailure(ctx, browser.Identifier(), resp)
	}
	return true
}

func (r *Router) executeSuccess(ctx context.Context, browserID int32, resp wire.Response) {
	info, sc, ok := r.takeRequest(browserID, resp.ContextID, resp.RequestID, false)
	if !ok {
		r.metrics.RecordQuery(monitoring.OutcomeDropped)
		return
	}
	r.metrics.RecordQuery(monitoring.OutcomeSuccess)
	if info.onSuccess == nil {
		return
	}
	if sc == nil || !sc.Enter() {
		r.logger.Debug("Response for released context dropped", logging.Query(browserID, resp.ContextID, resp.RequestID)...)
		return
	}
	arg := sc.NewArrayBuffer(resp.Payload.Bytes())
	sc.Exit()

	if err := info.onSuccess.Call(ctx, sc, arg); err != nil {
		r.logger.Warn("Success callback failed",
			append(logging.Query(browserID, resp.ContextID, resp.RequestID), zap.Error(err))...)
	}
}

func (r *Router) executeFailure(ctx context.Context, browserID int32, resp wire.Response) {
	info, sc, ok := r.takeRequest(browserID, resp.ContextID, resp.RequestID, true)
	if !ok {
		r.metrics.RecordQuery(monitoring.OutcomeDropped)
		return
	}
	r.metrics.RecordQuery(monitoring.OutcomeFailure)
	if info.onFailure == nil {
		return
	}
	if sc == nil {
		r.logger.Debug("Response for released context dropped", logging.Query(browserID, resp.ContextID, resp.RequestID)...)
		return
	}

	err := info.onFailure.Call(ctx, sc, sc.NewInt(resp.ErrorCode), sc.NewString(resp.ErrorMessage))
	if err != nil {
		r.logger.Warn("Failure callback failed",
			append(logging.Query(browserID, resp.ContextID, resp.RequestID), zap.Error(err))...)
	}
}

// takeRequest looks up a pending request, removing it unless it is
// persistent and alwaysRemove is unset, and returns the context it belongs
// to.
func (r *Router) takeRequest(browserID, contextID, requestID int32, alwaysRemove bool) (*requestInfo, ScriptContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.pending.Find(browserID, requestKey(contextID, requestID), func(_ int32, _ int64, info *requestInfo) keyedmap.Verdict {
		if alwaysRemove || !info.persistent {
			return keyedmap.Remove
		}
		return keyedmap.Keep
	})
	r.metrics.SetPending(r.pending.Len())
	if !ok {
		return nil, nil, false
	}
	return info, r.contexts[contextID], true
}

// sendCancel drops matching local records and, when any matched, tells the
// host to cancel them too.
func (r *Router) sendCancel(browser Browser, frame Frame, contextID, requestID int32, reason string) bool {
	if browser == nil || frame == nil {
		return false
	}
	browserID := browser.Identifier()

	canceled := 0
	r.mu.Lock()
	if requestID != wire.ReservedID {
		if _, ok := r.pending.Find(browserID, requestKey(contextID, requestID), func(int32, int64, *requestInfo) keyedmap.Verdict {
			return keyedmap.Remove
		}); ok {
			canceled = 1
		}
	} else {
		r.pending.FindInBrowser(browserID, func(_ int32, key int64, _ *requestInfo) keyedmap.Verdict {
			if c, _ := splitKey(key); c == contextID {
				canceled++
				return keyedmap.Remove
			}
			return keyedmap.Keep
		})
	}
	r.metrics.SetPending(r.pending.Len())
	r.mu.Unlock()

	if canceled == 0 {
		return false
	}
	r.metrics.RecordCancel(reason, canceled)
	r.logger.Debug("Requests canceled",
		append(logging.Query(browserID, contextID, requestID), zap.Int("count", canceled))...)

	r.send(frame, wire.NewCancelMessage(r.cancelName, contextID, requestID), wire.ModeInline)
	return true
}

// contextIDLocked returns the id registered for sc. When create is set an
// unknown context is registered under a fresh id; otherwise the reserved id
// is returned.
func (r *Router) contextIDLocked(sc ScriptContext, create bool) int32 {
	for contextID, known := range r.contexts {
		if known.IsSame(sc) {
			return contextID
		}
	}
	if !create {
		return wire.ReservedID
	}
	contextID := r.contextIDs.Next()
	r.contexts[contextID] = sc
	return contextID
}

func (r *Router) send(frame Frame, msg *wire.Message, mode wire.Mode) {
	if err := frame.SendMessage(msg); err != nil {
		r.logger.Warn("Failed to send message", zap.String("message", msg.Name), zap.Error(err))
		return
	}
	r.metrics.RecordMessage(msg.Name, mode.String())
}
