package host_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/host"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/sequence"
	fake "github.com/GriffinCanCode/AgentOS/queryrouter/internal/testutil"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/wire"
)

const (
	queryMsg  = "cefQueryMsg"
	cancelMsg = "cefQueryCancelMsg"
)

var errFrameTooLarge = errors.New("frame too large")

type fixture struct {
	t       *testing.T
	loop    *sequence.Loop
	ctx     context.Context
	router  *host.Router
	browser fake.Browser
	frame   *fake.Frame
	metrics *monitoring.RouterMetrics
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithConfig(t, config.DefaultRouterConfig())
}

func newFixtureWithConfig(t *testing.T, cfg config.RouterConfig) *fixture {
	t.Helper()
	loop := sequence.NewLoop("host")
	metrics := monitoring.NewRouterMetrics(prometheus.NewRegistry(), "host")
	return &fixture{
		t:       t,
		loop:    loop,
		ctx:     loop.Context(),
		router:  host.New(cfg, loop).WithLogger(zaptest.NewLogger(t)).WithMetrics(metrics),
		browser: fake.Browser(1),
		frame:   fake.NewFrame(true),
		metrics: metrics,
	}
}

func (f *fixture) query(contextID, requestID int32, payload wire.Payload, persistent bool) {
	f.t.Helper()
	msg := fake.QueryMessage(queryMsg, contextID, requestID, payload, persistent)
	require.True(f.t, f.router.OnProcessMessageReceived(f.ctx, f.browser, f.frame, msg))
}

func (f *fixture) cancel(contextID, requestID int32) {
	f.t.Helper()
	msg := wire.NewCancelMessage(cancelMsg, contextID, requestID)
	require.True(f.t, f.router.OnProcessMessageReceived(f.ctx, f.browser, f.frame, msg))
}

func (f *fixture) addHandler(h host.Handler, first bool) host.HandlerID {
	f.t.Helper()
	handlerID, err := f.router.AddHandler(f.ctx, h, first)
	require.NoError(f.t, err)
	return handlerID
}

// claimAll returns a handler that claims every query and keeps its callback.
func claimAll(claimed *[]*host.Query) *fake.MockHandler {
	h := new(fake.MockHandler)
	h.On("OnQuery", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			*claimed = append(*claimed, args.Get(1).(*host.Query))
		}).
		Return(true)
	h.On("OnQueryCanceled", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return()
	return h
}

func assertCanceled(t *testing.T, r wire.Response, contextID, requestID int32) {
	t.Helper()
	assert.False(t, r.Success)
	assert.Equal(t, contextID, r.ContextID)
	assert.Equal(t, requestID, r.RequestID)
	assert.Equal(t, wire.CanceledCode, r.ErrorCode)
	assert.Equal(t, wire.CanceledMessage, r.ErrorMessage)
}

func TestQueryWithoutHandlers(t *testing.T) {
	f := newFixture(t)
	f.query(1, 1, wire.TextPayload("ping"), false)

	responses := f.frame.Responses(t)
	require.Len(t, responses, 1)
	assertCanceled(t, responses[0], 1, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Queries.WithLabelValues(monitoring.OutcomeUnhandled)))
}

func TestQueryNotClaimed(t *testing.T) {
	f := newFixture(t)
	h := fake.NewMockHandler(t)
	f.addHandler(h, false)

	f.query(2, 5, wire.TextPayload("ping"), false)

	responses := f.frame.Responses(t)
	require.Len(t, responses, 1)
	assertCanceled(t, responses[0], 2, 5)
	h.AssertNumberOfCalls(t, "OnQuery", 1)
	assert.Zero(t, f.router.PendingCount(f.ctx, host.Scope{}))
}

func TestSecondHandlerClaimsAndSucceeds(t *testing.T) {
	f := newFixture(t)
	var order []string

	f.addHandler(host.HandlerFuncs{Query: func(ctx context.Context, q *host.Query) bool {
		order = append(order, "a")
		return false
	}}, false)
	f.addHandler(host.HandlerFuncs{Query: func(ctx context.Context, q *host.Query) bool {
		order = append(order, "b")
		assert.Equal(t, "ping", q.Request.Text())
		q.Callback.Success("pong")
		return true
	}}, false)

	f.query(1, 7, wire.TextPayload("ping"), false)
	assert.Empty(t, f.frame.Messages(), "responses are delivered from a posted task")
	f.loop.RunUntilIdle()

	assert.Equal(t, []string{"a", "b"}, order)
	responses := f.frame.Responses(t)
	require.Len(t, responses, 1)
	assert.True(t, responses[0].Success)
	assert.Equal(t, int32(1), responses[0].ContextID)
	assert.Equal(t, int32(7), responses[0].RequestID)
	assert.Equal(t, "pong", responses[0].Payload.Text())
	assert.Zero(t, f.router.PendingCount(f.ctx, host.Scope{}))
}

func TestPrependedHandlersRunFirst(t *testing.T) {
	f := newFixture(t)
	var order []string
	record := func(name string) host.Handler {
		return host.HandlerFuncs{Query: func(context.Context, *host.Query) bool {
			order = append(order, name)
			return false
		}}
	}

	assert.Equal(t, host.HandlerID(0), f.addHandler(record("appended"), false))
	assert.Equal(t, host.HandlerID(-1), f.addHandler(record("first"), true))
	assert.Equal(t, host.HandlerID(-2), f.addHandler(record("second"), true))

	f.query(1, 1, wire.EmptyPayload(), false)
	assert.Equal(t, []string{"second", "first", "appended"}, order)
}

func TestSingleShotResolvedTwice(t *testing.T) {
	f := newFixture(t)
	var claimed []*host.Query
	f.addHandler(claimAll(&claimed), false)

	f.query(1, 1, wire.TextPayload("ping"), false)
	require.Len(t, claimed, 1)
	assert.Equal(t, 1, f.router.PendingCount(f.ctx, host.Scope{}))

	claimed[0].Callback.Success("first")
	claimed[0].Callback.Success("second")
	claimed[0].Callback.Failure(5, "late")
	f.loop.RunUntilIdle()

	responses := f.frame.Responses(t)
	require.Len(t, responses, 1)
	assert.Equal(t, "first", responses[0].Payload.Text())
	assert.Zero(t, f.router.PendingCount(f.ctx, host.Scope{}))
}

func TestPersistentResolvedTwice(t *testing.T) {
	f := newFixture(t)
	var claimed []*host.Query
	h := claimAll(&claimed)
	f.addHandler(h, false)

	f.query(3, 4, wire.TextPayload("subscribe"), true)
	require.Len(t, claimed, 1)
	assert.True(t, claimed[0].Persistent)
	assert.True(t, claimed[0].Callback.Persistent())

	claimed[0].Callback.Success("one")
	claimed[0].Callback.Success("two")
	f.loop.RunUntilIdle()

	responses := f.frame.Responses(t)
	require.Len(t, responses, 2)
	assert.Equal(t, "one", responses[0].Payload.Text())
	assert.Equal(t, "two", responses[1].Payload.Text())
	assert.Equal(t, 1, f.router.PendingCount(f.ctx, host.Scope{}))

	f.cancel(3, 4)
	assert.Zero(t, f.router.PendingCount(f.ctx, host.Scope{}))
	h.AssertCalled(t, "OnQueryCanceled", mock.Anything, f.browser, f.frame, claimed[0].ID)
	assert.Len(t, f.frame.Messages(), 2, "remote cancel does not answer the content side")

	claimed[0].Callback.Success("three")
	f.loop.RunUntilIdle()
	assert.Len(t, f.frame.Messages(), 2)
}

func TestFailureRemovesPersistentQuery(t *testing.T) {
	f := newFixture(t)
	var claimed []*host.Query
	f.addHandler(claimAll(&claimed), false)

	f.query(1, 2, wire.TextPayload("watch"), true)
	claimed[0].Callback.Failure(404, "not found")
	f.loop.RunUntilIdle()

	responses := f.frame.Responses(t)
	require.Len(t, responses, 1)
	assert.False(t, responses[0].Success)
	assert.Equal(t, int32(404), responses[0].ErrorCode)
	assert.Equal(t, "not found", responses[0].ErrorMessage)
	assert.Zero(t, f.router.PendingCount(f.ctx, host.Scope{}))
}

func TestRemoveHandlerCancelsItsQueries(t *testing.T) {
	f := newFixture(t)
	var claimed []*host.Query
	h := claimAll(&claimed)
	handlerID := f.addHandler(h, false)

	f.query(1, 1, wire.TextPayload("ping"), false)
	require.Len(t, claimed, 1)

	assert.True(t, f.router.RemoveHandler(f.ctx, handlerID))
	h.AssertNumberOfCalls(t, "OnQueryCanceled", 1)

	responses := f.frame.Responses(t)
	require.Len(t, responses, 1)
	assertCanceled(t, responses[0], 1, 1)

	claimed[0].Callback.Success("too late")
	f.loop.RunUntilIdle()
	assert.Len(t, f.frame.Messages(), 1)

	assert.False(t, f.router.RemoveHandler(f.ctx, handlerID))
}

func TestCancelWithReservedRequestID(t *testing.T) {
	f := newFixture(t)
	var claimed []*host.Query
	h := claimAll(&claimed)
	f.addHandler(h, false)

	f.query(5, 1, wire.TextPayload("a"), true)
	f.query(5, 2, wire.TextPayload("b"), false)
	f.query(5, 3, wire.TextPayload("c"), true)
	f.query(6, 1, wire.TextPayload("other context"), false)
	require.Equal(t, 4, f.router.PendingCount(f.ctx, host.Scope{}))

	f.cancel(5, wire.ReservedID)

	h.AssertNumberOfCalls(t, "OnQueryCanceled", 3)
	assert.Equal(t, 1, f.router.PendingCount(f.ctx, host.Scope{}))
	assert.Empty(t, f.frame.Messages())
}

func TestCancelMatchesContextAndRequest(t *testing.T) {
	f := newFixture(t)
	var claimed []*host.Query
	h := claimAll(&claimed)
	f.addHandler(h, false)

	f.query(1, 9, wire.TextPayload("a"), false)
	f.query(2, 9, wire.TextPayload("b"), false)

	f.cancel(2, 9)
	h.AssertNumberOfCalls(t, "OnQueryCanceled", 1)
	h.AssertCalled(t, "OnQueryCanceled", mock.Anything, mock.Anything, mock.Anything, claimed[1].ID)

	claimed[0].Callback.Success("still alive")
	f.loop.RunUntilIdle()
	responses := f.frame.Responses(t)
	require.Len(t, responses, 1)
	assert.Equal(t, int32(1), responses[0].ContextID)
}

func TestCancelPendingScopes(t *testing.T) {
	f := newFixture(t)
	var claimedA, claimedB []*host.Query
	a := f.addHandler(claimAll(&claimedA), false)
	f.addHandler(host.HandlerFuncs{Query: func(ctx context.Context, q *host.Query) bool {
		if q.Request.Text() != "b" {
			return false
		}
		claimedB = append(claimedB, q)
		return true
	}}, true)

	other := fake.Browser(2)
	otherFrame := fake.NewFrame(true)

	f.query(1, 1, wire.TextPayload("a"), false)
	f.query(1, 2, wire.TextPayload("b"), false)
	require.True(t, f.router.OnProcessMessageReceived(f.ctx, other, otherFrame,
		fake.QueryMessage(queryMsg, 1, 1, wire.TextPayload("a"), false)))
	require.True(t, f.router.OnProcessMessageReceived(f.ctx, other, otherFrame,
		fake.QueryMessage(queryMsg, 1, 2, wire.TextPayload("b"), false)))

	assert.Equal(t, 4, f.router.PendingCount(f.ctx, host.Scope{}))
	assert.Equal(t, 2, f.router.PendingCount(f.ctx, host.Scope{Browser: other}))
	assert.Equal(t, 2, f.router.PendingCount(f.ctx, host.HandlerScope(a)))
	assert.Equal(t, 1, f.router.PendingCount(f.ctx, host.Scope{Browser: other, Handler: &a}))

	unknown := host.HandlerID(42)
	f.router.CancelPending(f.ctx, host.HandlerScope(unknown))
	assert.Equal(t, 4, f.router.PendingCount(f.ctx, host.Scope{}))
	assert.Zero(t, f.router.PendingCount(f.ctx, host.HandlerScope(unknown)))

	f.router.CancelPending(f.ctx, host.Scope{Browser: other, Handler: &a})
	assert.Equal(t, 3, f.router.PendingCount(f.ctx, host.Scope{}))
	require.Len(t, otherFrame.Responses(t), 1)
	assertCanceled(t, otherFrame.Responses(t)[0], 1, 1)

	f.router.CancelPending(f.ctx, host.Scope{Browser: other})
	assert.Equal(t, 2, f.router.PendingCount(f.ctx, host.Scope{}))

	f.router.CancelPending(f.ctx, host.Scope{})
	assert.Zero(t, f.router.PendingCount(f.ctx, host.Scope{}))
	assert.Len(t, f.frame.Responses(t), 2)
	assert.Len(t, claimedB, 2)
}

func TestCancelPendingFromAnotherGoroutine(t *testing.T) {
	f := newFixture(t)
	var claimed []*host.Query
	h := claimAll(&claimed)
	f.addHandler(h, false)
	f.query(1, 1, wire.TextPayload("a"), false)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.router.CancelPending(context.Background(), host.Scope{})
	}()
	wg.Wait()

	assert.Equal(t, 1, f.router.PendingCount(f.ctx, host.Scope{}), "cancel runs on the owning loop")
	f.loop.RunUntilIdle()
	assert.Zero(t, f.router.PendingCount(f.ctx, host.Scope{}))
	h.AssertNumberOfCalls(t, "OnQueryCanceled", 1)
}

func TestCallbackFromAnotherGoroutine(t *testing.T) {
	f := newFixture(t)
	var claimed []*host.Query
	f.addHandler(claimAll(&claimed), false)
	f.query(1, 1, wire.TextPayload("a"), false)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		claimed[0].Callback.SuccessBinary([]byte{1, 2, 3})
	}()
	wg.Wait()
	f.loop.RunUntilIdle()

	responses := f.frame.Responses(t)
	require.Len(t, responses, 1)
	assert.True(t, responses[0].Payload.IsBinary())
	assert.Equal(t, []byte{1, 2, 3}, responses[0].Payload.Bytes())
}

func TestLifecycleHooksDoNotNotifyContent(t *testing.T) {
	tests := []struct {
		name     string
		run      func(f *fixture)
		canceled bool
	}{
		{
			name:     "before close",
			run:      func(f *fixture) { f.router.OnBeforeClose(f.ctx, f.browser) },
			canceled: true,
		},
		{
			name:     "render process terminated",
			run:      func(f *fixture) { f.router.OnRenderProcessTerminated(f.ctx, f.browser) },
			canceled: true,
		},
		{
			name:     "main frame navigation",
			run:      func(f *fixture) { f.router.OnBeforeBrowse(f.ctx, f.browser, fake.NewFrame(true)) },
			canceled: true,
		},
		{
			name:     "sub frame navigation",
			run:      func(f *fixture) { f.router.OnBeforeBrowse(f.ctx, f.browser, fake.NewFrame(false)) },
			canceled: false,
		},
		{
			name:     "other browser closed",
			run:      func(f *fixture) { f.router.OnBeforeClose(f.ctx, fake.Browser(99)) },
			canceled: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			var claimed []*host.Query
			h := claimAll(&claimed)
			f.addHandler(h, false)
			f.query(1, 1, wire.TextPayload("a"), true)

			tt.run(f)
			f.loop.RunUntilIdle()

			assert.Empty(t, f.frame.Messages())
			if tt.canceled {
				h.AssertNumberOfCalls(t, "OnQueryCanceled", 1)
				assert.Zero(t, f.router.PendingCount(f.ctx, host.Scope{}))
			} else {
				h.AssertNotCalled(t, "OnQueryCanceled", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
				assert.Equal(t, 1, f.router.PendingCount(f.ctx, host.Scope{}))
			}
		})
	}
}

func TestLargeResponseUsesSharedRegion(t *testing.T) {
	cfg := config.DefaultRouterConfig()
	cfg.MessageSizeThreshold = 64
	f := newFixtureWithConfig(t, cfg)

	large := strings.Repeat("x", 1000)
	f.addHandler(host.HandlerFuncs{Query: func(ctx context.Context, q *host.Query) bool {
		q.Callback.Success(large)
		return true
	}}, false)

	f.query(1, 1, wire.TextPayload("big"), false)
	f.loop.RunUntilIdle()

	msgs := f.frame.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsRegion())
	r, err := wire.DecodeResponse(msgs[0])
	require.NoError(t, err)
	assert.Equal(t, large, r.Payload.Text())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Messages.WithLabelValues(queryMsg, "shared_region")))
}

func TestUndeliverableResponseFailsQuery(t *testing.T) {
	tests := []struct {
		name       string
		persistent bool
	}{
		{"single", false},
		{"persistent", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultRouterConfig()
			cfg.MessageSizeThreshold = 64
			f := newFixtureWithConfig(t, cfg)
			f.frame.Reject = func(msg *wire.Message) error {
				if msg.IsRegion() {
					return errFrameTooLarge
				}
				return nil
			}

			var claimed []*host.Query
			h := claimAll(&claimed)
			f.addHandler(h, false)

			f.query(2, 9, wire.TextPayload("big"), tt.persistent)
			require.Len(t, claimed, 1)
			claimed[0].Callback.Success(strings.Repeat("x", 1000))
			f.loop.RunUntilIdle()

			responses := f.frame.Responses(t)
			require.Len(t, responses, 1)
			assert.False(t, responses[0].Success)
			assert.Equal(t, int32(2), responses[0].ContextID)
			assert.Equal(t, int32(9), responses[0].RequestID)
			assert.Equal(t, wire.UndeliveredCode, responses[0].ErrorCode)
			assert.Equal(t, wire.UndeliveredMessage, responses[0].ErrorMessage)

			assert.Zero(t, f.router.PendingCount(f.ctx, host.Scope{}))
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Queries.WithLabelValues(monitoring.OutcomeFailure)))
			assert.Zero(t, testutil.ToFloat64(f.metrics.Queries.WithLabelValues(monitoring.OutcomeSuccess)))
			if tt.persistent {
				h.AssertCalled(t, "OnQueryCanceled", mock.Anything, f.browser, f.frame, claimed[0].ID)
			} else {
				h.AssertNotCalled(t, "OnQueryCanceled", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			}

			// The callback is detached either way.
			claimed[0].Callback.Success("small")
			f.loop.RunUntilIdle()
			assert.Len(t, f.frame.Messages(), 1)
		})
	}
}

func TestQueryPayloadKinds(t *testing.T) {
	tests := []struct {
		name       string
		payload    wire.Payload
		wantBinary bool
		wantBytes  []byte
	}{
		{name: "text", payload: wire.TextPayload("hi"), wantBinary: false, wantBytes: []byte("hi")},
		{name: "binary", payload: wire.BinaryPayload([]byte{9}), wantBinary: true, wantBytes: []byte{9}},
		{name: "empty", payload: wire.EmptyPayload(), wantBinary: true, wantBytes: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			var got wire.Payload
			f.addHandler(host.HandlerFuncs{Query: func(ctx context.Context, q *host.Query) bool {
				got = q.Request
				q.Callback.Success("")
				return true
			}}, false)

			f.query(1, 1, tt.payload, false)
			assert.Equal(t, tt.wantBinary, got.IsBinary())
			assert.Equal(t, tt.wantBytes, got.Bytes())
		})
	}
}

func TestMalformedQuery(t *testing.T) {
	f := newFixture(t)
	h := fake.NewMockHandler(t)
	f.addHandler(h, false)

	msg := &wire.Message{Name: queryMsg, Args: []wire.Value{wire.Int(4), wire.Int(8), wire.Bool(true)}}
	require.True(t, f.router.OnProcessMessageReceived(f.ctx, f.browser, f.frame, msg))

	responses := f.frame.Responses(t)
	require.Len(t, responses, 1)
	assertCanceled(t, responses[0], 4, 8)
	h.AssertNotCalled(t, "OnQuery", mock.Anything, mock.Anything)
}

func TestUnknownMessageIgnored(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.router.OnProcessMessageReceived(f.ctx, f.browser, f.frame, &wire.Message{Name: "otherMsg"}))
	assert.False(t, f.router.OnProcessMessageReceived(f.ctx, f.browser, f.frame, nil))
	assert.Empty(t, f.frame.Messages())
}

func TestHandlerRemovingItselfWhileClaiming(t *testing.T) {
	f := newFixture(t)
	var self host.HandlerID
	var canceled []int64
	self = f.addHandler(host.HandlerFuncs{
		Query: func(ctx context.Context, q *host.Query) bool {
			return f.router.RemoveHandler(ctx, self)
		},
		Canceled: func(ctx context.Context, b host.Browser, fr host.Frame, queryID int64) {
			canceled = append(canceled, queryID)
		},
	}, false)

	f.query(1, 1, wire.TextPayload("a"), false)

	assert.Len(t, canceled, 1)
	assert.Zero(t, f.router.PendingCount(f.ctx, host.Scope{}))
	responses := f.frame.Responses(t)
	require.Len(t, responses, 1)
	assertCanceled(t, responses[0], 1, 1)
}

func TestOwnerOnlyMethodsOffSequence(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	loop := sequence.NewLoop("host")
	router := host.New(config.DefaultRouterConfig(), loop).WithLogger(zap.New(core))

	_, err := router.AddHandler(context.Background(), fake.NewMockHandler(t), false)
	assert.ErrorIs(t, err, host.ErrWrongSequence)
	assert.Zero(t, router.PendingCount(context.Background(), host.Scope{}))
	assert.Equal(t, 2, logs.FilterMessage("Router method called outside its sequence").Len())

	_, err = router.AddHandler(loop.Context(), nil, false)
	assert.ErrorIs(t, err, host.ErrNilHandler)
}
