package handlers_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/handlers"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/host"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/sequence"
	fake "github.com/GriffinCanCode/AgentOS/queryrouter/internal/testutil"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/wire"
)

type fixture struct {
	t      *testing.T
	loop   *sequence.Loop
	router *host.Router
	frame  *fake.Frame
}

func newFixture(t *testing.T, hs ...host.Handler) *fixture {
	t.Helper()
	loop := sequence.NewLoop("handlers")
	f := &fixture{
		t:      t,
		loop:   loop,
		router: host.New(config.DefaultRouterConfig(), loop).WithLogger(zaptest.NewLogger(t)),
		frame:  fake.NewFrame(true),
	}
	for _, h := range hs {
		_, err := f.router.AddHandler(loop.Context(), h, false)
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) query(requestID int32, payload wire.Payload) {
	f.t.Helper()
	msg := fake.QueryMessage("cefQueryMsg", 1, requestID, payload, false)
	require.True(f.t, f.router.OnProcessMessageReceived(f.loop.Context(), fake.Browser(1), f.frame, msg))
}

// await runs the loop until n responses were sent.
func (f *fixture) await(n int) []wire.Response {
	f.t.Helper()
	require.Eventually(f.t, func() bool {
		f.loop.RunUntilIdle()
		return len(f.frame.Messages()) >= n
	}, time.Second, 5*time.Millisecond)
	return f.frame.Responses(f.t)
}

func TestEcho(t *testing.T) {
	f := newFixture(t, handlers.Echo())

	f.query(1, wire.TextPayload("hello"))
	f.query(2, wire.BinaryPayload([]byte{1, 2, 3}))
	f.query(3, wire.EmptyPayload())
	f.loop.RunUntilIdle()

	responses := f.frame.Responses(t)
	require.Len(t, responses, 3)

	assert.True(t, responses[0].Success)
	assert.Equal(t, "hello", responses[0].Payload.Text())

	assert.True(t, responses[1].Payload.IsBinary())
	assert.Equal(t, []byte{1, 2, 3}, responses[1].Payload.Bytes())

	assert.True(t, responses[2].Success)
	assert.Equal(t, 0, responses[2].Payload.Size())
}

type addParams struct {
	A int `json:"a"`
	B int `json:"b"`
}

type addResult struct {
	Sum int `json:"sum"`
}

func add(_ context.Context, p addParams) (addResult, error) {
	return addResult{Sum: p.A + p.B}, nil
}

func TestMethod(t *testing.T) {
	tests := []struct {
		name    string
		request string
		success bool
		code    int32
		body    string
	}{
		{
			name:    "result is JSON encoded",
			request: `{"method":"add","params":{"a":2,"b":3}}`,
			success: true,
			body:    `{"sum":5}`,
		},
		{
			name:    "missing params decode as zero",
			request: `{"method":"add"}`,
			success: true,
			body:    `{"sum":0}`,
		},
		{
			name:    "bad params",
			request: `{"method":"add","params":{"a":"x"}}`,
			code:    handlers.CodeBadRequest,
			body:    "invalid params",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, handlers.Method("add", add))
			f.query(1, wire.TextPayload(tt.request))

			responses := f.await(1)
			require.Len(t, responses, 1)
			assert.Equal(t, tt.success, responses[0].Success)
			if tt.success {
				assert.JSONEq(t, tt.body, responses[0].Payload.Text())
				return
			}
			assert.Equal(t, tt.code, responses[0].ErrorCode)
			assert.True(t, strings.HasPrefix(responses[0].ErrorMessage, tt.body))
		})
	}
}

func TestMethodDeclinesOtherQueries(t *testing.T) {
	f := newFixture(t, handlers.Method("add", add), handlers.Echo())

	f.query(1, wire.TextPayload(`{"method":"sub"}`))
	f.query(2, wire.TextPayload("not json"))
	f.query(3, wire.BinaryPayload([]byte(`{"method":"add"}`)))
	f.loop.RunUntilIdle()

	// All three fall through to Echo.
	responses := f.frame.Responses(t)
	require.Len(t, responses, 3)
	assert.Equal(t, `{"method":"sub"}`, responses[0].Payload.Text())
	assert.Equal(t, "not json", responses[1].Payload.Text())
	assert.True(t, responses[2].Payload.IsBinary())
}

func TestMethodErrors(t *testing.T) {
	f := newFixture(t,
		handlers.Method("teapot", func(context.Context, struct{}) (string, error) {
			return "", handlers.Errorf(418, "short and %s", "stout")
		}),
		handlers.Method("broken", func(context.Context, struct{}) (string, error) {
			return "", errors.New("boom")
		}),
	)

	f.query(1, wire.TextPayload(`{"method":"teapot"}`))
	f.query(2, wire.TextPayload(`{"method":"broken"}`))

	responses := f.await(2)
	require.Len(t, responses, 2)

	byRequest := map[int32]wire.Response{}
	for _, r := range responses {
		byRequest[r.RequestID] = r
	}
	assert.Equal(t, int32(418), byRequest[1].ErrorCode)
	assert.Equal(t, "short and stout", byRequest[1].ErrorMessage)
	assert.Equal(t, handlers.CodeInternal, byRequest[2].ErrorCode)
	assert.Equal(t, "boom", byRequest[2].ErrorMessage)
}

func TestMethodCancellationReachesFunction(t *testing.T) {
	started := make(chan struct{})
	stopped := make(chan error, 1)
	f := newFixture(t, handlers.Method("wait", func(ctx context.Context, _ struct{}) (string, error) {
		close(started)
		<-ctx.Done()
		stopped <- ctx.Err()
		return "late", nil
	}))

	f.query(1, wire.TextPayload(`{"method":"wait"}`))
	<-started

	cancel := wire.NewCancelMessage("cefQueryCancelMsg", 1, 1)
	require.True(t, f.router.OnProcessMessageReceived(f.loop.Context(), fake.Browser(1), f.frame, cancel))

	select {
	case err := <-stopped:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("handler function was not canceled")
	}

	f.loop.RunUntilIdle()
	assert.Empty(t, f.frame.Messages())
	assert.Zero(t, f.router.PendingCount(f.loop.Context(), host.Scope{}))
}

func TestRateLimited(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 2)
	f := newFixture(t, handlers.RateLimited(limiter, handlers.Echo()))

	for i := range 3 {
		f.query(int32(i+1), wire.TextPayload("ping"))
	}
	f.loop.RunUntilIdle()

	responses := f.frame.Responses(t)
	require.Len(t, responses, 3)
	assert.True(t, responses[0].Success)
	assert.True(t, responses[1].Success)
	assert.False(t, responses[2].Success)
	assert.Equal(t, handlers.CodeRateLimited, responses[2].ErrorCode)
}
