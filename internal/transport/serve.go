package transport

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/sequence"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/wire"
)

// Handler receives one inbound message. It runs as a task on the runner
// passed to Serve, so ctx carries the runner's affinity.
type Handler func(ctx context.Context, browser Browser, msg *wire.Message)

// Serve reads conn until it closes or ctx is done, posting every message to
// runner. Undecodable packets are logged and skipped. A clean close returns
// nil.
func Serve(ctx context.Context, conn Conn, runner sequence.Runner, handle Handler, logger *zap.Logger) error {
	logger = logger.With(zap.String("conn_id", string(conn.ID())))
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		browserID, msg, err := conn.Receive()
		switch {
		case err == nil:
		case errors.Is(err, ErrBadPacket):
			logger.Warn("Dropping malformed packet", zap.Error(err))
			continue
		case ctx.Err() != nil:
			return ctx.Err()
		case isClosed(err):
			logger.Debug("Connection closed")
			return nil
		default:
			return err
		}

		posted := runner.PostTask(func(ctx context.Context) {
			handle(ctx, Browser(browserID), msg)
		})
		if !posted {
			_ = msg.Release()
			return sequence.ErrStopped
		}
	}
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
