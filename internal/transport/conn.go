package transport

import (
	"github.com/google/uuid"

	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/wire"
)

// Conn is one end of a message connection between the two processes.
type Conn interface {
	ID() id.ConnID
	// Send delivers msg for browserID. It takes ownership of msg. Send may
	// be called from any goroutine.
	Send(browserID int32, msg *wire.Message) error
	// Receive blocks for the next message. It must only be called from one
	// goroutine at a time.
	Receive() (browserID int32, msg *wire.Message, err error)
	Close() error
}

func newConnID() id.ConnID {
	return id.ConnID(id.ConnPrefix + "_" + uuid.NewString())
}

// Browser is a browser known only by its identifier.
type Browser int32

func (b Browser) Identifier() int32 { return int32(b) }

// Frame sends router messages for one browser over a connection. It
// satisfies both the host and the content frame interfaces.
type Frame struct {
	conn    Conn
	browser int32
	main    bool
}

// NewFrame returns a frame of browser that sends through conn.
func NewFrame(conn Conn, browser int32, main bool) *Frame {
	return &Frame{conn: conn, browser: browser, main: main}
}

func (f *Frame) IsMain() bool { return f.main }

func (f *Frame) SendMessage(msg *wire.Message) error {
	return f.conn.Send(f.browser, msg)
}
