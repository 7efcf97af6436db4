package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/wire"
)

const closeWait = time.Second

// Upgrader upgrades router connections. Origins are not checked; the
// endpoint is meant for the local content process.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  32 << 10,
	WriteBufferSize: 32 << 10,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSConn sends one packet per binary websocket message.
type WSConn struct {
	id    id.ConnID
	ws    *websocket.Conn
	codec *Codec

	wmu sync.Mutex
}

var _ Conn = (*WSConn)(nil)

// NewWSConn wraps an established websocket.
func NewWSConn(ws *websocket.Conn, codec *Codec) *WSConn {
	ws.SetReadLimit(int64(codec.MaxFrame()))
	return &WSConn{id: newConnID(), ws: ws, codec: codec}
}

// Upgrade upgrades an HTTP request to a router connection.
func Upgrade(w http.ResponseWriter, r *http.Request, codec *Codec) (*WSConn, error) {
	ws, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWSConn(ws, codec), nil
}

// Dial connects to a router endpoint such as ws://host:port/ws/1.
func Dial(ctx context.Context, url string, codec *Codec) (*WSConn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewWSConn(ws, codec), nil
}

func (c *WSConn) ID() id.ConnID { return c.id }

func (c *WSConn) Send(browserID int32, msg *wire.Message) error {
	b, err := c.codec.Encode(browserID, msg)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, b)
}

// Receive skips text messages.
func (c *WSConn) Receive() (int32, *wire.Message, error) {
	for {
		mt, b, err := c.ws.ReadMessage()
		if err != nil {
			return 0, nil, err
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		return c.codec.Decode(b)
	}
}

// Close sends a close frame and closes the socket.
func (c *WSConn) Close() error {
	c.wmu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeWait))
	c.wmu.Unlock()
	return c.ws.Close()
}
