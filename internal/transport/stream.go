package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/wire"
)

// StreamConn frames packets over a byte stream with a 4-byte big-endian
// length prefix.
type StreamConn struct {
	id    id.ConnID
	rwc   io.ReadWriteCloser
	r     *bufio.Reader
	codec *Codec

	wmu sync.Mutex
}

var _ Conn = (*StreamConn)(nil)

// NewStreamConn wraps rwc. The codec is shared, not owned.
func NewStreamConn(rwc io.ReadWriteCloser, codec *Codec) *StreamConn {
	return &StreamConn{
		id:    newConnID(),
		rwc:   rwc,
		r:     bufio.NewReader(rwc),
		codec: codec,
	}
}

// Pipe returns two connected in-memory connections.
func Pipe(codec *Codec) (*StreamConn, *StreamConn) {
	a, b := net.Pipe()
	return NewStreamConn(a, codec), NewStreamConn(b, codec)
}

func (c *StreamConn) ID() id.ConnID { return c.id }

func (c *StreamConn) Send(browserID int32, msg *wire.Message) error {
	b, err := c.codec.Encode(browserID, msg)
	if err != nil {
		return err
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(b)))

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.rwc.Write(prefix[:]); err != nil {
		return err
	}
	_, err = c.rwc.Write(b)
	return err
}

func (c *StreamConn) Receive() (int32, *wire.Message, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(c.r, prefix[:]); err != nil {
		return 0, nil, err
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if uint64(length) > uint64(c.codec.MaxFrame()) {
		// The stream cannot be resynchronised past an oversized frame.
		return 0, nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, c.codec.MaxFrame())
	}

	b := make([]byte, length)
	if _, err := io.ReadFull(c.r, b); err != nil {
		return 0, nil, err
	}
	return c.codec.Decode(b)
}

func (c *StreamConn) Close() error { return c.rwc.Close() }
