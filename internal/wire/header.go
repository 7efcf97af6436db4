package wire

import "encoding/binary"

const (
	responseHeaderSize = 9
	queryHeaderSize    = 10
)

type header struct {
	contextID  int32
	requestID  int32
	persistent bool
	binary     bool
}

func putBool(b []byte, v bool) {
	if v {
		b[0] = 1
	} else {
		b[0] = 0
	}
}

func (h header) putResponse(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(h.contextID))
	binary.LittleEndian.PutUint32(b[4:8], uint32(h.requestID))
	putBool(b[8:], h.binary)
}

func (h header) putQuery(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(h.contextID))
	binary.LittleEndian.PutUint32(b[4:8], uint32(h.requestID))
	putBool(b[8:], h.persistent)
	putBool(b[9:], h.binary)
}

func readResponseHeader(b []byte) (header, bool) {
	if len(b) < responseHeaderSize {
		return header{}, false
	}
	return header{
		contextID: int32(binary.LittleEndian.Uint32(b[0:4])),
		requestID: int32(binary.LittleEndian.Uint32(b[4:8])),
		binary:    b[8] != 0,
	}, true
}

func readQueryHeader(b []byte) (header, bool) {
	if len(b) < queryHeaderSize {
		return header{}, false
	}
	return header{
		contextID:  int32(binary.LittleEndian.Uint32(b[0:4])),
		requestID:  int32(binary.LittleEndian.Uint32(b[4:8])),
		persistent: b[8] != 0,
		binary:     b[9] != 0,
	}, true
}
