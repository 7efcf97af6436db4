// Package transport carries router messages between the host and content
// processes.
//
// Each message travels as a CBOR envelope holding the owning browser id, the
// message name and either its inline arguments or the bytes of its shared
// region. Region bytes above a configurable size may be zstd compressed. The
// receiving side rebuilds the region on the heap, so the routers see the
// same message they would have seen in process.
//
// Two connection kinds are provided: StreamConn frames envelopes with a
// 4-byte big-endian length prefix over any byte stream (pipes, sockets,
// stdio), and WSConn sends one envelope per binary websocket message.
//
// Serve reads a connection and hands every message to a handler as a task
// on the router's sequence.
package transport
