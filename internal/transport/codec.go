package transport

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/wire"
)

// envelopeVersion is bumped on incompatible envelope changes.
const envelopeVersion = 1

var (
	// ErrBadPacket is returned for a packet that cannot be decoded. The
	// connection stays usable.
	ErrBadPacket = errors.New("malformed packet")
	// ErrFrameTooLarge is returned for packets above the configured limit.
	ErrFrameTooLarge = errors.New("frame exceeds size limit")
)

// envelope is the CBOR form of a message. Keys are small integers.
type envelope struct {
	Version    uint8      `cbor:"0,keyasint"`
	Browser    int32      `cbor:"1,keyasint"`
	Name       string     `cbor:"2,keyasint"`
	Args       []argument `cbor:"3,keyasint,omitempty"`
	Region     []byte     `cbor:"4,keyasint,omitempty"`
	Compressed bool       `cbor:"5,keyasint,omitempty"`
}

type argument struct {
	Kind uint8  `cbor:"0,keyasint"`
	Int  int32  `cbor:"1,keyasint,omitempty"`
	Bool bool   `cbor:"2,keyasint,omitempty"`
	Str  string `cbor:"3,keyasint,omitempty"`
	Data []byte `cbor:"4,keyasint,omitempty"`
}

// Codec converts router messages to and from packets. It is safe for
// concurrent use.
type Codec struct {
	maxFrame          int
	compress          bool
	compressThreshold int

	em  cbor.EncMode
	dm  cbor.DecMode
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCodec creates a codec for cfg.
func NewCodec(cfg config.TransportConfig) (*Codec, error) {
	if cfg.MaxFrame <= 0 {
		cfg.MaxFrame = config.Default().Transport.MaxFrame
	}

	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encoder: %w", err)
	}
	dm, err := cbor.DecOptions{MaxArrayElements: 1024}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor decoder: %w", err)
	}

	c := &Codec{
		maxFrame:          cfg.MaxFrame,
		compress:          cfg.Compress,
		compressThreshold: cfg.CompressThreshold,
		em:                em,
		dm:                dm,
	}
	c.enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	c.dec, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(cfg.MaxFrame)))
	if err != nil {
		_ = c.enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return c, nil
}

// MaxFrame is the largest packet the codec produces or accepts.
func (c *Codec) MaxFrame() int { return c.maxFrame }

// Encode serializes msg for browserID. It takes ownership of msg and
// releases its region.
func (c *Codec) Encode(browserID int32, msg *wire.Message) ([]byte, error) {
	defer func() { _ = msg.Release() }()

	env := envelope{
		Version: envelopeVersion,
		Browser: browserID,
		Name:    msg.Name,
	}
	if msg.IsRegion() {
		data := msg.Region.Bytes()
		// Decode caps decompression at maxFrame, so the limit applies to
		// the raw region as well as to the packet.
		if len(data) > c.maxFrame {
			return nil, fmt.Errorf("%w: region %d > %d", ErrFrameTooLarge, len(data), c.maxFrame)
		}
		if c.compress && len(data) >= c.compressThreshold {
			env.Region = c.enc.EncodeAll(data, nil)
			env.Compressed = true
		} else {
			env.Region = data
		}
	} else {
		env.Args = make([]argument, len(msg.Args))
		for i, v := range msg.Args {
			env.Args[i] = argument{Kind: uint8(v.Kind), Int: v.Int, Bool: v.Bool, Str: v.Str, Data: v.Data}
		}
	}

	b, err := c.em.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Name, err)
	}
	if len(b) > c.maxFrame {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(b), c.maxFrame)
	}
	return b, nil
}

// Decode parses a packet produced by Encode.
func (c *Codec) Decode(b []byte) (int32, *wire.Message, error) {
	var env envelope
	if err := c.dm.Unmarshal(b, &env); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrBadPacket, err)
	}
	if env.Version != envelopeVersion {
		return 0, nil, fmt.Errorf("%w: unsupported version %d", ErrBadPacket, env.Version)
	}

	msg := &wire.Message{Name: env.Name}
	if env.Region != nil {
		data := env.Region
		if env.Compressed {
			var err error
			if data, err = c.dec.DecodeAll(env.Region, nil); err != nil {
				return 0, nil, fmt.Errorf("%w: %v", ErrBadPacket, err)
			}
		}
		msg.Region = wire.NewHeapRegion(data)
		return env.Browser, msg, nil
	}

	msg.Args = make([]wire.Value, len(env.Args))
	for i, a := range env.Args {
		if a.Kind > uint8(wire.KindBinary) {
			return 0, nil, fmt.Errorf("%w: unknown value kind %d", ErrBadPacket, a.Kind)
		}
		msg.Args[i] = wire.Value{Kind: wire.Kind(a.Kind), Int: a.Int, Bool: a.Bool, Str: a.Str, Data: a.Data}
	}
	return env.Browser, msg, nil
}

// Close releases the compression state.
func (c *Codec) Close() error {
	c.dec.Close()
	return c.enc.Close()
}
