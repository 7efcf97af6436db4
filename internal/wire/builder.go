package wire

// Mode is the encoding chosen for one outbound message.
type Mode uint8

const (
	ModeInline Mode = iota
	ModeSharedRegion
)

func (m Mode) String() string {
	if m == ModeSharedRegion {
		return "shared_region"
	}
	return "inline"
}

type messageKind uint8

const (
	kindResponse messageKind = iota
	kindQuery
)

// Builder produces one outbound message whose encoding was fixed when the
// builder was created. An inline builder may build any number of messages; a
// region-backed builder hands its region to the first message it builds.
type Builder struct {
	mode    Mode
	kind    messageKind
	name    string
	payload Payload
	region  Region
	built   bool
}

// NewResponseBuilder returns a builder for a successful response carrying
// payload.
func NewResponseBuilder(threshold int, alloc Allocator, name string, payload Payload) *Builder {
	return newBuilder(threshold, alloc, name, payload, kindResponse)
}

// NewQueryBuilder returns a builder for a query carrying payload.
func NewQueryBuilder(threshold int, alloc Allocator, name string, payload Payload) *Builder {
	return newBuilder(threshold, alloc, name, payload, kindQuery)
}

func newBuilder(threshold int, alloc Allocator, name string, payload Payload, kind messageKind) *Builder {
	b := &Builder{mode: ModeInline, kind: kind, name: name, payload: payload}

	headerSize := responseHeaderSize
	if kind == kindQuery {
		headerSize = queryHeaderSize
	}
	size := headerSize + payload.Size()
	if size < threshold || alloc == nil {
		return b
	}

	region, err := alloc.Allocate(size)
	if err != nil {
		return b
	}
	if mem := region.Bytes(); len(mem) < size || copy(mem[headerSize:], payload.Bytes()) != payload.Size() {
		_ = region.Close()
		return b
	}

	b.mode = ModeSharedRegion
	b.region = region
	return b
}

// Mode reports the encoding this builder uses.
func (b *Builder) Mode() Mode {
	return b.mode
}

// BuildResponse builds a success response for (contextID, requestID).
func (b *Builder) BuildResponse(contextID, requestID int32) (*Message, error) {
	if b.kind != kindResponse {
		return nil, ErrWrongKind
	}
	if b.mode == ModeInline {
		return &Message{
			Name: b.name,
			Args: []Value{Int(contextID), Int(requestID), Bool(true), b.payload.value()},
		}, nil
	}

	region, err := b.take()
	if err != nil {
		return nil, err
	}
	header{contextID: contextID, requestID: requestID, binary: b.payload.IsBinary()}.putResponse(region.Bytes())
	return &Message{Name: b.name, Region: region}, nil
}

// BuildQuery builds a query for (contextID, requestID).
func (b *Builder) BuildQuery(contextID, requestID int32, persistent bool) (*Message, error) {
	if b.kind != kindQuery {
		return nil, ErrWrongKind
	}
	if b.mode == ModeInline {
		return &Message{
			Name: b.name,
			Args: []Value{Int(contextID), Int(requestID), b.payload.value(), Bool(persistent)},
		}, nil
	}

	region, err := b.take()
	if err != nil {
		return nil, err
	}
	header{
		contextID:  contextID,
		requestID:  requestID,
		persistent: persistent,
		binary:     b.payload.IsBinary(),
	}.putQuery(region.Bytes())
	return &Message{Name: b.name, Region: region}, nil
}

// Discard releases the region of a builder that will not be built.
func (b *Builder) Discard() {
	if b.region == nil || b.built {
		return
	}
	b.built = true
	_ = b.region.Close()
}

func (b *Builder) take() (Region, error) {
	if b.built {
		return nil, ErrRegionUsed
	}
	b.built = true
	return b.region, nil
}

// BuildQueryMessage builds a query in one step, for tools and tests that
// speak for the content side.
func BuildQueryMessage(threshold int, alloc Allocator, name string, contextID, requestID int32, payload Payload, persistent bool) (*Message, error) {
	return NewQueryBuilder(threshold, alloc, name, payload).BuildQuery(contextID, requestID, persistent)
}

// BuildResponseMessage builds a response in one step, for tools and tests
// that speak for the host side.
func BuildResponseMessage(threshold int, alloc Allocator, name string, contextID, requestID int32, payload Payload) (*Message, error) {
	return NewResponseBuilder(threshold, alloc, name, payload).BuildResponse(contextID, requestID)
}
