package host

// handlerChain is a deque of handler slots. A removed handler leaves a hole
// so that ids stay stable; holes at either end are trimmed. Slot i lives in
// front[len(front)-1-i] when i < len(front), otherwise in back.
type handlerChain struct {
	offset int
	front  []Handler
	back   []Handler
}

type chainEntry struct {
	id      HandlerID
	handler Handler
}

func (c *handlerChain) size() int {
	return len(c.front) + len(c.back)
}

func (c *handlerChain) slot(i int) *Handler {
	if i < len(c.front) {
		return &c.front[len(c.front)-1-i]
	}
	return &c.back[i-len(c.front)]
}

func (c *handlerChain) add(h Handler, first bool) HandlerID {
	if first {
		c.offset++
		c.front = append(c.front, h)
		return HandlerID(-c.offset)
	}
	id := c.size() - c.offset
	c.back = append(c.back, h)
	return HandlerID(id)
}

func (c *handlerChain) get(id HandlerID) Handler {
	i := int(id) + c.offset
	if i < 0 || i >= c.size() {
		return nil
	}
	return *c.slot(i)
}

// remove clears the slot for id and trims holes at both ends. It returns the
// handler that occupied the slot, or nil.
func (c *handlerChain) remove(id HandlerID) Handler {
	i := int(id) + c.offset
	if i < 0 || i >= c.size() {
		return nil
	}
	s := c.slot(i)
	h := *s
	*s = nil

	for c.size() > 0 && *c.slot(0) == nil {
		c.popFront()
	}
	for c.size() > 0 && *c.slot(c.size() - 1) == nil {
		c.popBack()
	}
	return h
}

func (c *handlerChain) popFront() {
	c.offset--
	if n := len(c.front); n > 0 {
		c.front[n-1] = nil
		c.front = c.front[:n-1]
		return
	}
	c.back[0] = nil
	c.back = c.back[1:]
}

func (c *handlerChain) popBack() {
	if n := len(c.back); n > 0 {
		c.back[n-1] = nil
		c.back = c.back[:n-1]
		return
	}
	c.front[0] = nil
	c.front = c.front[1:]
}

// snapshot returns the registered handlers in chain order.
func (c *handlerChain) snapshot() []chainEntry {
	entries := make([]chainEntry, 0, c.size())
	for i := range c.size() {
		if h := *c.slot(i); h != nil {
			entries = append(entries, chainEntry{id: HandlerID(i - c.offset), handler: h})
		}
	}
	return entries
}

func (c *handlerChain) empty() bool {
	return c.size() == 0
}

// count returns the number of registered handlers, holes excluded.
func (c *handlerChain) count() int {
	n := 0
	for i := range c.size() {
		if *c.slot(i) != nil {
			n++
		}
	}
	return n
}
