package testutil

import (
	"context"
	"errors"
	"fmt"

	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/content"
)

// ScriptContext is an in-memory content.ScriptContext.
type ScriptContext struct {
	browser content.Browser
	frame   content.Frame
	// Released makes Enter fail, as for a context torn down by the engine.
	Released bool

	globals map[string]content.NativeFunction
	depth   int
}

// NewScriptContext creates a context for browser and frame. Either may be
// nil.
func NewScriptContext(browser content.Browser, frame content.Frame) *ScriptContext {
	return &ScriptContext{browser: browser, frame: frame, globals: make(map[string]content.NativeFunction)}
}

func (s *ScriptContext) Browser() content.Browser { return s.browser }
func (s *ScriptContext) Frame() content.Frame     { return s.frame }

func (s *ScriptContext) IsSame(other content.ScriptContext) bool {
	o, ok := other.(*ScriptContext)
	return ok && o == s
}

func (s *ScriptContext) Enter() bool {
	if s.Released {
		return false
	}
	s.depth++
	return true
}

func (s *ScriptContext) Exit() {
	if s.depth > 0 {
		s.depth--
	}
}

// Depth is the number of unmatched Enter calls.
func (s *ScriptContext) Depth() int { return s.depth }

func (s *ScriptContext) Bind(name string, fn content.NativeFunction) error {
	if _, ok := s.globals[name]; ok {
		return fmt.Errorf("global %q already bound", name)
	}
	s.globals[name] = fn
	return nil
}

// Bound reports whether a global function called name exists.
func (s *ScriptContext) Bound(name string) bool {
	_, ok := s.globals[name]
	return ok
}

// Invoke calls the global function name as script would.
func (s *ScriptContext) Invoke(ctx context.Context, name string, args ...content.Value) (content.Value, error) {
	fn, ok := s.globals[name]
	if !ok {
		return nil, fmt.Errorf("%s is not defined", name)
	}
	return fn(ctx, args)
}

func (s *ScriptContext) NewInt(v int32) content.Value             { return Int(v) }
func (s *ScriptContext) NewBool(v bool) content.Value             { return Bool(v) }
func (s *ScriptContext) NewString(v string) content.Value         { return String(v) }
func (s *ScriptContext) NewArrayBuffer(data []byte) content.Value { return ArrayBuffer(data) }

type valueKind uint8

const (
	kindObject valueKind = iota
	kindString
	kindArrayBuffer
	kindFunction
	kindBool
	kindInt
)

// Value is an in-memory content.Value.
type Value struct {
	kind    valueKind
	str     string
	data    []byte
	boolean bool
	integer int32
	members map[string]content.Value
	fn      func(args []content.Value) error
}

// Object returns an object value. Nil members are treated as absent.
func Object(members map[string]content.Value) *Value {
	m := make(map[string]content.Value, len(members))
	for k, v := range members {
		if v != nil {
			m[k] = v
		}
	}
	return &Value{kind: kindObject, members: m}
}

func String(s string) *Value { return &Value{kind: kindString, str: s} }
func Bool(b bool) *Value     { return &Value{kind: kindBool, boolean: b} }
func Int(i int32) *Value     { return &Value{kind: kindInt, integer: i} }

// ArrayBuffer returns a buffer holding a copy of data.
func ArrayBuffer(data []byte) *Value {
	return &Value{kind: kindArrayBuffer, data: append([]byte(nil), data...)}
}

// Func returns a function value that runs fn when called.
func Func(fn func(args []content.Value) error) *Value {
	return &Value{kind: kindFunction, fn: fn}
}

func (v *Value) IsObject() bool      { return v.kind == kindObject || v.kind == kindFunction }
func (v *Value) IsString() bool      { return v.kind == kindString }
func (v *Value) IsArrayBuffer() bool { return v.kind == kindArrayBuffer }
func (v *Value) IsFunction() bool    { return v.kind == kindFunction }
func (v *Value) IsBool() bool        { return v.kind == kindBool }
func (v *Value) IsInt() bool         { return v.kind == kindInt }
func (v *Value) StringValue() string { return v.str }
func (v *Value) BytesValue() []byte  { return v.data }
func (v *Value) BoolValue() bool     { return v.boolean }
func (v *Value) IntValue() int32     { return v.integer }

func (v *Value) Member(key string) (content.Value, bool) {
	m, ok := v.members[key]
	return m, ok
}

func (v *Value) Call(_ context.Context, sc content.ScriptContext, args ...content.Value) error {
	if v.fn == nil {
		return errors.New("value is not a function")
	}
	if !sc.Enter() {
		return errors.New("context released")
	}
	defer sc.Exit()
	return v.fn(args)
}
