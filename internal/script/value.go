package script

import (
	"context"
	"errors"
	"math"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/content"
)

// ErrNotFunction is returned when calling a value that is not callable.
var ErrNotFunction = errors.New("value is not a function")

// Value is a goja value owned by a Runtime.
type Value struct {
	rt *Runtime
	v  goja.Value
}

var _ content.Value = (*Value)(nil)

func (r *Runtime) wrap(v goja.Value) *Value {
	if v == nil {
		v = goja.Undefined()
	}
	return &Value{rt: r, v: v}
}

// unwrap returns the goja value behind v. Values of other runtimes become
// undefined.
func (r *Runtime) unwrap(v content.Value) goja.Value {
	gv, ok := v.(*Value)
	if !ok || gv == nil || gv.rt != r {
		return goja.Undefined()
	}
	return gv.v
}

// Raw returns the underlying goja value.
func (v *Value) Raw() goja.Value { return v.v }

func (v *Value) object() (*goja.Object, bool) {
	o, ok := v.v.(*goja.Object)
	return o, ok && o != nil
}

func (v *Value) IsObject() bool {
	_, ok := v.object()
	return ok
}

func (v *Value) IsString() bool {
	_, ok := v.v.Export().(string)
	return ok
}

func (v *Value) IsArrayBuffer() bool {
	o, ok := v.object()
	if !ok {
		return false
	}
	_, ok = o.Export().(goja.ArrayBuffer)
	return ok
}

func (v *Value) IsFunction() bool {
	_, ok := goja.AssertFunction(v.v)
	return ok
}

func (v *Value) IsBool() bool {
	_, ok := v.v.Export().(bool)
	return ok
}

// IsInt reports whether the value is a number with an integral value in the
// int32 range.
func (v *Value) IsInt() bool {
	switch n := v.v.Export().(type) {
	case int64:
		return n >= math.MinInt32 && n <= math.MaxInt32
	case float64:
		return n == math.Trunc(n) && n >= math.MinInt32 && n <= math.MaxInt32
	default:
		return false
	}
}

func (v *Value) StringValue() string { return v.v.String() }
func (v *Value) BoolValue() bool     { return v.v.ToBoolean() }
func (v *Value) IntValue() int32     { return int32(v.v.ToInteger()) }

func (v *Value) BytesValue() []byte {
	o, ok := v.object()
	if !ok {
		return nil
	}
	if ab, ok := o.Export().(goja.ArrayBuffer); ok {
		return ab.Bytes()
	}
	return nil
}

func (v *Value) Member(key string) (content.Value, bool) {
	o, ok := v.object()
	if !ok {
		return nil, false
	}
	m := o.Get(key)
	if m == nil || goja.IsUndefined(m) || goja.IsNull(m) {
		return nil, false
	}
	return v.rt.wrap(m), true
}

// Call invokes the function with an undefined receiver inside sc.
func (v *Value) Call(ctx context.Context, sc content.ScriptContext, args ...content.Value) error {
	fn, ok := goja.AssertFunction(v.v)
	if !ok {
		return ErrNotFunction
	}
	if !sc.Enter() {
		return ErrReleased
	}
	defer sc.Exit()

	gargs := make([]goja.Value, len(args))
	for i, arg := range args {
		gargs[i] = v.rt.unwrap(arg)
	}
	return v.rt.run(ctx, func() error {
		_, err := fn(goja.Undefined(), gargs...)
		return err
	})
}
