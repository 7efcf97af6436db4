package content

import (
	"context"

	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/wire"
)

// Browser is the origin a request belongs to.
type Browser interface {
	Identifier() int32
}

// Frame sends messages to the host process.
type Frame interface {
	// SendMessage delivers msg to the host. The frame takes ownership of msg
	// and of any region it carries.
	SendMessage(msg *wire.Message) error
}

// NativeFunction is a Go function callable from script. ctx is the context
// of the task that is running the script.
type NativeFunction func(ctx context.Context, args []Value) (Value, error)

// ScriptContext is one script execution context, such as a page's global
// scope.
type ScriptContext interface {
	Browser() Browser
	Frame() Frame
	// IsSame reports whether other refers to the same underlying context.
	IsSame(other ScriptContext) bool
	// Enter makes the context current. It returns false once the context
	// has been released.
	Enter() bool
	Exit()
	// Bind installs fn as a read-only global function called name.
	Bind(name string, fn NativeFunction) error

	NewInt(v int32) Value
	NewBool(v bool) Value
	NewString(v string) Value
	NewArrayBuffer(data []byte) Value
}

// Value is a script value.
type Value interface {
	IsObject() bool
	IsString() bool
	IsArrayBuffer() bool
	IsFunction() bool
	IsBool() bool
	IsInt() bool

	StringValue() string
	BytesValue() []byte
	BoolValue() bool
	IntValue() int32

	// Member returns the member key of an object. ok is false when the
	// member is absent, null or undefined.
	Member(key string) (v Value, ok bool)
	// Call invokes a function value inside sc. ctx is passed on to any
	// native function the callee reaches.
	Call(ctx context.Context, sc ScriptContext, args ...Value) error
}
