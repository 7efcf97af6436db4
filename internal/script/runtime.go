package script

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/content"
)

// ErrReleased is returned once the runtime has been released.
var ErrReleased = errors.New("script context released")

// Runtime wraps a goja VM as a content.ScriptContext
type Runtime struct {
	vm      *goja.Runtime
	config  Config
	browser content.Browser
	frame   content.Frame
	logger  *zap.Logger

	// ctx is the context of the task currently running script. Native
	// functions receive it.
	ctx      context.Context
	running  bool
	depth    int
	released bool

	// Console output
	console   []LogEntry
	consoleMu sync.Mutex
}

var _ content.ScriptContext = (*Runtime)(nil)

// New creates a runtime for a page of browser that talks to the host through
// frame.
func New(config Config, browser content.Browser, frame content.Frame) (*Runtime, error) {
	vm := goja.New()

	r := &Runtime{
		vm:      vm,
		config:  config,
		browser: browser,
		frame:   frame,
		logger:  zap.NewNop(),
		ctx:     context.Background(),
		console: []LogEntry{},
	}

	if config.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(config.MaxCallStackSize)
	}

	if err := r.setupGlobals(); err != nil {
		return nil, err
	}
	return r, nil
}

// WithLogger sets the logger console output is mirrored to.
func (r *Runtime) WithLogger(logger *zap.Logger) *Runtime {
	r.logger = logger.Named("script")
	return r
}

// Execute runs JavaScript code with the configured timeout. ctx must be the
// context of the task the call runs in.
func (r *Runtime) Execute(ctx context.Context, src string) (*Result, error) {
	if r.released {
		return nil, ErrReleased
	}

	start := time.Now()

	r.consoleMu.Lock()
	r.console = []LogEntry{}
	r.consoleMu.Unlock()

	var val goja.Value
	err := r.run(ctx, func() error {
		var err error
		val, err = r.vm.RunString(src)
		return err
	})

	result := &Result{Duration: time.Since(start)}
	if err != nil {
		return result, err
	}
	result.Value = exportValue(val)

	r.consoleMu.Lock()
	result.Console = append([]LogEntry{}, r.console...)
	r.consoleMu.Unlock()

	return result, nil
}

// Console returns the console output captured since the last Execute.
func (r *Runtime) Console() []LogEntry {
	r.consoleMu.Lock()
	defer r.consoleMu.Unlock()
	return append([]LogEntry{}, r.console...)
}

// run executes fn with ctx made available to native functions. Only the
// outermost run is bounded by the timeout.
func (r *Runtime) run(ctx context.Context, fn func() error) error {
	prev := r.ctx
	r.ctx = ctx
	defer func() { r.ctx = prev }()

	if r.running {
		return fn()
	}
	r.running = true
	defer func() { r.running = false }()

	stop := r.watch(ctx)
	defer stop()
	return fn()
}

// watch interrupts the VM on timeout or cancellation until the returned
// function is called.
func (r *Runtime) watch(ctx context.Context) func() {
	var timeout <-chan time.Time
	var timer *time.Timer
	if r.config.Timeout > 0 {
		timer = time.NewTimer(r.config.Timeout)
		timeout = timer.C
	}

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-timeout:
			r.vm.Interrupt("execution timeout exceeded")
		case <-ctx.Done():
			r.vm.Interrupt("context cancelled")
		case <-done:
		}
	}()

	return func() {
		close(done)
		<-exited
		if timer != nil {
			timer.Stop()
		}
		r.vm.ClearInterrupt()
	}
}

// setupGlobals configures global objects and security
func (r *Runtime) setupGlobals() error {
	// Remove dangerous globals
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := r.vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	if r.config.EnableConsole {
		console := r.vm.NewObject()
		for _, level := range []string{"log", "warn", "error", "info"} {
			if err := console.Set(level, r.makeConsoleFunc(level)); err != nil {
				return err
			}
		}
		if err := r.vm.Set("console", console); err != nil {
			return err
		}
	}
	return nil
}

// makeConsoleFunc creates a console function
func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")

		r.consoleMu.Lock()
		r.console = append(r.console, LogEntry{
			Level:   level,
			Message: msg,
			Time:    time.Now(),
		})
		r.consoleMu.Unlock()

		r.logger.Debug("console", zap.String("level", level), zap.String("message", msg))
		return goja.Undefined()
	}
}

// Release marks the context as torn down. Script can no longer be run in it
// and callbacks targeting it are dropped.
func (r *Runtime) Release() {
	r.released = true
}

// Released reports whether Release has been called.
func (r *Runtime) Released() bool { return r.released }

func (r *Runtime) Browser() content.Browser { return r.browser }
func (r *Runtime) Frame() content.Frame     { return r.frame }

func (r *Runtime) IsSame(other content.ScriptContext) bool {
	o, ok := other.(*Runtime)
	return ok && o == r
}

func (r *Runtime) Enter() bool {
	if r.released {
		return false
	}
	r.depth++
	return true
}

func (r *Runtime) Exit() {
	if r.depth > 0 {
		r.depth--
	}
}

// Bind installs fn as a read-only, non-enumerable global function. Errors
// returned by fn are thrown into script.
func (r *Runtime) Bind(name string, fn content.NativeFunction) error {
	native := func(call goja.FunctionCall) goja.Value {
		args := make([]content.Value, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = r.wrap(arg)
		}
		ret, err := fn(r.ctx, args)
		if err != nil {
			panic(r.vm.NewGoError(err))
		}
		return r.unwrap(ret)
	}
	return r.vm.GlobalObject().DefineDataProperty(name, r.vm.ToValue(native), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
}

func (r *Runtime) NewInt(v int32) content.Value     { return r.wrap(r.vm.ToValue(v)) }
func (r *Runtime) NewBool(v bool) content.Value     { return r.wrap(r.vm.ToValue(v)) }
func (r *Runtime) NewString(v string) content.Value { return r.wrap(r.vm.ToValue(v)) }

// NewArrayBuffer wraps data in an ArrayBuffer. data is retained.
func (r *Runtime) NewArrayBuffer(data []byte) content.Value {
	return r.wrap(r.vm.ToValue(r.vm.NewArrayBuffer(data)))
}

// exportValue converts goja value to Go value
func exportValue(val goja.Value) any {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}
