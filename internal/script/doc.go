// Package script hosts page script in a goja runtime.
//
// A Runtime is one script context: it implements content.ScriptContext so
// the content router can bind its query functions into the global scope and
// call back into script when responses arrive. Dangerous globals such as
// require and process are removed, console output is captured, and every
// Execute call is bounded by a timeout.
//
// Example:
//
//	rt := script.New(script.DefaultConfig(), browser, frame)
//	if err := router.OnContextCreated(ctx, rt); err != nil {
//		return err
//	}
//	result, err := rt.Execute(ctx, `cefQuery({request: 'ping', onSuccess: function(r) {}})`)
//
// A Runtime is not safe for concurrent use. It must only be driven from the
// sequence that owns the content router.
package script
