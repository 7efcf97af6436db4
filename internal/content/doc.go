// Package content implements the content side of the query router.
//
// For every script context it binds two global functions, by default
// cefQuery and cefQueryCancel:
//
//	var id = cefQuery({
//		request: 'ping',          // string or ArrayBuffer, required
//		persistent: false,        // optional
//		onSuccess: function(response) {},         // ArrayBuffer
//		onFailure: function(errorCode, errorMessage) {},
//	});
//	cefQueryCancel(id);
//
// Queries are sent to the host router as process messages; responses are
// routed back to the callbacks of the originating context. Responses for a
// context that has been released are dropped.
//
// All router state is owned by a single sequence.Runner, normally the loop
// that runs the script engine.
package content
