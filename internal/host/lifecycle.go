package host

import (
	"context"

	"github.com/GriffinCanCode/AgentOS/queryrouter/internal/infrastructure/monitoring"
)

// The hooks below cancel pending queries without notifying the content side,
// whose script context is gone or about to be. Handlers still receive
// OnQueryCanceled. A nil browser selects every browser.

// OnBeforeClose is called when browser is being destroyed.
func (r *Router) OnBeforeClose(ctx context.Context, browser Browser) {
	r.cancelPendingFor(ctx, browser, nil, false, monitoring.ReasonBrowserClosed)
}

// OnRenderProcessTerminated is called when the content process serving
// browser exits.
func (r *Router) OnRenderProcessTerminated(ctx context.Context, browser Browser) {
	r.cancelPendingFor(ctx, browser, nil, false, monitoring.ReasonProcessGone)
}

// OnBeforeBrowse is called when a navigation in frame is allowed to proceed.
// Only main frame navigations cancel queries.
func (r *Router) OnBeforeBrowse(ctx context.Context, browser Browser, frame Frame) {
	if frame == nil || !frame.IsMain() {
		return
	}
	r.cancelPendingFor(ctx, browser, nil, false, monitoring.ReasonNavigation)
}
