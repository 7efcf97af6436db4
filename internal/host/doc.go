// Package host implements the host side of the query router.
//
// Script in a content process issues queries through the content router.
// Each query arrives here as a process message and is offered to an ordered
// chain of handlers until one claims it. The claiming handler receives a
// Callback and must resolve it exactly once, or any number of times with
// success for a persistent query, until the query is canceled.
//
// All router state is owned by a single sequence.Runner. Public methods
// expect the context passed to tasks of that runner; Callback methods,
// CancelPending and the lifecycle hooks may be called from anywhere and hop
// onto the runner themselves.
//
//	loop := sequence.NewLoop("host")
//	router := host.New(config.DefaultRouterConfig(), loop).WithLogger(logger)
//	loop.PostTask(func(ctx context.Context) {
//		router.AddHandler(ctx, host.HandlerFuncs{Query: onQuery}, false)
//	})
package host
