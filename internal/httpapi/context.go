package httpapi

import (
	"context"
)

// serverBaseCtx is canceled on shutdown so in-flight completions stop too.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level base context used by handlers.
// nil resets it to Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx = ctx
}

// withBase derives a context from req that is also canceled when base is.
// The returned cancel func must be called when the handler ends.
func withBase(req, base context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(req)
	stop := context.AfterFunc(base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
