package observability

import (
	"context"

	"github.com/aretw0/stepwise/pkg/domain"
)

// Combine returns Hooks that call every non-nil callback of each input, in order.
func Combine(hooks ...domain.Hooks) domain.Hooks {
	var out domain.Hooks
	for _, h := range hooks {
		out.OnTurn = chain(out.OnTurn, h.OnTurn)
		out.OnAdvance = chain(out.OnAdvance, h.OnAdvance)
		out.OnCache = chain(out.OnCache, h.OnCache)
		out.OnTimer = chain(out.OnTimer, h.OnTimer)
	}
	return out
}

func chain[E any](first, next func(context.Context, *E)) func(context.Context, *E) {
	switch {
	case first == nil:
		return next
	case next == nil:
		return first
	}
	return func(ctx context.Context, ev *E) {
		first(ctx, ev)
		next(ctx, ev)
	}
}
