package middleware

import (
	"context"

	"github.com/Rohithcheryala/Image-Processing-API/batch"
)

// Handler is the terminal function that processes one item.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It receives the
// current context, the item being processed, and the next handler to call.
type Middleware func(ctx context.Context, it *batch.Item, next Handler) error

// Chain composes multiple middleware into one. Middleware apply
// right-to-left: the first middleware in the list is the outermost
// wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, it *batch.Item, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, it, prev)
			}
		}
		return h(ctx)
	}
}
