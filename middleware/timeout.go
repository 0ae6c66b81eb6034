package middleware

import (
	"context"
	"time"

	"github.com/Rohithcheryala/Image-Processing-API/batch"
)

// Timeout returns middleware that bounds item processing to d. When the
// deadline passes the item context is cancelled; fetch and transform
// observe the cancellation and the item fails with
// context.DeadlineExceeded. Zero disables the bound.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *batch.Item, next Handler) error {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
