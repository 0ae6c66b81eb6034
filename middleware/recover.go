package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/Rohithcheryala/Image-Processing-API/batch"
)

// Recover returns middleware that recovers from panics in the handler
// chain. Panics are converted to errors and logged with a stack trace, so
// one malformed image cannot take down a worker.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, it *batch.Item, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("item handler panicked",
					slog.String("item_id", it.ID.String()),
					slog.String("batch_id", it.BatchID.String()),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic processing item %s: %v", it.ID, r)
			}
		}()
		return next(ctx)
	}
}
