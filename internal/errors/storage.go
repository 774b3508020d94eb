package errors

import (
	"context"
	stderrors "errors"

	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"
)

// Storage wraps a raw store error with goerr context values, logs it at
// error level, and returns the STORAGE_FAILURE the caller should surface.
// Context cancellation is reported as CANCELLED instead.
func Storage(logger *zap.Logger, store, op string, err error, values ...goerr.Option) *CairnError {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return NewCancelled(store + " " + op)
	}

	wrapped := goerr.Wrap(err, store+" store: "+op, values...)
	if logger != nil {
		logger.Error("storage failure",
			zap.String("store", store),
			zap.String("op", op),
			zap.Error(err),
			zap.Any("values", wrapped.Values()),
		)
	}
	return NewStorage(store, op, wrapped)
}

// Values returns the goerr context values attached anywhere in err's chain.
func Values(err error) map[string]any {
	var ge *goerr.Error
	if stderrors.As(err, &ge) {
		return ge.Values()
	}
	return nil
}
