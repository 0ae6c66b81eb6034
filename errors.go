package imgproc

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("imgproc: no store configured")
	ErrStoreClosed = errors.New("imgproc: store closed")

	// Not found errors.
	ErrBatchNotFound = errors.New("imgproc: batch not found")
	ErrItemNotFound  = errors.New("imgproc: item not found")
	ErrBlobNotFound  = errors.New("imgproc: blob not found")

	// Conflict errors.
	ErrBatchAlreadyExists = errors.New("imgproc: batch already exists")
	ErrBatchNotTerminal   = errors.New("imgproc: batch has not reached a terminal status")

	// State errors.
	ErrInvalidTransition = errors.New("imgproc: invalid state transition")

	// Queue errors.
	ErrQueueClosed = errors.New("imgproc: queue closed")
)
