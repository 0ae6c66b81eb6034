package batch

import (
	"time"

	imgproc "github.com/Rohithcheryala/Image-Processing-API"
	"github.com/Rohithcheryala/Image-Processing-API/id"
)

// Status represents the lifecycle state of a batch.
type Status string

const (
	// StatusPending means the batch has been created but its work tokens
	// are not yet all enqueued.
	StatusPending Status = "pending"
	// StatusProcessing means work tokens are enqueued and workers are
	// (or soon will be) draining them.
	StatusProcessing Status = "processing"
	// StatusCompleted means every item finished and at least one succeeded.
	StatusCompleted Status = "completed"
	// StatusFailed means the batch terminally failed: either intake could
	// not enqueue its tokens, or every single item failed.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status admits no further transition.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// WebhookState tracks the completion-notification lifecycle independently
// of the batch status.
type WebhookState string

const (
	// WebhookNone means no dispatch has been claimed yet (or no URL is set).
	WebhookNone WebhookState = "none"
	// WebhookPending means the terminal transition claimed the dispatch
	// and delivery is in progress.
	WebhookPending WebhookState = "pending"
	// WebhookDelivered means the endpoint acknowledged the notification.
	WebhookDelivered WebhookState = "delivered"
	// WebhookExhausted means every delivery attempt failed.
	WebhookExhausted WebhookState = "exhausted"
)

// Batch is a submitted group of items processed together.
type Batch struct {
	imgproc.Entity

	ID         id.BatchID `json:"id"`
	Status     Status     `json:"status"`
	SourceName string     `json:"source_name,omitempty"`

	// ItemCount is fixed at creation. CompletedCount and FailedCount are
	// monotonically non-decreasing and only mutated via Store.FinalizeItem.
	ItemCount      int `json:"item_count"`
	CompletedCount int `json:"completed_count"`
	FailedCount    int `json:"failed_count"`

	WebhookURL   string       `json:"webhook_url,omitempty"`
	WebhookState WebhookState `json:"webhook_state"`

	// CancelRequested is the cooperative cancellation flag. Workers check
	// it before each reference and short-circuit remaining work.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	// Cause carries the batch-level failure reason when intake could not
	// enqueue all work tokens.
	Cause string `json:"cause,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Progress is the post-increment counter snapshot returned by FinalizeItem.
// Returning it from the same atomic operation lets the caller detect the
// terminal boundary without a second read.
type Progress struct {
	Completed int `json:"completed_count"`
	Failed    int `json:"failed_count"`
	Total     int `json:"item_count"`
}

// Done reports whether every item has reached a terminal state.
func (p Progress) Done() bool {
	return p.Completed+p.Failed >= p.Total
}

// TerminalStatus returns the batch status implied by the counters once
// Done. A batch fails only when every item failed; any success completes
// it, with FailedCount surfaced separately.
func (p Progress) TerminalStatus() Status {
	if p.Failed > 0 && p.Completed == 0 {
		return StatusFailed
	}
	return StatusCompleted
}

// Percentage returns the processed fraction in [0,100].
func (p Progress) Percentage() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Completed+p.Failed) / float64(p.Total) * 100
}
