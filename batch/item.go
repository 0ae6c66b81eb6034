package batch

import (
	"fmt"
	"strings"

	imgproc "github.com/Rohithcheryala/Image-Processing-API"
	"github.com/Rohithcheryala/Image-Processing-API/id"
)

// ItemStatus represents the lifecycle state of an item.
type ItemStatus string

const (
	// ItemPending means the item is waiting for a worker to claim its token.
	ItemPending ItemStatus = "pending"
	// ItemRunning means a worker is executing the item's pipeline.
	ItemRunning ItemStatus = "running"
	// ItemSucceeded means the item produced at least one output under the
	// active success policy.
	ItemSucceeded ItemStatus = "succeeded"
	// ItemFailed means the item produced no usable output (or the policy
	// demanded all references and one failed).
	ItemFailed ItemStatus = "failed"
)

// Terminal reports whether the status admits no further transition.
func (s ItemStatus) Terminal() bool {
	return s == ItemSucceeded || s == ItemFailed
}

// Item is one unit of work within a batch.
type Item struct {
	imgproc.Entity

	ID      id.ItemID  `json:"id"`
	BatchID id.BatchID `json:"batch_id"`

	// Sequence is the item's position in the original submission, used
	// for stable ordering in detail listings and exports.
	Sequence int    `json:"sequence_number"`
	Name     string `json:"name"`

	// InputRefs are the source URLs in submission order. OutputRefs holds
	// the stored-result references for the inputs that succeeded, in the
	// same relative order; it stays empty until the item finishes.
	InputRefs  []string `json:"input_refs"`
	OutputRefs []string `json:"output_refs,omitempty"`

	Status ItemStatus `json:"status"`

	// Error aggregates per-reference failure causes. Present iff the item
	// failed, or succeeded partially.
	Error *ItemError `json:"error,omitempty"`
}

// RefFailure records why a single input reference produced no output.
type RefFailure struct {
	Index int    `json:"index"`
	Ref   string `json:"ref"`
	Cause string `json:"cause"`
}

// ItemError aggregates the failure causes of every reference that produced
// no output for an item.
type ItemError struct {
	Failures []RefFailure `json:"failures"`
}

// Error implements the error interface with one line per failed reference.
func (e *ItemError) Error() string {
	if e == nil || len(e.Failures) == 0 {
		return "item error: no failures recorded"
	}
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("ref %d (%s): %s", f.Index, f.Ref, f.Cause)
	}
	return strings.Join(parts, "; ")
}

// Outcome is the terminal result a worker reports for an item.
type Outcome string

const (
	// OutcomeSucceeded increments the batch's completed counter.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeFailed increments the batch's failed counter.
	OutcomeFailed Outcome = "failed"
)

// SuccessPolicy decides an item's terminal status from its reference
// results. What counts as success is an explicit configuration decision
// rather than an inference.
type SuccessPolicy int

const (
	// PolicyPartialSuccess marks an item succeeded when at least one
	// reference produced an output. Downstream consumers only need one
	// usable result per item. This is the default.
	PolicyPartialSuccess SuccessPolicy = iota
	// PolicyAllOrNothing marks an item succeeded only when every
	// reference produced an output.
	PolicyAllOrNothing
)

// Evaluate returns the item outcome for the given result shape.
func (p SuccessPolicy) Evaluate(outputs, failures int) Outcome {
	switch p {
	case PolicyAllOrNothing:
		if failures == 0 && outputs > 0 {
			return OutcomeSucceeded
		}
		return OutcomeFailed
	default:
		if outputs > 0 {
			return OutcomeSucceeded
		}
		return OutcomeFailed
	}
}
