package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	imgproc "github.com/Rohithcheryala/Image-Processing-API"
	"github.com/Rohithcheryala/Image-Processing-API/batch"
	"github.com/Rohithcheryala/Image-Processing-API/id"
)

const itemColumns = `
	id, batch_id, sequence_number, name,
	input_refs, output_refs, status, error,
	created_at, updated_at`

// GetItem retrieves an item by ID.
func (s *Store) GetItem(ctx context.Context, itemID id.ItemID) (*batch.Item, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM imgproc_items WHERE id = $1`,
		itemID.String(),
	)
	it, err := scanItem(row)
	if err != nil {
		if isNoRows(err) {
			return nil, imgproc.ErrItemNotFound
		}
		return nil, fmt.Errorf("imgproc/postgres: get item: %w", err)
	}
	return it, nil
}

// ListItems returns a batch's items in sequence order.
func (s *Store) ListItems(ctx context.Context, batchID id.BatchID) ([]*batch.Item, error) {
	// Distinguish an empty batch from a missing one.
	if _, err := s.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM imgproc_items
		 WHERE batch_id = $1 ORDER BY sequence_number ASC`,
		batchID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("imgproc/postgres: list items: %w", err)
	}
	defer rows.Close()

	var out []*batch.Item
	for rows.Next() {
		it, scanErr := scanItem(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("imgproc/postgres: scan item: %w", scanErr)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// MarkItemRunning transitions an item to running. Re-marking a running
// item is allowed so token redelivery can resume work.
func (s *Store) MarkItemRunning(ctx context.Context, itemID id.ItemID) (*batch.Item, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE imgproc_items
		SET status = 'running', updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'running')
		RETURNING `+itemColumns,
		itemID.String(),
	)
	it, err := scanItem(row)
	if err != nil {
		if isNoRows(err) {
			// Either missing or already terminal.
			if _, getErr := s.GetItem(ctx, itemID); getErr != nil {
				return nil, getErr
			}
			return nil, imgproc.ErrInvalidTransition
		}
		return nil, fmt.Errorf("imgproc/postgres: mark item running: %w", err)
	}
	return it, nil
}

// FinalizeItem persists the item's terminal state, bumps the batch
// counters, performs the batch terminal transition at the boundary, and
// claims the webhook at most once — all in one transaction. The counter
// UPDATE takes the batch row lock, so concurrent finalizers of the same
// batch serialize here.
func (s *Store) FinalizeItem(ctx context.Context, item *batch.Item, outcome batch.Outcome) (batch.FinalizeResult, error) {
	var res batch.FinalizeResult

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("imgproc/postgres: begin finalize: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	itemStatus := batch.ItemSucceeded
	if outcome == batch.OutcomeFailed {
		itemStatus = batch.ItemFailed
	}

	// Conditional terminal transition: a redelivered token whose item is
	// already terminal affects nothing.
	tag, err := tx.Exec(ctx, `
		UPDATE imgproc_items
		SET status = $2, output_refs = $3, error = $4, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'running')`,
		item.ID.String(), string(itemStatus), item.OutputRefs, item.Error,
	)
	if err != nil {
		return res, fmt.Errorf("imgproc/postgres: finalize item: %w", err)
	}

	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetItem(ctx, item.ID); getErr != nil {
			return res, getErr
		}
		b, getErr := s.GetBatch(ctx, item.BatchID)
		if getErr != nil {
			return res, getErr
		}
		res.Progress = batch.Progress{
			Completed: b.CompletedCount,
			Failed:    b.FailedCount,
			Total:     b.ItemCount,
		}
		res.BatchStatus = b.Status
		res.AlreadyFinal = true
		return res, nil
	}

	// Bump the counter under the batch row lock and read back everything
	// needed to decide the terminal transition.
	completedDelta, failedDelta := 0, 0
	if outcome == batch.OutcomeSucceeded {
		completedDelta = 1
	} else {
		failedDelta = 1
	}

	var status, webhookURL, webhookState string
	err = tx.QueryRow(ctx, `
		UPDATE imgproc_batches
		SET completed_count = completed_count + $2,
		    failed_count = failed_count + $3,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING completed_count, failed_count, item_count,
		          status, webhook_url, webhook_state`,
		item.BatchID.String(), completedDelta, failedDelta,
	).Scan(
		&res.Progress.Completed, &res.Progress.Failed, &res.Progress.Total,
		&status, &webhookURL, &webhookState,
	)
	if err != nil {
		if isNoRows(err) {
			return batch.FinalizeResult{}, imgproc.ErrBatchNotFound
		}
		return batch.FinalizeResult{}, fmt.Errorf("imgproc/postgres: bump counters: %w", err)
	}

	res.BatchStatus = batch.Status(status)
	if res.Progress.Done() && !res.BatchStatus.Terminal() {
		res.BatchStatus = res.Progress.TerminalStatus()
		claim := webhookURL != "" && batch.WebhookState(webhookState) == batch.WebhookNone
		newState := webhookState
		if claim {
			newState = string(batch.WebhookPending)
			res.WebhookClaimed = true
		}
		_, err = tx.Exec(ctx, `
			UPDATE imgproc_batches
			SET status = $2, webhook_state = $3,
			    completed_at = NOW(), updated_at = NOW()
			WHERE id = $1`,
			item.BatchID.String(), string(res.BatchStatus), newState,
		)
		if err != nil {
			return batch.FinalizeResult{}, fmt.Errorf("imgproc/postgres: terminal transition: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return batch.FinalizeResult{}, fmt.Errorf("imgproc/postgres: commit finalize: %w", err)
	}
	return res, nil
}

// scanItem reads one item row in itemColumns order.
func scanItem(row pgx.Row) (*batch.Item, error) {
	var it batch.Item
	var status string
	err := row.Scan(
		&it.ID, &it.BatchID, &it.Sequence, &it.Name,
		&it.InputRefs, &it.OutputRefs, &status, &it.Error,
		&it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	it.Status = batch.ItemStatus(status)
	return &it, nil
}
