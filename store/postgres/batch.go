package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	imgproc "github.com/Rohithcheryala/Image-Processing-API"
	"github.com/Rohithcheryala/Image-Processing-API/batch"
	"github.com/Rohithcheryala/Image-Processing-API/id"
)

const batchColumns = `
	id, status, source_name, item_count, completed_count, failed_count,
	webhook_url, webhook_state, cancel_requested, cause,
	completed_at, created_at, updated_at`

// CreateBatch persists a pending batch together with all of its items in
// one transaction.
func (s *Store) CreateBatch(ctx context.Context, b *batch.Batch, items []*batch.Item) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("imgproc/postgres: begin create batch: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx, `
		INSERT INTO imgproc_batches (
			id, status, source_name, item_count, completed_count, failed_count,
			webhook_url, webhook_state, cancel_requested, cause,
			completed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		b.ID.String(), string(b.Status), b.SourceName,
		b.ItemCount, b.CompletedCount, b.FailedCount,
		b.WebhookURL, string(b.WebhookState), b.CancelRequested, b.Cause,
		b.CompletedAt, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return imgproc.ErrBatchAlreadyExists
		}
		return fmt.Errorf("imgproc/postgres: insert batch: %w", err)
	}

	for _, it := range items {
		_, err = tx.Exec(ctx, `
			INSERT INTO imgproc_items (
				id, batch_id, sequence_number, name,
				input_refs, output_refs, status, error,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			it.ID.String(), it.BatchID.String(), it.Sequence, it.Name,
			it.InputRefs, it.OutputRefs, string(it.Status), it.Error,
			it.CreatedAt, it.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("imgproc/postgres: insert item %s: %w", it.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("imgproc/postgres: commit create batch: %w", err)
	}
	return nil
}

// GetBatch retrieves a batch by ID.
func (s *Store) GetBatch(ctx context.Context, batchID id.BatchID) (*batch.Batch, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM imgproc_batches WHERE id = $1`,
		batchID.String(),
	)
	b, err := scanBatch(row)
	if err != nil {
		if isNoRows(err) {
			return nil, imgproc.ErrBatchNotFound
		}
		return nil, fmt.Errorf("imgproc/postgres: get batch: %w", err)
	}
	return b, nil
}

// ListBatches returns batches matching opts ordered by creation time.
func (s *Store) ListBatches(ctx context.Context, opts batch.ListOpts) ([]*batch.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM imgproc_batches`
	args := []any{}
	var where []string
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		where = append(where, fmt.Sprintf(`status = $%d`, len(args)))
	}
	if opts.WebhookState != "" {
		args = append(args, string(opts.WebhookState))
		where = append(where, fmt.Sprintf(`webhook_state = $%d`, len(args)))
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY created_at ASC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("imgproc/postgres: list batches: %w", err)
	}
	defer rows.Close()

	var out []*batch.Batch
	for rows.Next() {
		b, scanErr := scanBatch(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("imgproc/postgres: scan batch: %w", scanErr)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// MarkProcessing transitions a batch pending → processing.
func (s *Store) MarkProcessing(ctx context.Context, batchID id.BatchID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE imgproc_batches
		SET status = 'processing', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`,
		batchID.String(),
	)
	if err != nil {
		return fmt.Errorf("imgproc/postgres: mark processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, batchID)
	}
	return nil
}

// MarkBatchFailed terminally fails a batch. No-op when already terminal.
func (s *Store) MarkBatchFailed(ctx context.Context, batchID id.BatchID, cause string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE imgproc_batches
		SET status = 'failed', cause = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')`,
		batchID.String(), cause,
	)
	if err != nil {
		return fmt.Errorf("imgproc/postgres: mark batch failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Missing batch is an error; an already-terminal one is not.
		if _, getErr := s.GetBatch(ctx, batchID); getErr != nil {
			return getErr
		}
	}
	return nil
}

// RequestCancel sets the cooperative cancellation flag. No-op when the
// batch is already terminal.
func (s *Store) RequestCancel(ctx context.Context, batchID id.BatchID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE imgproc_batches
		SET cancel_requested = TRUE, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')`,
		batchID.String(),
	)
	if err != nil {
		return fmt.Errorf("imgproc/postgres: request cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetBatch(ctx, batchID); getErr != nil {
			return getErr
		}
	}
	return nil
}

// SetWebhookState performs the conditional webhook transition from → to.
func (s *Store) SetWebhookState(ctx context.Context, batchID id.BatchID, from, to batch.WebhookState) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE imgproc_batches
		SET webhook_state = $3, updated_at = NOW()
		WHERE id = $1 AND webhook_state = $2`,
		batchID.String(), string(from), string(to),
	)
	if err != nil {
		return fmt.Errorf("imgproc/postgres: set webhook state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetBatch(ctx, batchID); getErr != nil {
			return getErr
		}
		return imgproc.ErrInvalidTransition
	}
	return nil
}

// PurgeTerminalBefore deletes terminal batches older than the given time.
// Items go with them via ON DELETE CASCADE.
func (s *Store) PurgeTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM imgproc_batches
		WHERE status IN ('completed', 'failed') AND completed_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("imgproc/postgres: purge: %w", err)
	}
	return tag.RowsAffected(), nil
}

// transitionError distinguishes a missing batch from an invalid state.
func (s *Store) transitionError(ctx context.Context, batchID id.BatchID) error {
	if _, err := s.GetBatch(ctx, batchID); err != nil {
		return err
	}
	return imgproc.ErrInvalidTransition
}

// scanBatch reads one batch row in batchColumns order.
func scanBatch(row pgx.Row) (*batch.Batch, error) {
	var b batch.Batch
	var status, webhookState string
	err := row.Scan(
		&b.ID, &status, &b.SourceName,
		&b.ItemCount, &b.CompletedCount, &b.FailedCount,
		&b.WebhookURL, &webhookState, &b.CancelRequested, &b.Cause,
		&b.CompletedAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Status = batch.Status(status)
	b.WebhookState = batch.WebhookState(webhookState)
	return &b, nil
}
