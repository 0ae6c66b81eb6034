// Package postgres implements batch.Store on PostgreSQL using pgx/v5.
// Schema lives in embedded SQL migrations applied by Migrate. FinalizeItem
// runs as a single transaction whose counter UPDATE takes the batch row
// lock, which serializes the terminal transition and the webhook claim.
package postgres
