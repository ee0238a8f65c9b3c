// Package journal persists the conversation log and observed recaps to
// PostgreSQL.
//
// Entries are queued without blocking the caller and written in batches
// with pgx.Batch, flushed when the batch fills or on a timer. Recaps are
// inserted with ON CONFLICT DO NOTHING since every recap push repeats the
// whole log.
package journal
