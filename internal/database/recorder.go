package database

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/marketflip/relister/internal/bulk"
)

// BulkRecorder persists run history and writes a listing event to the
// outbox for every finished item. It satisfies the bulk runner's Recorder
// contract: everything here is best-effort and must never fail a run.
type BulkRecorder struct {
	db     *DB
	outbox *OutboxRepository
	logger *slog.Logger
}

func NewBulkRecorder(db *DB, logger *slog.Logger) *BulkRecorder {
	return &BulkRecorder{
		db:     db,
		outbox: NewOutboxRepository(db),
		logger: logger.With("component", "bulk_recorder"),
	}
}

func (r *BulkRecorder) RunStarted(ctx context.Context, runID uuid.UUID, total int) {
	_, err := r.db.pool.Exec(ctx,
		`INSERT INTO bulk_run (id, total_items, started_at) VALUES ($1, $2, $3)`,
		runID, total, time.Now())
	if err != nil {
		r.logger.Error("failed to record run start", "run_id", runID, "error", err)
	}
}

// ItemFinished stores the item's outcome and, for terminal listing states,
// queues an activity event in the same transaction.
func (r *BulkRecorder) ItemFinished(ctx context.Context, runID uuid.UUID, item bulk.Item) {
	listingID := uuid.New()

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO listing (
				id, run_id, item_index, source_url, title,
				quantity, status, message, ebay_item_id, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			listingID, runID, item.Index, item.URL, item.Title,
			item.Quantity, string(item.Status), item.Message, item.EbayItemID, time.Now())
		if err != nil {
			return err
		}

		eventType := ""
		switch item.Status {
		case bulk.StatusListed:
			eventType = EventListingCreated
		case bulk.StatusFailed:
			eventType = EventListingFailed
		default:
			return nil
		}

		payload, err := json.Marshal(map[string]any{
			"run_id":       runID.String(),
			"item_index":   item.Index,
			"source_url":   item.URL,
			"title":        item.Title,
			"ebay_item_id": item.EbayItemID,
			"message":      item.Message,
		})
		if err != nil {
			return err
		}

		return r.outbox.InsertWithTx(ctx, tx, &OutboxEvent{
			AggregateType: "listing",
			AggregateID:   listingID.String(),
			EventType:     eventType,
			Payload:       payload,
		})
	})
	if err != nil {
		r.logger.Error("failed to record item outcome",
			"run_id", runID, "item_index", item.Index, "error", err)
	}
}

func (r *BulkRecorder) RunFinished(ctx context.Context, runID uuid.UUID, processed int, cancelled bool) {
	_, err := r.db.pool.Exec(ctx,
		`UPDATE bulk_run SET processed = $1, cancelled = $2, finished_at = $3 WHERE id = $4`,
		processed, cancelled, time.Now(), runID)
	if err != nil {
		r.logger.Error("failed to record run finish", "run_id", runID, "error", err)
	}
}

// RunSummary is one row of run history for the API.
type RunSummary struct {
	ID         uuid.UUID  `json:"id"`
	TotalItems int        `json:"total_items"`
	Processed  int        `json:"processed"`
	Cancelled  bool       `json:"cancelled"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RecentRuns returns run history, newest first.
func (r *BulkRecorder) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, total_items, processed, cancelled, started_at, finished_at
		FROM bulk_run
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var run RunSummary
		if err := rows.Scan(&run.ID, &run.TotalItems, &run.Processed,
			&run.Cancelled, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
