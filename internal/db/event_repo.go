package db

import (
	"context"
	"log/slog"
	"time"

	"minhafloresta/internal/types"
)

// EventRepo manages the append-only webhook event ledger.
//
// Key invariants:
//   - provider_event_id is unique; RecordIfNew reports created=false for a
//     redelivery instead of erroring, which makes webhook retries no-ops.
//   - Rows are never deleted. Failure marking keeps the payload so the
//     backfill sweep can reprocess later.
type EventRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewEventRepo creates a new EventRepo backed by the given database
// connection (pool or transaction).
func NewEventRepo(db DBTX, logger *slog.Logger) *EventRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventRepo{db: db, logger: logger}
}

// RecordIfNew appends the event to the ledger. It returns created=false when
// the provider event ID was already recorded, which callers use to
// short-circuit duplicate deliveries before any side effects run.
func (r *EventRepo) RecordIfNew(ctx context.Context, providerEventID, eventType string, payload []byte) (created bool, err error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO payment_events (provider_event_id, type, payload, received_at, processed, retry_count)
		 VALUES ($1, $2, $3, NOW(), FALSE, 0)
		 ON CONFLICT (provider_event_id) DO NOTHING`,
		providerEventID,
		eventType,
		payload,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to record payment event", err)
	}

	if tag.RowsAffected() == 0 {
		r.logger.InfoContext(ctx, "duplicate webhook event ignored",
			slog.String("provider_event_id", providerEventID),
			slog.String("type", eventType),
		)
		return false, nil
	}

	return true, nil
}

// MarkProcessed flips the event to processed and clears any previous error.
func (r *EventRepo) MarkProcessed(ctx context.Context, providerEventID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE payment_events
		 SET processed = TRUE,
		     processed_at = NOW(),
		     error = NULL
		 WHERE provider_event_id = $1`,
		providerEventID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark event processed", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalDB, "event to mark processed not found in ledger", nil)
	}
	return nil
}

// MarkFailed records a processing failure against the event and bumps its
// retry counter. The event stays unprocessed so a later sweep can retry it.
func (r *EventRepo) MarkFailed(ctx context.Context, providerEventID string, procErr error) error {
	msg := "unknown error"
	if procErr != nil {
		msg = procErr.Error()
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE payment_events
		 SET error = $1,
		     retry_count = retry_count + 1
		 WHERE provider_event_id = $2`,
		msg,
		providerEventID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark event failed", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalDB, "event to mark failed not found in ledger", nil)
	}
	return nil
}

// ListUnprocessed returns unprocessed events received since the cutoff,
// oldest first, capped at limit. The backfill sweep uses this to pick up
// events whose synchronous processing failed.
func (r *EventRepo) ListUnprocessed(ctx context.Context, since time.Time, limit int) ([]types.PaymentEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, provider_event_id, type, payload, received_at, processed, processed_at, error, retry_count
		 FROM payment_events
		 WHERE processed = FALSE
		   AND received_at >= $1
		 ORDER BY received_at ASC
		 LIMIT $2`,
		since,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list unprocessed events", err)
	}
	defer rows.Close()

	var events []types.PaymentEvent
	for rows.Next() {
		var ev types.PaymentEvent
		if err := rows.Scan(
			&ev.ID,
			&ev.ProviderEventID,
			&ev.Type,
			&ev.Payload,
			&ev.ReceivedAt,
			&ev.Processed,
			&ev.ProcessedAt,
			&ev.Error,
			&ev.RetryCount,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan payment event", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate payment events", err)
	}

	return events, nil
}

// ListProcessedBefore returns processed ledger rows older than the cutoff,
// oldest first. The archiver drains the ledger through this in batches.
func (r *EventRepo) ListProcessedBefore(ctx context.Context, before time.Time, limit int) ([]types.PaymentEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, provider_event_id, type, payload, received_at, processed, processed_at, error, retry_count
		 FROM payment_events
		 WHERE processed = TRUE
		   AND received_at < $1
		 ORDER BY received_at ASC
		 LIMIT $2`,
		before,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list processed events", err)
	}
	defer rows.Close()

	var events []types.PaymentEvent
	for rows.Next() {
		var ev types.PaymentEvent
		if err := rows.Scan(
			&ev.ID,
			&ev.ProviderEventID,
			&ev.Type,
			&ev.Payload,
			&ev.ReceivedAt,
			&ev.Processed,
			&ev.ProcessedAt,
			&ev.Error,
			&ev.RetryCount,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan payment event", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate payment events", err)
	}

	return events, nil
}

// GetByProviderEventID loads a single ledger row.
func (r *EventRepo) GetByProviderEventID(ctx context.Context, providerEventID string) (*types.PaymentEvent, error) {
	var ev types.PaymentEvent
	err := r.db.QueryRow(ctx,
		`SELECT id, provider_event_id, type, payload, received_at, processed, processed_at, error, retry_count
		 FROM payment_events
		 WHERE provider_event_id = $1`,
		providerEventID,
	).Scan(
		&ev.ID,
		&ev.ProviderEventID,
		&ev.Type,
		&ev.Payload,
		&ev.ReceivedAt,
		&ev.Processed,
		&ev.ProcessedAt,
		&ev.Error,
		&ev.RetryCount,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load payment event", err)
	}
	return &ev, nil
}
