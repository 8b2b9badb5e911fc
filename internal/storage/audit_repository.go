package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/stockmeta/internal/models"
)

// AuditRepository handles the append-only audit event stream in ClickHouse.
// Writes are best effort; audit failures never fail the billing operation
// that produced them.
type AuditRepository struct {
	db *ClickHouseDB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *ClickHouseDB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Insert inserts a single audit event
func (r *AuditRepository) Insert(ctx context.Context, event *models.AuditEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if event.Details == nil {
		event.Details = map[string]string{}
	}

	query := `
		INSERT INTO audit_events (event_type, user_id, severity, details, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	err := r.db.Conn().Exec(ctx, query,
		event.EventType,
		event.UserID,
		event.Severity,
		event.Details,
		event.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}

	return nil
}

// BatchInsert inserts multiple audit events in a batch
func (r *AuditRepository) BatchInsert(ctx context.Context, events []*models.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO audit_events (event_type, user_id, severity, details, created_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, event := range events {
		if event.CreatedAt.IsZero() {
			event.CreatedAt = time.Now()
		}
		details := event.Details
		if details == nil {
			details = map[string]string{}
		}

		if err := batch.Append(
			event.EventType,
			event.UserID,
			event.Severity,
			details,
			event.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to append audit event: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send audit batch: %w", err)
	}

	return nil
}

// ListRecent returns the most recent audit events, optionally filtered by
// event type.
func (r *AuditRepository) ListRecent(ctx context.Context, eventType string, limit int) ([]*models.AuditEvent, error) {
	query := `
		SELECT event_type, user_id, severity, details, created_at
		FROM audit_events
		WHERE (? = '' OR event_type = ?)
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.Conn().Query(ctx, query, eventType, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		var event models.AuditEvent
		if err := rows.Scan(
			&event.EventType,
			&event.UserID,
			&event.Severity,
			&event.Details,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}

	return events, nil
}

// ListByUser returns the most recent audit events for one user
func (r *AuditRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.AuditEvent, error) {
	query := `
		SELECT event_type, user_id, severity, details, created_at
		FROM audit_events
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.Conn().Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		var event models.AuditEvent
		if err := rows.Scan(
			&event.EventType,
			&event.UserID,
			&event.Severity,
			&event.Details,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}

	return events, nil
}
