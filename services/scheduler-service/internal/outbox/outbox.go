package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/STEPHANAS-SOFT/Bookora/libs/db"
	otelx "github.com/STEPHANAS-SOFT/Bookora/libs/otel"
	"github.com/STEPHANAS-SOFT/Bookora/services/scheduler-service/internal/sweep"
)

type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, evt Event) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, traceparent, tracestate)
	return err
}

type Record struct {
	ID          int64
	EventID     string
	AggregateID string
	EventType   string
	Payload     []byte
	Traceparent string
	Tracestate  string
	CreatedAt   time.Time
}

func (r *Repository) FetchUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id, aggregate_id, event_type, payload, traceparent, tracestate, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rcd Record
		if err := rows.Scan(&rcd.ID, &rcd.EventID, &rcd.AggregateID, &rcd.EventType, &rcd.Payload, &rcd.Traceparent, &rcd.Tracestate, &rcd.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rcd)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE outbox_events
		SET published_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

// Dispatcher adapts the outbox repository to the sweepers. The event payload
// carries the appointment summary plus whatever extras the sweeper attaches.
type Dispatcher struct {
	repo *Repository
}

func NewDispatcher(repo *Repository) *Dispatcher {
	return &Dispatcher{repo: repo}
}

func (d *Dispatcher) Dispatch(ctx context.Context, tx sweep.Tx, eventType string, due sweep.Due, extra map[string]any) error {
	pt, ok := tx.(pgx.Tx)
	if !ok {
		return fmt.Errorf("outbox: unexpected transaction type %T", tx)
	}

	payload := map[string]any{
		"appointment_id":    due.AppointmentID,
		"client_id":         due.ClientID,
		"business_id":       due.BusinessID,
		"service_id":        due.ServiceID,
		"start_time":        due.StartTime.UTC().Format(time.RFC3339),
		"end_time":          due.EndTime.UTC().Format(time.RFC3339),
		"confirmation_code": due.ConfirmationCode,
	}
	if due.StaffID != "" {
		payload["staff_id"] = due.StaffID
	}
	if due.ClientPhoneOverride != "" {
		payload["client_phone_override"] = due.ClientPhoneOverride
	}
	for k, v := range extra {
		payload[k] = v
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return d.repo.Insert(ctx, pt, Event{
		AggregateType: "appointment",
		AggregateID:   due.AppointmentID,
		EventType:     eventType,
		Payload:       raw,
	})
}
