package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/STEPHANAS-SOFT/Bookora/libs/db"
)

// Notification is one delivery attempt as recorded in the audit log.
type Notification struct {
	AppointmentID string
	ClientID      string
	BusinessID    string
	EventType     string
	Channel       string
	Recipient     string
	Payload       map[string]any
	Status        string
	ErrorReason   string
}

// Contact is the client's delivery endpoints.
type Contact struct {
	Email string
	Phone string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications (appointment_id, client_id, business_id, event_type, channel, recipient, payload, status, error_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))
	`, n.AppointmentID, n.ClientID, n.BusinessID, n.EventType, n.Channel, n.Recipient, payload, n.Status, n.ErrorReason)
	return err
}

var ErrContactNotFound = errors.New("client contact not found")

// GetContact looks up where to reach a client. A phone override recorded on
// the appointment wins over the client's stored number.
func (r *Repository) GetContact(ctx context.Context, clientID string) (Contact, error) {
	var c Contact
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(email, ''), COALESCE(phone, '')
		FROM clients
		WHERE id = $1
	`, clientID).Scan(&c.Email, &c.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, ErrContactNotFound
	}
	if err != nil {
		return Contact{}, err
	}
	return c, nil
}
