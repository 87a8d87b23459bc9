package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/leadrelay/leadrelay/lead"
)

// MessageRepo persists delivery records in Postgres.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo builds a MessageRepo over an open connection pool.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMany inserts all records in one statement.
func (r *MessageRepo) CreateMany(ctx context.Context, records []lead.DeliveryRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO delivered_messages (message_id, chat_id, phone, body)
		 VALUES (:message_id, :chat_id, :phone, :body)`,
		records,
	)
	if err != nil {
		return fmt.Errorf("insert delivery records: %w", err)
	}
	return nil
}
