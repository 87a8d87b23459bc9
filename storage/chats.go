// Package storage provides the Postgres, Redis, and object storage backends
// behind the lead package ports.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/leadrelay/leadrelay/lead"
)

// ChatRepo is the Postgres-backed chat directory.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo builds a ChatRepo over an open connection pool.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

// Get returns the chat with the given id or lead.ErrChatNotFound.
func (r *ChatRepo) Get(ctx context.Context, id string) (lead.ChatRef, error) {
	var chat lead.ChatRef
	err := r.db.GetContext(ctx, &chat, `SELECT id, name FROM chats WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return lead.ChatRef{}, lead.ErrChatNotFound
	}
	if err != nil {
		return lead.ChatRef{}, fmt.Errorf("select chat %s: %w", id, err)
	}
	return chat, nil
}

// Create inserts a chat row; an id conflict maps to lead.ErrDuplicateChat.
func (r *ChatRepo) Create(ctx context.Context, chat lead.ChatRef) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO chats (id, name) VALUES ($1, $2)`, chat.ID, chat.Name)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return lead.ErrDuplicateChat
		}
		return fmt.Errorf("insert chat %s: %w", chat.ID, err)
	}
	return nil
}

// Delete removes a chat row. Deleting an unknown id is not an error.
func (r *ChatRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM chats WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete chat %s: %w", id, err)
	}
	return nil
}

// Filter lists chats ordered by display name. limit <= 0 lists everything.
func (r *ChatRepo) Filter(ctx context.Context, limit int) ([]lead.ChatRef, error) {
	query := `SELECT id, name FROM chats ORDER BY name`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	var chats []lead.ChatRef
	if err := r.db.SelectContext(ctx, &chats, query, args...); err != nil {
		return nil, fmt.Errorf("select chats: %w", err)
	}
	return chats, nil
}
