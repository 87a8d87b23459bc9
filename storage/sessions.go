package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leadrelay/leadrelay/lead"
)

// DefaultSessionTTL bounds abandoned conversations.
const DefaultSessionTTL = 24 * time.Hour

// casAttempts bounds optimistic retries when concurrent turns race on a key.
const casAttempts = 5

// SessionRepo keeps conversation sessions in Redis. Update uses WATCH so two
// concurrent turns for the same key cannot both advance from the same state.
type SessionRepo struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionRepo builds a SessionRepo. ttl <= 0 falls back to DefaultSessionTTL.
func NewSessionRepo(client *redis.Client, ttl time.Duration) *SessionRepo {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionRepo{client: client, ttl: ttl}
}

func sessionKey(key lead.SessionKey) string {
	return fmt.Sprintf("fsm:%d:%d", key.BotID, key.UserID)
}

func decodeSession(raw string) (lead.Session, error) {
	var sess lead.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return lead.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}

// Get returns the stored session, or an idle one when the key is absent.
func (r *SessionRepo) Get(ctx context.Context, key lead.SessionKey) (lead.Session, error) {
	raw, err := r.client.Get(ctx, sessionKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return lead.Session{State: lead.StateIdle}, nil
	}
	if err != nil {
		return lead.Session{}, fmt.Errorf("get session: %w", err)
	}
	return decodeSession(raw)
}

// Update applies fn under WATCH, retrying on concurrent modification. When fn
// returns an error nothing is written and the error is passed through.
func (r *SessionRepo) Update(ctx context.Context, key lead.SessionKey, fn func(*lead.Session) error) (lead.Session, error) {
	rkey := sessionKey(key)
	var result lead.Session

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, rkey).Result()
		sess := lead.Session{State: lead.StateIdle}
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("get session: %w", err)
		default:
			if sess, err = decodeSession(raw); err != nil {
				return err
			}
		}

		if err := fn(&sess); err != nil {
			return err
		}

		encoded, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rkey, encoded, r.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		result = sess
		return nil
	}

	for i := 0; i < casAttempts; i++ {
		err := r.client.Watch(ctx, txn, rkey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return lead.Session{}, err
		}
		return result, nil
	}
	return lead.Session{}, fmt.Errorf("update session %s: too many concurrent writes", rkey)
}

// Clear removes the session, discarding state and draft together.
func (r *SessionRepo) Clear(ctx context.Context, key lead.SessionKey) error {
	if err := r.client.Del(ctx, sessionKey(key)).Err(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
