package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadrelay/leadrelay/lead"
)

func newTestSessions(t *testing.T) (*SessionRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionRepo(client, time.Hour), mr
}

func TestSessionGetMissingKeyIsIdle(t *testing.T) {
	repo, _ := newTestSessions(t)

	sess, err := repo.Get(context.Background(), lead.SessionKey{BotID: 1, UserID: 42})
	require.NoError(t, err)
	assert.Equal(t, lead.StateIdle, sess.State)
	assert.Nil(t, sess.Draft.Chat)
}

func TestSessionUpdateRoundTrip(t *testing.T) {
	repo, _ := newTestSessions(t)
	key := lead.SessionKey{BotID: 1, UserID: 42}

	updated, err := repo.Update(context.Background(), key, func(s *lead.Session) error {
		s.State = lead.StateAwaitingName
		s.Draft.Chat = &lead.ChatRef{ID: "100", Name: "Sales"}
		s.Draft.Phone = "+7 999 123-45-67"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, lead.StateAwaitingName, updated.State)

	got, err := repo.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, lead.StateAwaitingName, got.State)
	require.NotNil(t, got.Draft.Chat)
	assert.Equal(t, "Sales", got.Draft.Chat.Name)
	assert.Equal(t, "+7 999 123-45-67", got.Draft.Phone)
}

func TestSessionUpdateErrorWritesNothing(t *testing.T) {
	repo, _ := newTestSessions(t)
	key := lead.SessionKey{BotID: 1, UserID: 42}

	boom := errors.New("rejected")
	_, err := repo.Update(context.Background(), key, func(s *lead.Session) error {
		s.State = lead.StateAwaitingPhone
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := repo.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, lead.StateIdle, got.State)
}

func TestSessionKeysAreScopedPerBotAndUser(t *testing.T) {
	repo, _ := newTestSessions(t)

	_, err := repo.Update(context.Background(), lead.SessionKey{BotID: 1, UserID: 42}, func(s *lead.Session) error {
		s.State = lead.StateAwaitingPhone
		return nil
	})
	require.NoError(t, err)

	other, err := repo.Get(context.Background(), lead.SessionKey{BotID: 2, UserID: 42})
	require.NoError(t, err)
	assert.Equal(t, lead.StateIdle, other.State)
}

func TestSessionClearDiscardsDraft(t *testing.T) {
	repo, mr := newTestSessions(t)
	key := lead.SessionKey{BotID: 1, UserID: 42}

	_, err := repo.Update(context.Background(), key, func(s *lead.Session) error {
		s.State = lead.StateAwaitingComment
		s.Draft.Name = "Иван"
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, repo.Clear(context.Background(), key))

	assert.False(t, mr.Exists("fsm:1:42"))
	got, err := repo.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, lead.StateIdle, got.State)
}

func TestSessionExpiresWithTTL(t *testing.T) {
	repo, mr := newTestSessions(t)
	key := lead.SessionKey{BotID: 1, UserID: 42}

	_, err := repo.Update(context.Background(), key, func(s *lead.Session) error {
		s.State = lead.StateAwaitingPhone
		return nil
	})
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)

	got, err := repo.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, lead.StateIdle, got.State)
}
