package lead

import (
	"context"
	"sync"
)

// State identifies a conversation step. Transitions only happen in response
// to a matching inbound event; completion, cancellation, and reset all lead
// back to StateIdle.
type State string

const (
	// StateIdle indicates there is no active conversation with the user.
	StateIdle State = "idle"
	// StateAwaitingPhone waits for the customer phone number.
	StateAwaitingPhone State = "lead.awaiting_phone"
	// StateAwaitingName waits for the customer name.
	StateAwaitingName State = "lead.awaiting_name"
	// StateAwaitingComment waits for the final comment; the next turn
	// dispatches the lead.
	StateAwaitingComment State = "lead.awaiting_comment"
)

// SessionKey identifies one conversation: the same user talking to a
// different bot is a different conversation.
type SessionKey struct {
	BotID  int64 `json:"bot_id"`
	UserID int64 `json:"user_id"`
}

// Draft accumulates lead fields across turns. It lives and dies with the
// conversation state: clearing a session discards both.
type Draft struct {
	Chat  *ChatRef `json:"chat,omitempty"`
	Phone string   `json:"phone,omitempty"`
	Name  string   `json:"name,omitempty"`
}

// Session is the persisted conversation snapshot for one key.
type Session struct {
	State State `json:"state"`
	Draft Draft `json:"draft"`
}

// SessionStore keeps conversation sessions. Update must apply the mutation
// atomically per key so two concurrent turns cannot both advance from the
// same state; when fn returns an error nothing is written.
type SessionStore interface {
	Get(ctx context.Context, key SessionKey) (Session, error)
	Update(ctx context.Context, key SessionKey, fn func(*Session) error) (Session, error)
	Clear(ctx context.Context, key SessionKey) error
}

// MemorySessions is an in-memory SessionStore for tests and development.
type MemorySessions struct {
	mu       sync.Mutex
	sessions map[SessionKey]Session
}

// NewMemorySessions constructs an empty in-memory store.
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{sessions: make(map[SessionKey]Session)}
}

// Get returns the session for a key, or an idle session if none exists.
func (m *MemorySessions) Get(_ context.Context, key SessionKey) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[key]; ok {
		return sess, nil
	}
	return Session{State: StateIdle}, nil
}

// Update applies fn to the current session under the store lock.
func (m *MemorySessions) Update(_ context.Context, key SessionKey, fn func(*Session) error) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[key]
	if !ok {
		sess = Session{State: StateIdle}
	}
	if err := fn(&sess); err != nil {
		return Session{}, err
	}
	m.sessions[key] = sess
	return sess, nil
}

// Clear removes the session, discarding state and draft together.
func (m *MemorySessions) Clear(_ context.Context, key SessionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key)
	return nil
}
