package lead

import (
	"errors"
	"fmt"
)

var (
	// ErrChatNotFound is returned by a ChatDirectory when the id is unknown.
	ErrChatNotFound = errors.New("lead: chat not found")
	// ErrDuplicateChat is returned by ChatDirectory.Create on an id conflict.
	ErrDuplicateChat = errors.New("lead: chat already exists")
)

// ValidationError reports malformed or missing lead input. It is recovered
// locally: the conversation re-prompts, the HTTP entry point rejects with 400.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("lead: invalid %s: %s", e.Field, e.Reason)
}

// RetrievalError reports a remote object fetch or delete failure. A fetch
// failure aborts the dispatch; a purge failure after delivery is reported
// alongside the delivered message ids.
type RetrievalError struct {
	Key string
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("lead: retrieve %s: %v", e.Key, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// DeliveryError reports a terminal transport failure for one target,
// including a failed retry after a chat migration.
type DeliveryError struct {
	ChatID string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("lead: deliver to chat %s: %v", e.ChatID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
