package lead

import (
	"context"
	"io"
)

// ChatDirectory is the durable registry of connected destination chats.
type ChatDirectory interface {
	// Get returns ErrChatNotFound when the id is unknown.
	Get(ctx context.Context, id string) (ChatRef, error)
	// Create returns ErrDuplicateChat when the id already exists.
	Create(ctx context.Context, chat ChatRef) error
	Delete(ctx context.Context, id string) error
	Filter(ctx context.Context, limit int) ([]ChatRef, error)
}

// MessageStore persists delivery records for messages that reached a chat.
type MessageStore interface {
	CreateMany(ctx context.Context, records []DeliveryRecord) error
}

// ObjectInfo carries metadata read alongside a stored object.
type ObjectInfo struct {
	DisplayName string
	ContentType string
}

// ObjectStore abstracts the attachment bucket.
type ObjectStore interface {
	GetObject(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	DeleteObject(ctx context.Context, key string) error
}

// SendStatus distinguishes the three outcomes of a transport send.
type SendStatus int

const (
	// SendDelivered means the message reached the chat.
	SendDelivered SendStatus = iota
	// SendMoved means the chat identifier is stale; MovedTo carries the
	// replacement identifier and nothing was delivered.
	SendMoved
	// SendFailed means the send failed for any other reason.
	SendFailed
)

// SendResult is the outcome of one transport send attempt. The moved case is
// a regular variant, not an error: the dispatcher owns the retry policy.
type SendResult struct {
	Status    SendStatus
	MessageID string
	MovedTo   int64
	Err       error
}

// Delivered builds a successful result.
func Delivered(messageID string) SendResult {
	return SendResult{Status: SendDelivered, MessageID: messageID}
}

// Moved builds a stale-identifier result.
func Moved(newID int64) SendResult {
	return SendResult{Status: SendMoved, MovedTo: newID}
}

// Failed builds a failed result.
func Failed(err error) SendResult {
	return SendResult{Status: SendFailed, Err: err}
}

// Transport delivers composed messages to a chat. Implementations must not
// block indefinitely: an unacknowledged send is a failure, not a pending one.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string) SendResult
	SendVoice(ctx context.Context, chatID int64, voice Attachment, caption string) SendResult
	// SendMediaGroup sends the batch as one grouped message with the caption
	// on the last item and returns the identifier of the first message.
	SendMediaGroup(ctx context.Context, chatID int64, batch []Attachment, caption string) SendResult
}
