// Package lead implements the lead intake flow: a per-user conversation
// collecting phone, name, and comment, and the dispatch pipeline that
// forwards the composed lead with its attachments to a destination chat.
package lead

import (
	"path/filepath"
	"strconv"
	"strings"
)

// ChatRef is a logical handle for a destination chat. ID is the durable
// directory key; the live transport identifier is derived from it at
// dispatch time and may change when the chat migrates.
type ChatRef struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// TransportID resolves the directory key to a numeric transport identifier.
func (c ChatRef) TransportID() (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(c.ID), 10, 64)
}

// AttachmentKind is decided once when an attachment enters the system and
// drives how the transport renders it inside a media group.
type AttachmentKind int

const (
	KindDocument AttachmentKind = iota
	KindPhoto
	KindVideo
	KindAudio
	KindAnimation
)

// Attachment is one fetched object staged on local disk. It is owned by the
// dispatch that created it: the local copy is removed when that dispatch
// finishes, whatever the outcome.
type Attachment struct {
	RemoteKey   string
	LocalPath   string
	DisplayName string
	MimeHint    string
	Kind        AttachmentKind
}

// DeliveryRecord is one phone number found in a delivered lead message.
type DeliveryRecord struct {
	MessageID string `db:"message_id"`
	ChatID    string `db:"chat_id"`
	Phone     string `db:"phone"`
	Text      string `db:"body"`
}

// DetectKind classifies an attachment by content type, falling back to the
// display name extension.
func DetectKind(displayName, contentType string) AttachmentKind {
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "image/gif"):
		return KindAnimation
	case strings.HasPrefix(ct, "image/"):
		return KindPhoto
	case strings.HasPrefix(ct, "video/"):
		return KindVideo
	case strings.HasPrefix(ct, "audio/"):
		return KindAudio
	}
	switch strings.ToLower(filepath.Ext(displayName)) {
	case ".jpg", ".jpeg", ".png", ".webp":
		return KindPhoto
	case ".gif":
		return KindAnimation
	case ".mp4", ".mov", ".avi", ".mkv":
		return KindVideo
	case ".ogg", ".mp3", ".m4a", ".wav", ".flac":
		return KindAudio
	}
	return KindDocument
}

var voiceExtensions = map[string]struct{}{
	".ogg": {},
	".mp3": {},
	".m4a": {},
}

// IsVoiceName reports whether a display name carries an audio-like extension
// that routes a single attachment through the voice payload shape.
func IsVoiceName(name string) bool {
	_, ok := voiceExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}
