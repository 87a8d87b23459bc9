package bot

import (
	"sync"
	"time"

	"github.com/leadrelay/leadrelay/lead"
)

// albumWindow is how long the collector waits for further items of the same
// media group before treating it as complete. Telegram delivers group items
// as separate updates with a shared album id.
const albumWindow = 600 * time.Millisecond

type albumEntry struct {
	key         lead.SessionKey
	text        string
	attachments []lead.Attachment
	timer       *time.Timer
}

// albumCollector merges the updates of one Telegram media group into a single
// conversation turn.
type albumCollector struct {
	mu      sync.Mutex
	pending map[string]*albumEntry
	flush   func(key lead.SessionKey, turn lead.Turn)
}

func newAlbumCollector(flush func(key lead.SessionKey, turn lead.Turn)) *albumCollector {
	return &albumCollector{
		pending: make(map[string]*albumEntry),
		flush:   flush,
	}
}

// Add buffers one item of a media group. The caption of any item becomes the
// text of the merged turn.
func (a *albumCollector) Add(albumID string, key lead.SessionKey, text string, atts []lead.Attachment) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.pending[albumID]
	if !ok {
		entry = &albumEntry{key: key}
		entry.timer = time.AfterFunc(albumWindow, func() { a.complete(albumID) })
		a.pending[albumID] = entry
	}
	if text != "" {
		entry.text = text
	}
	entry.attachments = append(entry.attachments, atts...)
	entry.timer.Reset(albumWindow)
}

func (a *albumCollector) complete(albumID string) {
	a.mu.Lock()
	entry, ok := a.pending[albumID]
	delete(a.pending, albumID)
	a.mu.Unlock()

	if !ok {
		return
	}
	a.flush(entry.key, lead.Turn{Text: entry.text, Attachments: entry.attachments})
}
