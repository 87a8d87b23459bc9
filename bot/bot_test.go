package bot

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/leadrelay/leadrelay/lead"
)

func TestAlbumCollectorMergesItemsIntoOneTurn(t *testing.T) {
	var (
		mu    sync.Mutex
		turns []lead.Turn
		keys  []lead.SessionKey
	)
	done := make(chan struct{})
	collector := newAlbumCollector(func(key lead.SessionKey, turn lead.Turn) {
		mu.Lock()
		defer mu.Unlock()
		keys = append(keys, key)
		turns = append(turns, turn)
		close(done)
	})

	key := lead.SessionKey{BotID: 1, UserID: 42}
	collector.Add("album-1", key, "", []lead.Attachment{{DisplayName: "a.jpg"}})
	collector.Add("album-1", key, "комментарий", []lead.Attachment{{DisplayName: "b.jpg"}})
	collector.Add("album-1", key, "", []lead.Attachment{{DisplayName: "c.jpg"}})

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("album never flushed")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, turns, 1)
	assert.Equal(t, key, keys[0])
	assert.Equal(t, "комментарий", turns[0].Text)
	assert.Len(t, turns[0].Attachments, 3)
}

func TestAlbumCollectorSeparatesAlbums(t *testing.T) {
	var (
		mu      sync.Mutex
		flushed int
	)
	done := make(chan struct{}, 2)
	collector := newAlbumCollector(func(_ lead.SessionKey, _ lead.Turn) {
		mu.Lock()
		flushed++
		mu.Unlock()
		done <- struct{}{}
	})

	key := lead.SessionKey{BotID: 1, UserID: 42}
	collector.Add("album-1", key, "", []lead.Attachment{{DisplayName: "a.jpg"}})
	collector.Add("album-2", key, "", []lead.Attachment{{DisplayName: "b.jpg"}})

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("album never flushed")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, flushed)
}

func TestDescribeMediaPrefersFileNames(t *testing.T) {
	msg := &tele.Message{Document: &tele.Document{FileName: "offer.pdf"}}
	name, kind := describeMedia(msg, msg.Document)
	assert.Equal(t, "offer.pdf", name)
	assert.Equal(t, lead.KindDocument, kind)

	msg = &tele.Message{Audio: &tele.Audio{FileName: "note.mp3"}}
	name, kind = describeMedia(msg, msg.Audio)
	assert.Equal(t, "note.mp3", name)
	assert.Equal(t, lead.KindAudio, kind)
}

func TestDefaultExtCoversEveryKind(t *testing.T) {
	assert.Equal(t, ".jpg", defaultExt(lead.KindPhoto))
	assert.Equal(t, ".mp4", defaultExt(lead.KindVideo))
	assert.Equal(t, ".ogg", defaultExt(lead.KindAudio))
	assert.Equal(t, ".gif", defaultExt(lead.KindAnimation))
	assert.Equal(t, ".bin", defaultExt(lead.KindDocument))
}

func TestClassifyMigrationError(t *testing.T) {
	res := classify(100, tele.GroupError{MigratedTo: 200})
	assert.Equal(t, lead.SendMoved, res.Status)
	assert.Equal(t, int64(200), res.MovedTo)
}

func TestClassifyOtherError(t *testing.T) {
	res := classify(100, errors.New("forbidden"))
	assert.Equal(t, lead.SendFailed, res.Status)
	require.Error(t, res.Err)
}

func TestAlbumItemKinds(t *testing.T) {
	cases := []struct {
		kind lead.AttachmentKind
		want any
	}{
		{lead.KindPhoto, &tele.Photo{}},
		{lead.KindVideo, &tele.Video{}},
		{lead.KindAudio, &tele.Audio{}},
		{lead.KindAnimation, &tele.Animation{}},
		{lead.KindDocument, &tele.Document{}},
	}
	for _, tc := range cases {
		item := albumItem(lead.Attachment{LocalPath: "/tmp/x", Kind: tc.kind}, "caption")
		assert.IsType(t, tc.want, item)
	}
}

func TestCommandNameDropsBotMention(t *testing.T) {
	assert.Equal(t, "/cancel", commandName("/cancel"))
	assert.Equal(t, "/cancel", commandName("/cancel@LeadRelayBot"))
	assert.Equal(t, "/start", commandName(" /start@LeadRelayBot "))
	assert.Equal(t, "", commandName("привет"))
	assert.Equal(t, "", commandName("user@example.com"))
}

func TestBuildAlbumCaptionOnLastItem(t *testing.T) {
	batch := []lead.Attachment{
		{LocalPath: "/tmp/a.jpg", Kind: lead.KindPhoto},
		{LocalPath: "/tmp/b.mp4", Kind: lead.KindVideo},
		{LocalPath: "/tmp/c.pdf", Kind: lead.KindDocument, DisplayName: "c.pdf"},
	}

	album := buildAlbum(batch, "заявка")
	require.Len(t, album, 3)

	photo, ok := album[0].(*tele.Photo)
	require.True(t, ok)
	assert.Empty(t, photo.Caption)

	video, ok := album[1].(*tele.Video)
	require.True(t, ok)
	assert.Empty(t, video.Caption)

	doc, ok := album[2].(*tele.Document)
	require.True(t, ok)
	assert.Equal(t, "заявка", doc.Caption)
	assert.Equal(t, "c.pdf", doc.FileName)
}

func TestBuildAlbumSingleItemCarriesCaption(t *testing.T) {
	album := buildAlbum([]lead.Attachment{{LocalPath: "/tmp/a.jpg", Kind: lead.KindPhoto}}, "заявка")
	require.Len(t, album, 1)

	photo, ok := album[0].(*tele.Photo)
	require.True(t, ok)
	assert.Equal(t, "заявка", photo.Caption)
}
