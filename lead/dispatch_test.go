package lead

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stageAttachment(t *testing.T, name string) Attachment {
	t.Helper()
	tmp, err := os.CreateTemp(t.TempDir(), "stage-*")
	require.NoError(t, err)
	require.NoError(t, tmp.Close())
	return Attachment{
		LocalPath:   tmp.Name(),
		DisplayName: name,
		Kind:        DetectKind(name, ""),
	}
}

func TestDispatchTextOnly(t *testing.T) {
	transport := newFakeTransport()
	chats := newFakeDirectory(ChatRef{ID: "100", Name: "Sales"})
	messages := &fakeMessages{}
	d := NewDispatcher(transport, chats, messages, NewFetcher(newFakeObjects(), t.TempDir()))

	res, err := d.Dispatch(context.Background(), DispatchRequest{
		Targets: []ChatRef{{ID: "100", Name: "Sales"}},
		Phone:   "+7 999 123-45-67",
		Name:    "Иван",
		Comment: "без вложений",
	})
	require.NoError(t, err)
	require.Len(t, res.MessageIDs, 1)

	require.Len(t, transport.sent, 1)
	assert.Equal(t, "text", transport.sent[0].kind)
	assert.Equal(t, int64(100), transport.sent[0].chatID)
	assert.Contains(t, transport.sent[0].text, "Иван")

	require.Len(t, messages.records, 1)
	assert.Equal(t, "9991234567", messages.records[0].Phone)
	assert.Equal(t, "100", messages.records[0].ChatID)
	assert.Equal(t, res.MessageIDs[0], messages.records[0].MessageID)
}

func TestDispatchSingleVoiceUsesVoiceShape(t *testing.T) {
	transport := newFakeTransport()
	chats := newFakeDirectory(ChatRef{ID: "100", Name: "Sales"})
	d := NewDispatcher(transport, chats, &fakeMessages{}, NewFetcher(newFakeObjects(), t.TempDir()))

	att := stageAttachment(t, "note.ogg")
	_, err := d.Dispatch(context.Background(), DispatchRequest{
		Targets:     []ChatRef{{ID: "100", Name: "Sales"}},
		Phone:       "+7 999 123-45-67",
		Name:        "Иван",
		Attachments: []Attachment{att},
	})
	require.NoError(t, err)

	require.Len(t, transport.sent, 1)
	assert.Equal(t, "voice", transport.sent[0].kind)
	assert.Contains(t, transport.sent[0].caption, "Иван")

	_, statErr := os.Stat(att.LocalPath)
	assert.True(t, os.IsNotExist(statErr), "local copy must be removed after dispatch")
}

func TestDispatchMultipleAttachmentsUseMediaGroup(t *testing.T) {
	transport := newFakeTransport()
	chats := newFakeDirectory(ChatRef{ID: "100", Name: "Sales"})
	d := NewDispatcher(transport, chats, &fakeMessages{}, NewFetcher(newFakeObjects(), t.TempDir()))

	atts := []Attachment{
		stageAttachment(t, "photo.jpg"),
		stageAttachment(t, "note.ogg"),
	}
	_, err := d.Dispatch(context.Background(), DispatchRequest{
		Targets:     []ChatRef{{ID: "100", Name: "Sales"}},
		Phone:       "+7 999 123-45-67",
		Name:        "Иван",
		Attachments: atts,
	})
	require.NoError(t, err)

	require.Len(t, transport.sent, 1)
	assert.Equal(t, "media_group", transport.sent[0].kind)
	assert.Len(t, transport.sent[0].batch, 2)
}

func TestDispatchFetchesRemoteKeysAndPurgesAfterDelivery(t *testing.T) {
	objects := newFakeObjects()
	objects.put("uploads/a.pdf", "pdf-bytes", ObjectInfo{DisplayName: "offer.pdf", ContentType: "application/pdf"})
	objects.put("uploads/b.jpg", "jpg-bytes", ObjectInfo{ContentType: "image/jpeg"})

	transport := newFakeTransport()
	chats := newFakeDirectory(ChatRef{ID: "100", Name: "Sales"})
	scratch := t.TempDir()
	d := NewDispatcher(transport, chats, &fakeMessages{}, NewFetcher(objects, scratch))

	_, err := d.Dispatch(context.Background(), DispatchRequest{
		Targets:        []ChatRef{{ID: "100", Name: "Sales"}},
		Phone:          "+7 999 123-45-67",
		Name:           "Иван",
		AttachmentKeys: []string{"uploads/a.pdf", "uploads/b.jpg"},
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"uploads/a.pdf", "uploads/b.jpg"}, objects.deleted)

	leftovers, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, leftovers, "scratch files must be removed after dispatch")
}

func TestDispatchKeepsRemoteCopiesOnDeliveryFailure(t *testing.T) {
	objects := newFakeObjects()
	objects.put("uploads/a.pdf", "pdf-bytes", ObjectInfo{DisplayName: "offer.pdf"})

	transport := newFakeTransport()
	transport.script(100, Failed(errors.New("forbidden")))
	chats := newFakeDirectory(ChatRef{ID: "100", Name: "Sales"})
	scratch := t.TempDir()
	d := NewDispatcher(transport, chats, &fakeMessages{}, NewFetcher(objects, scratch))

	_, err := d.Dispatch(context.Background(), DispatchRequest{
		Targets:        []ChatRef{{ID: "100", Name: "Sales"}},
		Phone:          "+7 999 123-45-67",
		Name:           "Иван",
		AttachmentKeys: []string{"uploads/a.pdf"},
	})
	require.Error(t, err)

	var derr *DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "100", derr.ChatID)

	assert.Empty(t, objects.deleted, "remote copies stay for a retry")

	leftovers, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, leftovers, "local copies are removed even on failure")
}

func TestDispatchFollowsChatMigration(t *testing.T) {
	transport := newFakeTransport()
	transport.script(100, Moved(200))
	transport.script(200, Delivered("msg-after-move"))
	chats := newFakeDirectory(ChatRef{ID: "100", Name: "Sales"})
	messages := &fakeMessages{}
	d := NewDispatcher(transport, chats, messages, NewFetcher(newFakeObjects(), t.TempDir()))

	res, err := d.Dispatch(context.Background(), DispatchRequest{
		Targets: []ChatRef{{ID: "100", Name: "Sales"}},
		Phone:   "+7 999 123-45-67",
		Name:    "Иван",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"msg-after-move"}, res.MessageIDs)

	// Directory repaired: old row gone, new row carries the same name.
	_, err = chats.Get(context.Background(), "100")
	assert.ErrorIs(t, err, ErrChatNotFound)
	moved, err := chats.Get(context.Background(), "200")
	require.NoError(t, err)
	assert.Equal(t, "Sales", moved.Name)

	// Records point at the live chat id.
	require.Len(t, messages.records, 1)
	assert.Equal(t, "200", messages.records[0].ChatID)
}

func TestDispatchMigrationRetriedOnlyOnce(t *testing.T) {
	transport := newFakeTransport()
	transport.script(100, Moved(200))
	transport.script(200, Moved(300))
	chats := newFakeDirectory(ChatRef{ID: "100", Name: "Sales"})
	d := NewDispatcher(transport, chats, &fakeMessages{}, NewFetcher(newFakeObjects(), t.TempDir()))

	_, err := d.Dispatch(context.Background(), DispatchRequest{
		Targets: []ChatRef{{ID: "100", Name: "Sales"}},
		Phone:   "+7 999 123-45-67",
		Name:    "Иван",
	})
	require.Error(t, err)
	assert.Len(t, transport.sent, 2, "no third send after a second migration")
}

func TestDispatchPurgeFailureReportedNextToResult(t *testing.T) {
	objects := newFakeObjects()
	objects.put("uploads/a.pdf", "pdf-bytes", ObjectInfo{})
	objects.delErr["uploads/a.pdf"] = errors.New("bucket unavailable")

	transport := newFakeTransport()
	chats := newFakeDirectory(ChatRef{ID: "100", Name: "Sales"})
	d := NewDispatcher(transport, chats, &fakeMessages{}, NewFetcher(objects, t.TempDir()))

	res, err := d.Dispatch(context.Background(), DispatchRequest{
		Targets:        []ChatRef{{ID: "100", Name: "Sales"}},
		Phone:          "+7 999 123-45-67",
		Name:           "Иван",
		AttachmentKeys: []string{"uploads/a.pdf"},
	})
	require.Error(t, err)

	var rerr *RetrievalError
	require.ErrorAs(t, err, &rerr)
	assert.Len(t, res.MessageIDs, 1, "delivery succeeded despite the purge failure")
}

func TestDispatchPersistsEarlierTargetsWhenLaterFails(t *testing.T) {
	transport := newFakeTransport()
	transport.script(200, Failed(errors.New("kicked")))
	chats := newFakeDirectory(
		ChatRef{ID: "100", Name: "Sales"},
		ChatRef{ID: "200", Name: "Support"},
	)
	messages := &fakeMessages{}
	d := NewDispatcher(transport, chats, messages, NewFetcher(newFakeObjects(), t.TempDir()))

	res, err := d.Dispatch(context.Background(), DispatchRequest{
		Targets: []ChatRef{{ID: "100", Name: "Sales"}, {ID: "200", Name: "Support"}},
		Phone:   "+7 999 123-45-67",
		Name:    "Иван",
	})
	require.Error(t, err)
	assert.Len(t, res.MessageIDs, 1)

	require.Len(t, messages.records, 1)
	assert.Equal(t, "100", messages.records[0].ChatID)
}
