package lead

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, *MemorySessions, *fakeDirectory, *fakeTransport, *fakeMessages) {
	t.Helper()
	sessions := NewMemorySessions()
	chats := newFakeDirectory(ChatRef{ID: "100", Name: "Sales"})
	transport := newFakeTransport()
	messages := &fakeMessages{}
	dispatcher := NewDispatcher(transport, chats, messages, NewFetcher(newFakeObjects(), t.TempDir()))
	return NewEngine(sessions, chats, dispatcher), sessions, chats, transport, messages
}

func TestSelectChatMovesToPhoneStep(t *testing.T) {
	engine, sessions, _, _, _ := newTestEngine(t)
	key := SessionKey{BotID: 1, UserID: 42}

	ev, err := engine.SelectChat(context.Background(), key, "100")
	require.NoError(t, err)
	assert.Equal(t, EventPromptPhone, ev.Kind)
	assert.Equal(t, "Sales", ev.Chat.Name)

	sess, err := sessions.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingPhone, sess.State)
	require.NotNil(t, sess.Draft.Chat)
	assert.Equal(t, "100", sess.Draft.Chat.ID)
	assert.Empty(t, sess.Draft.Phone)
	assert.Empty(t, sess.Draft.Name)
}

func TestSelectChatUnknownID(t *testing.T) {
	engine, _, _, _, _ := newTestEngine(t)

	_, err := engine.SelectChat(context.Background(), SessionKey{BotID: 1, UserID: 42}, "nope")
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestTurnInvalidPhoneKeepsState(t *testing.T) {
	engine, sessions, _, _, _ := newTestEngine(t)
	key := SessionKey{BotID: 1, UserID: 42}

	_, err := engine.SelectChat(context.Background(), key, "100")
	require.NoError(t, err)

	ev, err := engine.Turn(context.Background(), key, Turn{Text: "not a phone"})
	require.NoError(t, err)
	assert.Equal(t, EventInvalidPhone, ev.Kind)

	var verr *ValidationError
	require.ErrorAs(t, ev.Err, &verr)

	sess, err := sessions.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingPhone, sess.State)
	assert.Empty(t, sess.Draft.Phone)
}

func TestFullConversationDispatchesLead(t *testing.T) {
	engine, sessions, _, transport, messages := newTestEngine(t)
	key := SessionKey{BotID: 1, UserID: 42}

	_, err := engine.SelectChat(context.Background(), key, "100")
	require.NoError(t, err)

	ev, err := engine.Turn(context.Background(), key, Turn{Text: "89991234567"})
	require.NoError(t, err)
	assert.Equal(t, EventPromptName, ev.Kind)

	ev, err = engine.Turn(context.Background(), key, Turn{Text: "Иван"})
	require.NoError(t, err)
	assert.Equal(t, EventPromptComment, ev.Kind)

	ev, err = engine.Turn(context.Background(), key, Turn{Text: "перезвонить"})
	require.NoError(t, err)
	assert.Equal(t, EventDispatched, ev.Kind)
	assert.Len(t, ev.MessageIDs, 1)
	assert.NoError(t, ev.Err)

	require.Len(t, transport.sent, 1)
	assert.Contains(t, transport.sent[0].text, "+7 999 123-45-67")
	assert.Contains(t, transport.sent[0].text, "Иван")
	assert.Contains(t, transport.sent[0].text, "перезвонить")

	require.Len(t, messages.records, 1)

	sess, err := sessions.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, sess.State)
	assert.Nil(t, sess.Draft.Chat)
}

func TestFinalTurnForwardsAttachments(t *testing.T) {
	engine, _, _, transport, _ := newTestEngine(t)
	key := SessionKey{BotID: 1, UserID: 42}

	_, err := engine.SelectChat(context.Background(), key, "100")
	require.NoError(t, err)
	_, err = engine.Turn(context.Background(), key, Turn{Text: "89991234567"})
	require.NoError(t, err)
	_, err = engine.Turn(context.Background(), key, Turn{Text: "Иван"})
	require.NoError(t, err)

	att := stageAttachment(t, "scan.jpg")
	ev, err := engine.Turn(context.Background(), key, Turn{Text: "документы во вложении", Attachments: []Attachment{att}})
	require.NoError(t, err)
	assert.Equal(t, EventDispatched, ev.Kind)

	require.Len(t, transport.sent, 1)
	assert.Equal(t, "media_group", transport.sent[0].kind)
}

func TestTurnOutsideConversationReleasesAttachments(t *testing.T) {
	engine, _, _, transport, _ := newTestEngine(t)
	key := SessionKey{BotID: 1, UserID: 42}

	att := stageAttachment(t, "scan.jpg")
	ev, err := engine.Turn(context.Background(), key, Turn{Text: "привет", Attachments: []Attachment{att}})
	require.NoError(t, err)
	assert.Equal(t, EventMenu, ev.Kind)
	assert.Empty(t, transport.sent)

	_, statErr := os.Stat(att.LocalPath)
	assert.True(t, os.IsNotExist(statErr), "attachment outside a dispatch must be released")
}

func TestBackWalksStates(t *testing.T) {
	engine, sessions, _, _, _ := newTestEngine(t)
	key := SessionKey{BotID: 1, UserID: 42}

	_, err := engine.SelectChat(context.Background(), key, "100")
	require.NoError(t, err)
	_, err = engine.Turn(context.Background(), key, Turn{Text: "89991234567"})
	require.NoError(t, err)
	_, err = engine.Turn(context.Background(), key, Turn{Text: "Иван"})
	require.NoError(t, err)

	ev, err := engine.Back(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, EventPromptName, ev.Kind)

	ev, err = engine.Back(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, EventPromptPhone, ev.Kind)
	assert.Equal(t, "100", ev.Chat.ID)

	ev, err = engine.Back(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, EventMenu, ev.Kind)

	sess, err := sessions.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, sess.State)
	assert.Nil(t, sess.Draft.Chat)
}

func TestCancelDiscardsDraft(t *testing.T) {
	engine, sessions, _, _, _ := newTestEngine(t)
	key := SessionKey{BotID: 1, UserID: 42}

	_, err := engine.SelectChat(context.Background(), key, "100")
	require.NoError(t, err)
	_, err = engine.Turn(context.Background(), key, Turn{Text: "89991234567"})
	require.NoError(t, err)

	ev, err := engine.Cancel(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, EventCancelled, ev.Kind)

	sess, err := sessions.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, sess.State)
	assert.Empty(t, sess.Draft.Phone)
}

func TestDispatchFailureSurfacesAsEvent(t *testing.T) {
	engine, sessions, _, transport, _ := newTestEngine(t)
	key := SessionKey{BotID: 1, UserID: 42}
	transport.script(100, Failed(errors.New("forbidden")))

	_, err := engine.SelectChat(context.Background(), key, "100")
	require.NoError(t, err)
	_, err = engine.Turn(context.Background(), key, Turn{Text: "89991234567"})
	require.NoError(t, err)
	_, err = engine.Turn(context.Background(), key, Turn{Text: "Иван"})
	require.NoError(t, err)

	ev, err := engine.Turn(context.Background(), key, Turn{Text: "комментарий"})
	require.NoError(t, err)
	assert.Equal(t, EventDispatchFailed, ev.Kind)
	require.Error(t, ev.Err)

	// The conversation is already over; a failed dispatch does not revive it.
	sess, err := sessions.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, sess.State)
}
