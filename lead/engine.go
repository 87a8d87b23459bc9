package lead

import (
	"context"
	"strings"

	"github.com/leadrelay/leadrelay/core/logger"
	"log/slog"
)

// EventKind tells the caller what to render after a conversation step.
type EventKind int

const (
	// EventMenu asks the caller to show the start menu / chat list.
	EventMenu EventKind = iota
	// EventPromptPhone asks for the customer phone; Event.Chat is set.
	EventPromptPhone
	// EventInvalidPhone re-prompts after a failed phone validation.
	EventInvalidPhone
	// EventPromptName asks for the customer name.
	EventPromptName
	// EventPromptComment asks for the final comment.
	EventPromptComment
	// EventDispatched reports a completed dispatch; MessageIDs are set.
	EventDispatched
	// EventDispatchFailed reports a terminal dispatch failure; Err is set.
	EventDispatchFailed
	// EventIncomplete reports a final turn arriving without a selected
	// chat or required fields; the conversation was reset.
	EventIncomplete
	// EventCancelled confirms a cancel.
	EventCancelled
)

// Event is the engine's answer to one conversation step.
type Event struct {
	Kind       EventKind
	Chat       ChatRef
	MessageIDs []string
	Err        error
}

// Turn is one inbound user message inside an active conversation.
// Attachments are local files already staged by the caller; ownership
// passes to the engine, which guarantees their release.
type Turn struct {
	Text        string
	Attachments []Attachment
}

// Engine drives the multi-turn intake conversation. It is stateless itself;
// all per-user progress lives in the SessionStore, which serializes
// concurrent turns for the same key.
type Engine struct {
	sessions   SessionStore
	chats      ChatDirectory
	dispatcher *Dispatcher
}

// NewEngine wires the conversation engine.
func NewEngine(sessions SessionStore, chats ChatDirectory, dispatcher *Dispatcher) *Engine {
	return &Engine{sessions: sessions, chats: chats, dispatcher: dispatcher}
}

// Begin resets the conversation to idle, discarding any draft.
func (e *Engine) Begin(ctx context.Context, key SessionKey) error {
	return e.sessions.Clear(ctx, key)
}

// Cancel clears conversation state and draft together at any step.
func (e *Engine) Cancel(ctx context.Context, key SessionKey) (Event, error) {
	if err := e.sessions.Clear(ctx, key); err != nil {
		return Event{}, err
	}
	logger.Debug(ctx, "lead", "conversation.cancel",
		slog.Int64("user_id", key.UserID),
	)
	return Event{Kind: EventCancelled}, nil
}

// SelectChat binds the conversation to a destination chat and moves it to
// the phone step. The chat must exist in the directory.
func (e *Engine) SelectChat(ctx context.Context, key SessionKey, chatID string) (Event, error) {
	chat, err := e.chats.Get(ctx, chatID)
	if err != nil {
		return Event{}, err
	}
	_, err = e.sessions.Update(ctx, key, func(s *Session) error {
		*s = Session{State: StateAwaitingPhone, Draft: Draft{Chat: &chat}}
		return nil
	})
	if err != nil {
		return Event{}, err
	}
	logger.Info(ctx, "lead", "conversation.chat_selected",
		slog.Int64("user_id", key.UserID),
		slog.String("chat_id", chat.ID),
	)
	return Event{Kind: EventPromptPhone, Chat: chat}, nil
}

// Back steps the conversation one state back. Stepping back from the phone
// step clears the chat selection and returns to the menu.
func (e *Engine) Back(ctx context.Context, key SessionKey) (Event, error) {
	var ev Event
	_, err := e.sessions.Update(ctx, key, func(s *Session) error {
		switch s.State {
		case StateAwaitingComment:
			s.State = StateAwaitingName
			ev = Event{Kind: EventPromptName}
		case StateAwaitingName:
			s.State = StateAwaitingPhone
			if s.Draft.Chat != nil {
				ev = Event{Kind: EventPromptPhone, Chat: *s.Draft.Chat}
			} else {
				ev = Event{Kind: EventPromptPhone}
			}
		default:
			*s = Session{State: StateIdle}
			ev = Event{Kind: EventMenu}
		}
		return nil
	})
	if err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Turn feeds one user message into the conversation. On the final step the
// session is cleared and the lead is dispatched with whatever attachments
// the turn carried.
func (e *Engine) Turn(ctx context.Context, key SessionKey, turn Turn) (Event, error) {
	var (
		ev  Event
		req *DispatchRequest
	)
	_, err := e.sessions.Update(ctx, key, func(s *Session) error {
		switch s.State {
		case StateAwaitingPhone:
			phone, verr := NormalizePhone(turn.Text)
			if verr != nil {
				ev = Event{Kind: EventInvalidPhone, Err: verr}
				return nil
			}
			s.Draft.Phone = phone
			s.State = StateAwaitingName
			ev = Event{Kind: EventPromptName}
		case StateAwaitingName:
			s.Draft.Name = strings.TrimSpace(turn.Text)
			s.State = StateAwaitingComment
			ev = Event{Kind: EventPromptComment}
		case StateAwaitingComment:
			draft := s.Draft
			*s = Session{State: StateIdle}
			if draft.Chat == nil || draft.Phone == "" || draft.Name == "" {
				ev = Event{Kind: EventIncomplete}
				return nil
			}
			req = &DispatchRequest{
				Targets:     []ChatRef{*draft.Chat},
				Phone:       draft.Phone,
				Name:        draft.Name,
				Comment:     turn.Text,
				Attachments: turn.Attachments,
			}
			ev = Event{Kind: EventDispatched}
		default:
			ev = Event{Kind: EventMenu}
		}
		return nil
	})
	if err != nil {
		ReleaseLocal(turn.Attachments)
		return Event{}, err
	}
	if req == nil {
		// Attachments outside the final step are not part of any dispatch.
		ReleaseLocal(turn.Attachments)
		return ev, nil
	}

	result, derr := e.dispatcher.Dispatch(ctx, *req)
	ev.MessageIDs = result.MessageIDs
	if derr != nil {
		if len(result.MessageIDs) == 0 {
			return Event{Kind: EventDispatchFailed, Err: derr}, nil
		}
		// Delivered, but post-delivery cleanup or bookkeeping failed.
		ev.Err = derr
	}
	return ev, nil
}
