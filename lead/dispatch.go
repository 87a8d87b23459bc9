package lead

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/leadrelay/leadrelay/core/logger"
	"log/slog"
)

// DispatchRequest describes one lead delivery. Attachments may arrive either
// as remote keys (fetched and purged by the dispatcher) or as already staged
// local files (released by the dispatcher, never purged).
type DispatchRequest struct {
	Targets        []ChatRef
	Phone          string
	Name           string
	Comment        string
	SourceLabel    string
	AttachmentKeys []string
	Attachments    []Attachment
}

// DispatchResult carries the identifiers of the messages that reached their
// chats, in target order.
type DispatchResult struct {
	MessageIDs []string
}

// Dispatcher composes a lead message, delivers it to every target chat,
// repairs stale chat identifiers, records delivered phone numbers, and
// cleans up attachments on every path.
type Dispatcher struct {
	transport Transport
	chats     ChatDirectory
	messages  MessageStore
	fetcher   *Fetcher
}

// NewDispatcher wires the dispatch pipeline.
func NewDispatcher(transport Transport, chats ChatDirectory, messages MessageStore, fetcher *Fetcher) *Dispatcher {
	return &Dispatcher{transport: transport, chats: chats, messages: messages, fetcher: fetcher}
}

// Dispatch runs one delivery end to end. Local copies of attachments are
// always removed before return. Remote copies are purged only after every
// target was delivered; a purge failure after delivery is returned as the
// error next to a populated result.
func (d *Dispatcher) Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	atts := req.Attachments
	if len(req.AttachmentKeys) > 0 {
		fetched, err := d.fetcher.FetchBatch(ctx, req.AttachmentKeys)
		if err != nil {
			ReleaseLocal(atts)
			return DispatchResult{}, err
		}
		atts = append(atts, fetched...)
	}
	defer ReleaseLocal(atts)

	text := Compose(req.Phone, req.Name, req.Comment, req.SourceLabel)
	phones := ExtractPhones(text)

	var (
		result  DispatchResult
		records []DeliveryRecord
	)
	for _, target := range req.Targets {
		msgID, liveChatID, err := d.sendResolved(ctx, target, text, atts)
		if err != nil {
			// Deliveries that already succeeded stay recorded.
			if perr := d.persist(ctx, records); perr != nil {
				err = errors.Join(err, perr)
			}
			return result, err
		}
		result.MessageIDs = append(result.MessageIDs, msgID)
		for _, phone := range phones {
			records = append(records, DeliveryRecord{
				MessageID: msgID,
				ChatID:    liveChatID,
				Phone:     phone,
				Text:      text,
			})
		}
	}

	if err := d.persist(ctx, records); err != nil {
		return result, err
	}
	if len(req.AttachmentKeys) > 0 {
		if err := d.fetcher.PurgeBatch(ctx, req.AttachmentKeys); err != nil {
			return result, err
		}
	}
	logger.Info(ctx, "lead", "dispatch.done",
		slog.Int("targets", len(req.Targets)),
		slog.Int("attachments", len(atts)),
		slog.Int("records", len(records)),
	)
	return result, nil
}

// sendResolved delivers to one target, following at most one chat migration.
// It returns the message id and the identifier of the chat that actually
// received the message, which differs from the target id after a migration.
func (d *Dispatcher) sendResolved(ctx context.Context, target ChatRef, text string, atts []Attachment) (string, string, error) {
	chatID, err := target.TransportID()
	if err != nil {
		return "", "", &DeliveryError{ChatID: target.ID, Err: fmt.Errorf("bad chat id: %w", err)}
	}

	res := d.send(ctx, chatID, text, atts)
	if res.Status == SendMoved {
		moved := ChatRef{ID: strconv.FormatInt(res.MovedTo, 10), Name: target.Name}
		if rerr := d.repairDirectory(ctx, target, moved); rerr != nil {
			return "", "", &DeliveryError{ChatID: target.ID, Err: rerr}
		}
		logger.Warn(ctx, "lead", "dispatch.chat_migrated",
			slog.String("old_chat_id", target.ID),
			slog.String("new_chat_id", moved.ID),
		)
		target = moved
		res = d.send(ctx, res.MovedTo, text, atts)
		if res.Status == SendMoved {
			return "", "", &DeliveryError{ChatID: target.ID, Err: errors.New("chat moved again after repair")}
		}
	}
	if res.Status == SendFailed {
		return "", "", &DeliveryError{ChatID: target.ID, Err: res.Err}
	}
	return res.MessageID, target.ID, nil
}

// send picks the payload shape from the attachment set: bare text, a single
// voice-like file, or one media group carrying the text as its caption.
func (d *Dispatcher) send(ctx context.Context, chatID int64, text string, atts []Attachment) SendResult {
	switch {
	case len(atts) == 0:
		return d.transport.SendText(ctx, chatID, text)
	case len(atts) == 1 && IsVoiceName(atts[0].DisplayName):
		return d.transport.SendVoice(ctx, chatID, atts[0], text)
	default:
		return d.transport.SendMediaGroup(ctx, chatID, atts, text)
	}
}

// repairDirectory replaces a migrated chat's directory row with the new
// identifier, keeping the display name. A concurrent repair that already
// created the row is fine.
func (d *Dispatcher) repairDirectory(ctx context.Context, old, moved ChatRef) error {
	if err := d.chats.Delete(ctx, old.ID); err != nil {
		return fmt.Errorf("drop migrated chat %s: %w", old.ID, err)
	}
	if err := d.chats.Create(ctx, moved); err != nil && !errors.Is(err, ErrDuplicateChat) {
		return fmt.Errorf("register migrated chat %s: %w", moved.ID, err)
	}
	return nil
}

func (d *Dispatcher) persist(ctx context.Context, records []DeliveryRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := d.messages.CreateMany(ctx, records); err != nil {
		return fmt.Errorf("record deliveries: %w", err)
	}
	return nil
}
