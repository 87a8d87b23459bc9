// Package bot hosts the Telegram side of the service: the lead transport,
// the intake conversation handlers, and media staging for inbound files.
package bot

import (
	"context"
	"errors"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"github.com/leadrelay/leadrelay/core/logger"
	"github.com/leadrelay/leadrelay/lead"
	"log/slog"
)

// Transport delivers lead messages through the Telegram Bot API.
type Transport struct {
	bot *tele.Bot
}

// NewTransport wraps a running bot.
func NewTransport(bot *tele.Bot) *Transport {
	return &Transport{bot: bot}
}

// SendText delivers a plain text message.
func (t *Transport) SendText(_ context.Context, chatID int64, text string) lead.SendResult {
	msg, err := t.bot.Send(tele.ChatID(chatID), text)
	if err != nil {
		return classify(chatID, err)
	}
	return lead.Delivered(messageID(msg))
}

// SendVoice delivers a single audio-like attachment as a voice message with
// the lead text as its caption.
func (t *Transport) SendVoice(_ context.Context, chatID int64, voice lead.Attachment, caption string) lead.SendResult {
	msg, err := t.bot.Send(tele.ChatID(chatID), &tele.Voice{
		File:    tele.FromDisk(voice.LocalPath),
		Caption: caption,
	})
	if err != nil {
		return classify(chatID, err)
	}
	return lead.Delivered(messageID(msg))
}

// SendMediaGroup delivers the batch as one grouped message. The caption goes
// on the last item so Telegram shows it under the whole group; the identifier
// of the first message comes back as the handle for the group.
func (t *Transport) SendMediaGroup(_ context.Context, chatID int64, batch []lead.Attachment, caption string) lead.SendResult {
	msgs, err := t.bot.SendAlbum(tele.ChatID(chatID), buildAlbum(batch, caption))
	if err != nil {
		return classify(chatID, err)
	}
	if len(msgs) == 0 {
		return lead.Failed(errors.New("empty album response"))
	}
	return lead.Delivered(messageID(&msgs[0]))
}

// buildAlbum assembles the grouped payload. Only the last item carries the
// lead text; earlier items stay caption-free.
func buildAlbum(batch []lead.Attachment, caption string) tele.Album {
	album := make(tele.Album, 0, len(batch))
	for i, att := range batch {
		itemCaption := ""
		if i == len(batch)-1 {
			itemCaption = caption
		}
		album = append(album, albumItem(att, itemCaption))
	}
	return album
}

func albumItem(att lead.Attachment, caption string) tele.Inputtable {
	file := tele.FromDisk(att.LocalPath)
	switch att.Kind {
	case lead.KindPhoto:
		return &tele.Photo{File: file, Caption: caption}
	case lead.KindVideo:
		return &tele.Video{File: file, Caption: caption}
	case lead.KindAudio:
		return &tele.Audio{File: file, Caption: caption, FileName: att.DisplayName}
	case lead.KindAnimation:
		return &tele.Animation{File: file, Caption: caption, FileName: att.DisplayName}
	default:
		return &tele.Document{File: file, Caption: caption, FileName: att.DisplayName}
	}
}

func classify(chatID int64, err error) lead.SendResult {
	var groupErr tele.GroupError
	if errors.As(err, &groupErr) && groupErr.MigratedTo != 0 {
		logger.Warn(context.Background(), "tg", "send.chat_migrated",
			slog.Int64("chat_id", chatID),
			slog.Int64("migrated_to", groupErr.MigratedTo),
		)
		return lead.Moved(groupErr.MigratedTo)
	}
	return lead.Failed(err)
}

func messageID(msg *tele.Message) string {
	if msg == nil {
		return ""
	}
	return strconv.Itoa(msg.ID)
}
