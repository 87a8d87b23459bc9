package bot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	tele "gopkg.in/telebot.v4"

	"github.com/leadrelay/leadrelay/lead"
)

// stageInbound downloads the media of one inbound message into a scratch
// file and wraps it as an attachment owned by the current turn. Messages
// without media stage nothing.
func stageInbound(bot *tele.Bot, msg *tele.Message, scratchDir string) ([]lead.Attachment, error) {
	if msg == nil {
		return nil, nil
	}
	media := msg.Media()
	if media == nil {
		return nil, nil
	}

	name, kind := describeMedia(msg, media)
	ext := filepath.Ext(name)
	if ext == "" {
		ext = defaultExt(kind)
		name += ext
	}

	path := filepath.Join(scratchDir, "lead-"+uuid.NewString()+ext)
	file := media.MediaFile()
	if err := bot.Download(file, path); err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}

	return []lead.Attachment{{
		LocalPath:   path,
		DisplayName: name,
		Kind:        kind,
	}}, nil
}

func describeMedia(msg *tele.Message, media tele.Media) (string, lead.AttachmentKind) {
	switch media.MediaType() {
	case "photo":
		return "photo", lead.KindPhoto
	case "video":
		if msg.Video != nil && msg.Video.FileName != "" {
			return msg.Video.FileName, lead.KindVideo
		}
		return "video", lead.KindVideo
	case "animation":
		if msg.Animation != nil && msg.Animation.FileName != "" {
			return msg.Animation.FileName, lead.KindAnimation
		}
		return "animation", lead.KindAnimation
	case "audio":
		if msg.Audio != nil && msg.Audio.FileName != "" {
			return msg.Audio.FileName, lead.KindAudio
		}
		return "audio", lead.KindAudio
	case "voice":
		return "voice", lead.KindAudio
	case "videoNote":
		return "video_note", lead.KindVideo
	default:
		if msg.Document != nil && msg.Document.FileName != "" {
			return msg.Document.FileName, lead.KindDocument
		}
		return "document", lead.KindDocument
	}
}

func defaultExt(kind lead.AttachmentKind) string {
	switch kind {
	case lead.KindPhoto:
		return ".jpg"
	case lead.KindVideo:
		return ".mp4"
	case lead.KindAudio:
		return ".ogg"
	case lead.KindAnimation:
		return ".gif"
	default:
		return ".bin"
	}
}

// scratchRoot returns the directory for staging inbound media, creating it
// on first use.
func scratchRoot() (string, error) {
	dir := filepath.Join(os.TempDir(), "leadrelay")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	return dir, nil
}
