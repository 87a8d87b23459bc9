package bot

import (
	"context"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/leadrelay/leadrelay/core/config"
	"github.com/leadrelay/leadrelay/core/logger"
	tg "github.com/leadrelay/leadrelay/core/telegram"
	tghelpers "github.com/leadrelay/leadrelay/core/telegram/helpers"
	"github.com/leadrelay/leadrelay/core/telegram/keyboard"
	"github.com/leadrelay/leadrelay/core/telegram/router"
	"github.com/leadrelay/leadrelay/lead"
	"log/slog"
)

const (
	btnSendLead = "Отправить сообщение"

	textMenu          = "Привет! Я помогу отправить заявку в нужный чат."
	textChooseChat    = "Выберите подключенный чат:"
	textNoChats       = "Нет подключенных чатов."
	textPromptPhone   = "Выбранный чат: %s\nТеперь отправьте телефон клиента"
	textInvalidPhone  = "Введите корректный номер"
	textPromptName    = "Введите имя клиента"
	textPromptComment = "Введите комментарий"
	textDispatched    = "Сообщение успешно отправлено!"
	textDispatchFail  = "Не удалось отправить сообщение. Попробуйте ещё раз."
	textIncomplete    = "Данные заявки потерялись, начните заново."
	textCancelled     = "Отменено."

	cbPickChat = "lead_pick"
	cbBack     = "lead_back"
	cbCancel   = "lead_cancel"

	// chatListLimit caps the inline chat picker; the web app covers the rest.
	chatListLimit = 50
)

// Handlers wires the intake conversation to Telegram updates. It also
// implements the router FSM contract: while a conversation is active, every
// text and media update belongs to it.
type Handlers struct {
	bot        *tele.Bot
	engine     *lead.Engine
	sessions   lead.SessionStore
	chats      lead.ChatDirectory
	botID      int64
	webAppURL  string
	scratchDir string
	albums     *albumCollector
}

// NewHandlers builds the conversation handlers for a running bot.
func NewHandlers(bot *tele.Bot, engine *lead.Engine, sessions lead.SessionStore, chats lead.ChatDirectory, cfg coreconfig.TelegramConfig) (*Handlers, error) {
	scratch, err := scratchRoot()
	if err != nil {
		return nil, err
	}
	h := &Handlers{
		bot:        bot,
		engine:     engine,
		sessions:   sessions,
		chats:      chats,
		botID:      bot.Me.ID,
		webAppURL:  cfg.WebAppURL,
		scratchDir: scratch,
	}
	h.albums = newAlbumCollector(h.flushAlbum)
	return h, nil
}

// Register binds commands and callbacks to the registry.
func (h *Handlers) Register(reg *tg.Registry) {
	reg.RegisterCommand("/start", tg.Command{
		Handler:     h.handleStart,
		Description: "Начать работу",
	})
	reg.RegisterCommand("/cancel", tg.Command{
		Handler:     h.handleCancel,
		Description: "Отменить текущую заявку",
	})

	_ = reg.RegisterCallback(cbPickChat, h.handlePickChat)
	_ = reg.RegisterCallback(cbBack, h.handleBack)
	_ = reg.RegisterCallback(cbCancel, h.handleCancelCallback)

	reg.SetTextFallback(h.handleMenuText)
}

// Routes returns the text, media, and callback routes for bot registration.
func (h *Handlers) Routes(reg *tg.Registry) []tg.Route {
	routes := router.TextRoutes(h, reg, router.TextOptions{})
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{}))
	return routes
}

func (h *Handlers) sessionKey(c tele.Context) lead.SessionKey {
	return lead.SessionKey{BotID: h.botID, UserID: c.Sender().ID}
}

// InProgress reports whether the sender has an active conversation.
func (h *Handlers) InProgress(c tele.Context) bool {
	sess, err := h.sessions.Get(tghelpers.BuildContext(c), h.sessionKey(c))
	if err != nil {
		return false
	}
	return sess.State != lead.StateIdle
}

// Handle feeds one update into the conversation. Media group items are
// buffered and merged into a single turn.
func (h *Handlers) Handle(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	msg := c.Message()
	key := h.sessionKey(c)

	// Commands escape the conversation even mid-flow.
	switch commandName(msg.Text) {
	case "/cancel":
		return h.handleCancel(c)
	case "/start":
		return h.handleStart(c)
	}

	atts, err := stageInbound(h.bot, msg, h.scratchDir)
	if err != nil {
		logger.Error(ctx, "tg", "media.stage_failed", slog.String("err", err.Error()))
		return tghelpers.SendText(c, textDispatchFail)
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	if msg.AlbumID != "" {
		h.albums.Add(msg.AlbumID, key, text, atts)
		return nil
	}

	ev, err := h.engine.Turn(ctx, key, lead.Turn{Text: text, Attachments: atts})
	if err != nil {
		return err
	}
	return h.renderTo(c, ev)
}

// flushAlbum runs when a media group is complete. The originating contexts
// are gone by then, so the reply goes straight to the user's private chat.
func (h *Handlers) flushAlbum(key lead.SessionKey, turn lead.Turn) {
	ctx := context.Background()
	ev, err := h.engine.Turn(ctx, key, turn)
	if err != nil {
		logger.Error(ctx, "tg", "album.turn_failed", slog.String("err", err.Error()))
		return
	}
	text, markup := h.render(ctx, ev)
	if text == "" {
		return
	}
	if _, err := h.bot.Send(tele.ChatID(key.UserID), text, &tele.SendOptions{ReplyMarkup: markup}); err != nil {
		logger.Error(ctx, "tg", "album.reply_failed", slog.String("err", err.Error()))
	}
}

func (h *Handlers) handleStart(c tele.Context) error {
	if err := h.engine.Begin(tghelpers.BuildContext(c), h.sessionKey(c)); err != nil {
		return err
	}
	return tghelpers.SendWithMarkup(c, textMenu, keyboard.ReplyButtons([]string{btnSendLead}))
}

func (h *Handlers) handleCancel(c tele.Context) error {
	ev, err := h.engine.Cancel(tghelpers.BuildContext(c), h.sessionKey(c))
	if err != nil {
		return err
	}
	return h.renderTo(c, ev)
}

func (h *Handlers) handleCancelCallback(c tele.Context) error {
	ev, err := h.engine.Cancel(tghelpers.BuildContext(c), h.sessionKey(c))
	if err != nil {
		return err
	}
	text, _ := h.render(tghelpers.BuildContext(c), ev)
	return tghelpers.EditOrSend(c, text)
}

// handleMenuText reacts to the reply keyboard outside an active conversation.
func (h *Handlers) handleMenuText(c tele.Context) error {
	if strings.TrimSpace(c.Text()) == btnSendLead {
		return h.sendChatList(c)
	}
	return tghelpers.SendWithMarkup(c, textMenu, keyboard.ReplyButtons([]string{btnSendLead}))
}

func (h *Handlers) sendChatList(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	chats, err := h.chats.Filter(ctx, chatListLimit)
	if err != nil {
		logger.Error(ctx, "tg", "chats.list_failed", slog.String("err", err.Error()))
		return tghelpers.SendText(c, textDispatchFail)
	}
	if len(chats) == 0 {
		return tghelpers.SendText(c, textNoChats)
	}

	buttons := make([]keyboard.InlineBtn, 0, len(chats))
	for _, chat := range chats {
		buttons = append(buttons, keyboard.InlineBtn{
			Text:   chat.Name,
			Unique: cbPickChat,
			Data:   chat.ID,
		})
	}
	markup := keyboard.InlineButtons(buttons)
	markup = keyboard.AppendWebAppRow(markup, "Открыть список", h.webAppURL)
	return tghelpers.SendWithMarkup(c, textChooseChat, markup)
}

func (h *Handlers) handlePickChat(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	chatID := strings.TrimSpace(c.Callback().Data)

	ev, err := h.engine.SelectChat(ctx, h.sessionKey(c), chatID)
	if err != nil {
		logger.Warn(ctx, "tg", "chats.pick_failed",
			slog.String("chat_id", chatID),
			slog.String("err", err.Error()),
		)
		return tghelpers.EditOrSend(c, textNoChats)
	}
	return h.renderTo(c, ev)
}

func (h *Handlers) handleBack(c tele.Context) error {
	ev, err := h.engine.Back(tghelpers.BuildContext(c), h.sessionKey(c))
	if err != nil {
		return err
	}
	return h.renderTo(c, ev)
}

func (h *Handlers) renderTo(c tele.Context, ev lead.Event) error {
	text, markup := h.render(tghelpers.BuildContext(c), ev)
	if text == "" {
		return nil
	}
	if markup != nil {
		return tghelpers.SendWithMarkup(c, text, markup)
	}
	return tghelpers.SendText(c, text)
}

// render maps a conversation event to its reply text and keyboard.
func (h *Handlers) render(ctx context.Context, ev lead.Event) (string, *tele.ReplyMarkup) {
	switch ev.Kind {
	case lead.EventMenu:
		return textMenu, keyboard.ReplyButtons([]string{btnSendLead})
	case lead.EventPromptPhone:
		return fmt.Sprintf(textPromptPhone, ev.Chat.Name), stepButtons(false)
	case lead.EventInvalidPhone:
		return textInvalidPhone, stepButtons(false)
	case lead.EventPromptName:
		return textPromptName, stepButtons(true)
	case lead.EventPromptComment:
		return textPromptComment, stepButtons(true)
	case lead.EventDispatched:
		if ev.Err != nil {
			logger.Warn(ctx, "tg", "dispatch.cleanup_failed", slog.String("err", ev.Err.Error()))
		}
		return textDispatched, keyboard.ReplyButtons([]string{btnSendLead})
	case lead.EventDispatchFailed:
		logger.Error(ctx, "tg", "dispatch.failed", slog.String("err", ev.Err.Error()))
		return textDispatchFail, keyboard.ReplyButtons([]string{btnSendLead})
	case lead.EventIncomplete:
		return textIncomplete, keyboard.ReplyButtons([]string{btnSendLead})
	case lead.EventCancelled:
		return textCancelled, keyboard.ReplyButtons([]string{btnSendLead})
	default:
		return "", nil
	}
}

// commandName extracts the bare command from a message text, dropping the
// "@botname" suffix group members use. Non-commands map to "".
func commandName(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	if at := strings.IndexByte(text, '@'); at > 0 {
		text = text[:at]
	}
	return text
}

// stepButtons builds the in-conversation controls. The first step has
// nothing to go back to, so it only offers cancel.
func stepButtons(withBack bool) *tele.ReplyMarkup {
	row := []keyboard.InlineBtn{}
	if withBack {
		row = append(row, keyboard.InlineBtn{Text: "Назад", Unique: cbBack})
	}
	row = append(row, keyboard.InlineBtn{Text: "Отмена", Unique: cbCancel})
	return keyboard.InlineButtonsRows(row)
}
