package telegram

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/chatmux/chatmux/internal/logging"
)

var tgLog = logging.ForComponent(logging.CompTelegram)

// chunkPause spaces consecutive chunk sends so Telegram's flood control
// does not start rejecting them.
const chunkPause = 100 * time.Millisecond

// Bot wraps the Telegram API with the delivery policies the rest of the
// system relies on: size-budgeted chunking, file fallback for bulky output,
// and edits that degrade instead of failing.
type Bot struct {
	api           *tgbotapi.BotAPI
	chunkLimit    int
	fileThreshold int
}

// NewBot authenticates against the bot API. chunkLimit is the per-message
// budget, fileThreshold the size above which output becomes a document.
func NewBot(token string, chunkLimit, fileThreshold int) (*Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is empty (set telegram.token or TELEGRAM_BOT_TOKEN)")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram authentication failed: %w", err)
	}
	if chunkLimit <= 0 || chunkLimit > HardLimit {
		chunkLimit = 4000
	}
	if fileThreshold <= chunkLimit {
		fileThreshold = 12000
	}
	tgLog.Info("bot_authorized", slog.String("username", api.Self.UserName))
	return &Bot{api: api, chunkLimit: chunkLimit, fileThreshold: fileThreshold}, nil
}

// Username returns the authenticated bot's username.
func (b *Bot) Username() string {
	return b.api.Self.UserName
}

// Updates opens the long-poll update channel.
func (b *Bot) Updates(timeoutSecs int) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeoutSecs
	return b.api.GetUpdatesChan(u)
}

// StopPolling closes the update channel; the router's loop then drains out.
func (b *Bot) StopPolling() {
	b.api.StopReceivingUpdates()
}

// SendText sends a plain message and returns its id.
func (b *Bot) SendText(chatID int64, text string) (int, error) {
	sent, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// SendRich sends the HTML rendition, falling back to the plain one when
// Telegram rejects the markup.
func (b *Bot) SendRich(chatID int64, htmlText, plain string) (int, error) {
	if htmlText != "" {
		msg := tgbotapi.NewMessage(chatID, htmlText)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		if sent, err := b.api.Send(msg); err == nil {
			return sent.MessageID, nil
		}
	}
	return b.SendText(chatID, plain)
}

// Typing shows the "typing..." indicator. Best effort; the indicator
// expires on its own after about five seconds.
func (b *Bot) Typing(chatID int64) {
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		logging.Aggregate(logging.CompTelegram, "typing_failed")
	}
}

// SendSafe delivers text of any size: chunked on line boundaries below the
// file threshold, uploaded as a document above it. Failures are logged and
// swallowed; delivery problems must never propagate into a caller's loop.
func (b *Bot) SendSafe(chatID int64, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if len(text) >= b.fileThreshold {
		b.sendDocument(chatID, text)
		return
	}

	for i, chunk := range SplitForChannel(text, b.chunkLimit) {
		chunk = strings.TrimSpace(TruncateHead(chunk, HardLimit))
		if chunk == "" {
			continue
		}
		if i > 0 {
			time.Sleep(chunkPause)
		}
		if _, err := b.SendText(chatID, chunk); err != nil {
			tgLog.Warn("send_chunk_failed",
				slog.Int64("chat_id", chatID),
				slog.Int("chunk", i),
				slog.String("error", err.Error()))
		}
	}
}

// SendMono delivers terminal output with monospace formatting, chunk by
// chunk, falling back to plain text per chunk when the markup is rejected.
func (b *Bot) SendMono(chatID int64, text string) {
	text = strings.TrimRight(text, "\n")
	if strings.TrimSpace(text) == "" {
		return
	}
	if len(text) >= b.fileThreshold {
		b.sendDocument(chatID, text)
		return
	}

	// Budget for the pre tags and entity expansion of <, >, &.
	rawLimit := b.chunkLimit/2 - len("<pre></pre>")
	for i, chunk := range SplitForChannel(text, rawLimit) {
		chunk = strings.TrimRight(TruncateHead(chunk, HardLimit/2), "\n")
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		if i > 0 {
			time.Sleep(chunkPause)
		}
		if _, err := b.SendRich(chatID, Mono(chunk), chunk); err != nil {
			tgLog.Warn("send_chunk_failed",
				slog.Int64("chat_id", chatID),
				slog.Int("chunk", i),
				slog.String("error", err.Error()))
		}
	}
}

func (b *Bot) sendDocument(chatID int64, text string) {
	name := fmt.Sprintf("output-%s.txt", time.Now().Format("20060102-150405"))
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: []byte(text)})
	doc.Caption = fmt.Sprintf("%d lines of output", strings.Count(text, "\n")+1)
	if _, err := b.api.Send(doc); err != nil {
		tgLog.Warn("document_upload_failed",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()))
		// Deliver at least the tail as a regular message.
		if _, err := b.SendText(chatID, strings.TrimSpace(TruncateHead(text, HardLimit))); err != nil {
			tgLog.Warn("document_fallback_failed",
				slog.Int64("chat_id", chatID),
				slog.String("error", err.Error()))
		}
	}
}

// EditSafe updates a progress message in place: HTML edit, then plain edit,
// then a fresh message. It returns the message id the caller should use for
// the next edit, which changes only when a fresh message was sent. An edit
// that Telegram reports as a no-op counts as success.
func (b *Bot) EditSafe(chatID int64, messageID int, htmlText, plain string) int {
	plain = strings.TrimSpace(TruncateHead(plain, HardLimit))
	if plain == "" {
		return messageID
	}

	if messageID != 0 && htmlText != "" {
		edit := tgbotapi.NewEditMessageText(chatID, messageID, TruncateHead(htmlText, HardLimit))
		edit.ParseMode = tgbotapi.ModeHTML
		edit.DisableWebPagePreview = true
		if _, err := b.api.Send(edit); err == nil || isNotModified(err) {
			return messageID
		}
	}
	if messageID != 0 {
		edit := tgbotapi.NewEditMessageText(chatID, messageID, plain)
		if _, err := b.api.Send(edit); err == nil || isNotModified(err) {
			return messageID
		}
	}
	if id, err := b.SendRich(chatID, htmlText, plain); err == nil {
		return id
	}
	tgLog.Warn("edit_fallback_failed", slog.Int64("chat_id", chatID), slog.Int("message_id", messageID))
	return messageID
}

// isNotModified matches Telegram's rejection of an edit with identical
// content, which is not a failure worth degrading over.
func isNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}
