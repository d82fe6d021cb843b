// Package telegram mirrors the live activity into one Telegram message that
// is edited in place as progress changes and deleted on clear.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"liveactivity/internal/backend"
	"liveactivity/pkg/logx"
)

// Messenger is the Telegram surface the backend needs.
type Messenger interface {
	Send(ctx context.Context, chatID int64, threadID int, text string) (int, error)
	Edit(ctx context.Context, chatID int64, msgID int, text string) error
	Delete(ctx context.Context, chatID int64, msgID int) error
}

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
}

// BotMessenger talks to the Bot API through telebot. It never polls.
type BotMessenger struct {
	bot *tele.Bot
}

func NewBotMessenger(token string) (*BotMessenger, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return &BotMessenger{bot: b}, nil
}

func (m *BotMessenger) Send(_ context.Context, chatID int64, threadID int, text string) (int, error) {
	msg, err := m.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{
		ThreadID:            threadID,
		DisableNotification: true,
	})
	if err != nil {
		return 0, err
	}
	return msg.ID, nil
}

func (m *BotMessenger) Edit(_ context.Context, chatID int64, msgID int, text string) error {
	_, err := m.bot.Edit(&tele.Message{ID: msgID, Chat: &tele.Chat{ID: chatID}}, text)
	if err != nil && isNotModified(err) {
		return nil
	}
	return err
}

func (m *BotMessenger) Delete(_ context.Context, chatID int64, msgID int) error {
	return m.bot.Delete(&tele.Message{ID: msgID, Chat: &tele.Chat{ID: chatID}})
}

func isNotModified(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}

type Backend struct {
	msgr Messenger
	cfg  Config
	log  logx.Logger

	mu   sync.Mutex
	msgs map[string]int
}

var _ backend.Backend = (*Backend)(nil)

func New(msgr Messenger, cfg Config, log logx.Logger) (*Backend, error) {
	if msgr == nil {
		return nil, errors.New("telegram messenger is nil")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Backend{
		msgr: msgr,
		cfg:  cfg,
		log:  log.With(logx.String("backend", backend.NameTelegram)),
		msgs: map[string]int{},
	}, nil
}

func (b *Backend) Name() string { return backend.NameTelegram }

func (b *Backend) NewTag(id string) string { return id }

func (b *Backend) Show(ctx context.Context, tag string, n backend.Notification) error {
	return b.upsert(ctx, tag, n)
}

func (b *Backend) Update(ctx context.Context, tag string, n backend.Notification) error {
	return b.upsert(ctx, tag, n)
}

func (b *Backend) Complete(ctx context.Context, tag string, n backend.Notification) error {
	return b.upsert(ctx, tag, n)
}

func (b *Backend) Clear(ctx context.Context, tag string) error {
	b.mu.Lock()
	id, ok := b.msgs[tag]
	delete(b.msgs, tag)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	if err := b.msgr.Delete(ctx, b.cfg.ChatID, id); err != nil {
		return fmt.Errorf("delete telegram message %d: %w", id, err)
	}
	return nil
}

func (b *Backend) upsert(ctx context.Context, tag string, n backend.Notification) error {
	text := Format(n)

	b.mu.Lock()
	id, ok := b.msgs[tag]
	b.mu.Unlock()

	if ok {
		err := b.msgr.Edit(ctx, b.cfg.ChatID, id, text)
		if err == nil {
			return nil
		}
		b.log.Debug("edit failed, sending a new message", logx.Int("message_id", id), logx.Err(err))
	}

	newID, err := b.msgr.Send(ctx, b.cfg.ChatID, b.cfg.ThreadID, text)
	if err != nil {
		return fmt.Errorf("send telegram %s message: %w", n.Phase, err)
	}
	b.mu.Lock()
	b.msgs[tag] = newID
	b.mu.Unlock()
	return nil
}

const barWidth = 10

// Format renders a notification as plain message text.
func Format(n backend.Notification) string {
	var sb strings.Builder
	sb.WriteString(n.Title)
	if n.Label != "" {
		sb.WriteString(" · ")
		sb.WriteString(n.Label)
	}
	line := n.Text
	if n.TaskName != "" {
		if line != "" {
			line += " · "
		}
		line += n.TaskName
	}
	if line != "" {
		sb.WriteString("\n")
		sb.WriteString(line)
	}
	if n.Phase != backend.PhaseEnded {
		filled := int(math.Round(float64(n.Progress) * barWidth))
		sb.WriteString("\n")
		sb.WriteString(strings.Repeat("█", filled))
		sb.WriteString(strings.Repeat("░", barWidth-filled))
		if n.ProgressText != "" {
			sb.WriteString(" ")
			sb.WriteString(n.ProgressText)
		}
	}
	return sb.String()
}
