// Package telegram connects the conversation machine to the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/lucadibello/RimeSegateBot/internal/config"
	"github.com/lucadibello/RimeSegateBot/internal/domain"
	"github.com/lucadibello/RimeSegateBot/internal/session"
)

const queueSize = 32

const refusalMessage = "You are not allowed to use this bot."

// API is the subset of the Bot API client used here.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Handler processes one text message of a user.
type Handler interface {
	Handle(ctx context.Context, sess session.Session, text string)
}

type inbound struct {
	sess *chatSession
	text string
}

// Bot long-polls Telegram and feeds messages to the handler. Messages of the
// same user are handled one at a time, in arrival order.
type Bot struct {
	api     API
	handler Handler
	cfg     config.TelegramConfig
	logger  *slog.Logger

	mu     sync.Mutex
	queues map[domain.UserID]chan inbound
	wg     sync.WaitGroup
}

// New connects to the Bot API with the configured token.
func New(cfg config.TelegramConfig, handler Handler, logger *slog.Logger) (*Bot, error) {
	logger = logger.With("component", "telegram")
	_ = tgbotapi.SetLogger(&botLogger{logger: logger})

	client := &http.Client{Timeout: time.Duration(cfg.PollTimeout)*time.Second + max(cfg.SendTimeout, 30*time.Second)}
	api, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	api.Debug = cfg.Debug
	logger.Info("authorized", "username", api.Self.UserName)

	return newBot(api, cfg, handler, logger), nil
}

func newBot(api API, cfg config.TelegramConfig, handler Handler, logger *slog.Logger) *Bot {
	return &Bot{
		api:     api,
		handler: handler,
		cfg:     cfg,
		logger:  logger,
		queues:  make(map[domain.UserID]chan inbound),
	}
}

// Run polls for updates until ctx is cancelled, then waits for queued messages
// to drain.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.PollTimeout
	updates := b.api.GetUpdatesChan(u)

	defer b.drain()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				b.logger.Info("updates channel closed")
				return nil
			}
			b.dispatch(ctx, update)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}

	sess := &chatSession{
		api:         b.api,
		userID:      domain.UserID(msg.From.ID),
		chatID:      msg.Chat.ID,
		sendTimeout: b.cfg.SendTimeout,
	}

	if !b.cfg.Allowed(msg.From.ID) {
		b.logger.Warn("refused user", "user_id", msg.From.ID, "username", msg.From.UserName)
		if err := sess.SendText(ctx, domain.SeverityWarning, refusalMessage); err != nil {
			b.logger.Warn("failed to send refusal", "user_id", msg.From.ID, "error", err)
		}
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if !b.enqueue(ctx, inbound{sess: sess, text: text}) {
		b.logger.Warn("user queue full, dropping message", "user_id", sess.userID)
		_ = sess.SendText(ctx, domain.SeverityWarning, "Too many pending messages, slow down.")
	}
}

// enqueue hands in to the user's inbox, starting a worker when the user has
// none. It reports false when the inbox is full.
func (b *Bot) enqueue(ctx context.Context, in inbound) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := in.sess.userID
	q, ok := b.queues[id]
	if !ok {
		q = make(chan inbound, queueSize)
		b.queues[id] = q
		b.wg.Add(1)
		go b.work(ctx, id, q)
	}
	select {
	case q <- in:
		return true
	default:
		return false
	}
}

// work handles the user's messages and exits once the inbox is empty, so only
// users with pending messages hold a goroutine.
func (b *Bot) work(ctx context.Context, id domain.UserID, q chan inbound) {
	defer b.wg.Done()
	for {
		in, ok := <-q
		if !ok {
			return
		}
		b.handle(ctx, id, in)

		b.mu.Lock()
		if len(q) == 0 && b.queues[id] == q {
			delete(b.queues, id)
			b.mu.Unlock()
			return
		}
		b.mu.Unlock()
	}
}

func (b *Bot) pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues)
}

func (b *Bot) handle(ctx context.Context, id domain.UserID, in inbound) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panicked", "user_id", id, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	b.handler.Handle(ctx, in.sess, in.text)
}

func (b *Bot) drain() {
	b.mu.Lock()
	for id, q := range b.queues {
		close(q)
		delete(b.queues, id)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

// botLogger routes the library's log output to slog.
type botLogger struct {
	logger *slog.Logger
}

func (l *botLogger) Println(v ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l *botLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
