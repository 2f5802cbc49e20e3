package channel

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v3"
)

// telegramMaxRunes keeps chunks under Telegram's 4096 character limit.
const telegramMaxRunes = 4000

// TelegramChannel lets a Telegram chat talk to one buddy.
type TelegramChannel struct {
	mu         sync.Mutex
	token      string
	buddyName  string
	allowedIDs map[int64]bool
	bot        *tele.Bot
	handler    func(InboundMessage)
	running    bool
}

// TelegramConfig holds Telegram-specific configuration. An empty
// AllowedIDs accepts every sender.
type TelegramConfig struct {
	Token      string
	BuddyName  string
	AllowedIDs []int64
}

// NewTelegramChannel creates a new Telegram channel.
func NewTelegramChannel(cfg TelegramConfig) *TelegramChannel {
	allowed := make(map[int64]bool, len(cfg.AllowedIDs))
	for _, id := range cfg.AllowedIDs {
		allowed[id] = true
	}
	return &TelegramChannel{
		token:      cfg.Token,
		buddyName:  cfg.BuddyName,
		allowedIDs: allowed,
	}
}

func (t *TelegramChannel) Name() string { return "telegram" }

func (t *TelegramChannel) allowed(id int64) bool {
	return len(t.allowedIDs) == 0 || t.allowedIDs[id]
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return nil
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:  t.token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}

	bot.Handle("/start", t.greet)
	bot.Handle(tele.OnText, t.onText)

	t.bot = bot
	t.running = true

	go bot.Start()

	go func() {
		<-ctx.Done()
		t.Stop(context.Background())
	}()

	return nil
}

func (t *TelegramChannel) greet(c tele.Context) error {
	if !t.allowed(c.Sender().ID) {
		return nil
	}
	return c.Send(fmt.Sprintf("Hi! I'm %s. Just say something.", t.buddyName))
}

// onText forwards an authorized sender's text to the handler. Messages from
// other senders are dropped without a reply.
func (t *TelegramChannel) onText(c tele.Context) error {
	sender := c.Sender()
	if !t.allowed(sender.ID) {
		log.Printf("[telegram] ignoring user %d (%s)", sender.ID, sender.Username)
		return nil
	}

	t.mu.Lock()
	handler := t.handler
	t.mu.Unlock()
	if handler == nil {
		return nil
	}
	handler(InboundMessage{
		ChannelName: t.Name(),
		SenderID:    strconv.FormatInt(sender.ID, 10),
		SenderName:  strings.TrimSpace(sender.FirstName + " " + sender.LastName),
		ChatID:      strconv.FormatInt(c.Chat().ID, 10),
		Text:        c.Text(),
		Timestamp:   time.Now(),
	})
	return nil
}

func (t *TelegramChannel) Stop(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bot != nil && t.running {
		t.bot.Stop()
	}
	t.running = false
	return nil
}

func (t *TelegramChannel) Send(_ context.Context, msg OutboundMessage) error {
	t.mu.Lock()
	bot := t.bot
	t.mu.Unlock()

	if bot == nil {
		return fmt.Errorf("telegram bot not started")
	}

	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}

	recipient := &tele.Chat{ID: chatID}
	for _, chunk := range splitRunes(msg.Text, telegramMaxRunes) {
		if _, err := bot.Send(recipient, chunk); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

func (t *TelegramChannel) OnMessage(handler func(InboundMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

func (t *TelegramChannel) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// splitRunes cuts s into pieces of at most n runes without splitting a
// character.
func splitRunes(s string, n int) []string {
	var out []string
	r := []rune(s)
	for len(r) > n {
		out = append(out, string(r[:n]))
		r = r[n:]
	}
	if len(r) > 0 {
		out = append(out, string(r))
	}
	return out
}
