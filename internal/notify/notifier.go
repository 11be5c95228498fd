package notify

import (
	"context"
	"fmt"
	"strings"

	"deal_guardian/internal/models"
	"deal_guardian/pkg/logger"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
}

// PositionLister — чем отвечаем на /positions; реализует стор позиций.
type PositionLister interface {
	Active() []models.PositionRecord
}

// Telegram — пассивный нотифайер + обработка одной команды /positions.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64
	store  PositionLister
}

func NewTelegram(token string, chatID int64, store PositionLister) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{
		bot:    b,
		chatID: chatID,
		store:  store,
	}, nil
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	_, _ = t.bot.Send(tgbot.NewMessage(t.chatID, msg))
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// /positions — вывод позиций под охраной
func (t *Telegram) handlePositions() {
	if t.store == nil {
		t.Send("❗️ Стор позиций не инициализирован")
		return
	}
	positions := t.store.Active()
	if len(positions) == 0 {
		t.Send("📭 Открытых позиций нет")
		return
	}

	var b strings.Builder
	b.WriteString("📊 Позиции под охраной:\n")
	for _, p := range positions {
		fmt.Fprintf(&b, "- %s [%s] qty=%g/%g @ %.4f fills=%d\n",
			p.Contract.CacheKey(), p.Entry.Side, p.Runtime.Remaining, p.Entry.Qty, p.Entry.Price, len(p.Fills))
	}
	t.Send(b.String())
}

// Start: long-polling для команд.
func (t *Telegram) Start(ctx context.Context) error {
	if t == nil || t.bot == nil {
		return nil
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}

	updates := t.bot.GetUpdatesChan(u)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case upd := <-updates:
				if upd.Message != nil && upd.Message.Chat != nil &&
					upd.Message.Chat.ID == t.chatID && upd.Message.IsCommand() {

					switch upd.Message.Command() {
					case "positions":
						go t.handlePositions()
					}
				}
			}
		}
	}()
	return nil
}

func (t *Telegram) Stop() {}

// Stdout — заглушка, просто логирует.
type Stdout struct{}

func NewStdout() *Stdout                           { return &Stdout{} }
func (s *Stdout) Send(msg string)                  { logger.Info("%s", msg) }
func (s *Stdout) Sendf(format string, args ...any) { logger.Info(format, args...) }
