package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quotekeeper/internal/domain"
	"quotekeeper/internal/health"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v3"
)

// QuoteReader resolves the best available quote for a symbol.
type QuoteReader interface {
	GetQuote(ctx context.Context, symbol string) (*domain.Quote, error)
}

// HealthReader reports the health of every registered dependency.
type HealthReader interface {
	CheckAll(ctx context.Context) []health.Result
}

var newTeleBot = func(pref tele.Settings) (*tele.Bot, error) {
	return tele.NewBot(pref)
}

// Bot exposes quote and health commands over Telegram and pushes
// critical-failure alerts to a configured chat.
type Bot struct {
	b           *tele.Bot
	logger      zerolog.Logger
	alertChatID int64
}

// New builds the bot and registers its command handlers. An empty token
// returns (nil, nil) so callers can skip Telegram entirely.
func New(token string, alertChatID int64, quotes QuoteReader, checker HealthReader, logger zerolog.Logger) (*Bot, error) {
	if token == "" {
		logger.Info().Msg("telegram token not configured, bot disabled")
		return nil, nil
	}

	b, err := newTeleBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	bot := &Bot{b: b, logger: logger, alertChatID: alertChatID}

	b.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})

	b.Handle("/quote", func(c tele.Context) error {
		args := c.Args()
		if len(args) == 0 {
			return c.Send(fmt.Sprintf("Usage: /quote BTC\nSupported: %s", strings.Join(domain.SupportedSymbols, ", ")))
		}
		symbol := strings.ToUpper(args[0])
		if !domain.IsSupportedSymbol(symbol) {
			return c.Send(fmt.Sprintf("Unknown symbol: %s\nSupported: %s", symbol, strings.Join(domain.SupportedSymbols, ", ")))
		}
		quote, err := quotes.GetQuote(context.Background(), symbol)
		if err != nil {
			return c.Send(fmt.Sprintf("Error fetching quote for %s: %v", symbol, err))
		}
		return c.Send(fmt.Sprintf(
			"%s\nPrice: $%.2f\n24h Volume: $%.0f\nSource: %s\nAs of: %s",
			symbol, quote.PriceUSD, quote.Volume24h, quote.Source, quote.FetchedAt.Format(time.RFC3339),
		))
	})

	b.Handle("/health", func(c tele.Context) error {
		results := checker.CheckAll(context.Background())
		var sb strings.Builder
		for _, r := range results {
			fmt.Fprintf(&sb, "%s: %s (%dms)\n", r.Service, r.Status, r.ResponseTimeMs)
		}
		if sb.Len() == 0 {
			return c.Send("no dependencies registered")
		}
		return c.Send(sb.String())
	})

	return bot, nil
}

// Start begins long-polling. Blocks until Stop is called.
func (b *Bot) Start() {
	b.logger.Info().Msg("telegram bot started")
	b.b.Start()
}

func (b *Bot) Stop() {
	b.b.Stop()
}

// Alert pushes message to the configured alert chat. A zero chat ID
// drops the message.
func (b *Bot) Alert(_ context.Context, message string) error {
	if b.alertChatID == 0 {
		b.logger.Debug().Msg("alert chat not configured, dropping alert")
		return nil
	}
	_, err := b.b.Send(&tele.Chat{ID: b.alertChatID}, message)
	return err
}
