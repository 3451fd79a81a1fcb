package bot

import (
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"bookshelf/internal/progress"
	"bookshelf/internal/report"
	"bookshelf/internal/storage"
)

// DefaultPageSize is used for catalog listings when none is configured
const DefaultPageSize = 10

// NewBot creates a new Telegram bot
func NewBot(token string, db storage.Storage, ledger *progress.Ledger, reports *report.Aggregator, pageSize int, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		logger.Error("Failed to create bot API", zap.Error(err))
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	logger.Info("Bot created", zap.String("bot_username", api.Self.UserName))

	return &Bot{
		api:      api,
		token:    token,
		db:       db,
		ledger:   ledger,
		reports:  reports,
		states:   make(map[int64]*ConversationState),
		logger:   logger,
		pageSize: pageSize,
		now:      time.Now,
	}, nil
}

// GetAPI returns the bot API for testing
func (b *Bot) GetAPI() *tgbotapi.BotAPI {
	return b.api
}

func (b *Bot) clock() time.Time {
	if b.now == nil {
		return time.Now()
	}
	return b.now()
}
