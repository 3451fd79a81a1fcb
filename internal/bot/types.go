package bot

import (
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"bookshelf/internal/progress"
	"bookshelf/internal/report"
	"bookshelf/internal/storage"
)

// Bot represents the Telegram bot wrapper
type Bot struct {
	api      *tgbotapi.BotAPI
	token    string
	db       storage.Storage
	ledger   *progress.Ledger
	reports  *report.Aggregator
	states   map[int64]*ConversationState
	statesMu sync.RWMutex
	logger   *zap.Logger
	pageSize int
	now      func() time.Time
}

// ConversationState tracks the state of multi-step commands
type ConversationState struct {
	Command string
	Step    int
	Data    map[string]interface{}
}

// Conversation commands
const (
	cmdBooks   = "books"
	cmdNewBook = "new_book"
	cmdAdd     = "add"
	cmdPages   = "pages"
	cmdStatus  = "status"
	cmdRate    = "rate"
	cmdReview  = "review"
	cmdRemove  = "remove"
)

// stepDone marks a finished conversation
const stepDone = -1
