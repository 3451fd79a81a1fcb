package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Callback data prefixes
const (
	prefixBooksPage = "books_page:"
	prefixAddBook   = "add_book:"
	prefixAddStatus = "add_status:"
	prefixShelf     = "shelf:"
	prefixStatus    = "status:"
	prefixRate      = "rate:"
)

// handleMessage processes a single message
func (b *Bot) handleMessage(message *tgbotapi.Message) {
	// Recover from panics to prevent bot crashes
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleMessage", zap.Any("panic", r))
			b.reply(message.Chat.ID, "An error occurred while processing your request. Please try again.")
		}
	}()

	userID := message.From.ID
	ctx := context.Background()

	// Check if user is in a conversation
	if state, ok := b.getState(userID); ok {
		// If conversation is already complete, clean it up and process as new command
		if state.Step == stepDone {
			b.clearState(userID)
		} else if message.IsCommand() {
			// Allow any command to interrupt/cancel an ongoing conversation
			b.clearState(userID)
		} else {
			// Not a command, continue the conversation
			b.handleConversation(ctx, message, state)
			return
		}
	}

	if !message.IsCommand() {
		return
	}

	switch message.Command() {
	case "start":
		b.handleStart(ctx, message)
	case "help":
		b.handleHelp(message)
	case cmdBooks:
		b.handleBooks(ctx, message)
	case cmdNewBook:
		b.handleNewBookStart(ctx, message)
	case cmdAdd:
		b.handleAddStart(ctx, message)
	case "shelf":
		b.handleShelf(ctx, message)
	case cmdPages, cmdStatus, cmdRate, cmdReview, cmdRemove:
		b.handleShelfPick(ctx, message, message.Command())
	case "report":
		b.handleReport(ctx, message)
	case "profile":
		b.handleProfile(ctx, message)
	default:
		b.reply(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

// handleCallbackQuery processes inline keyboard button clicks
func (b *Bot) handleCallbackQuery(query *tgbotapi.CallbackQuery) {
	// Recover from panics
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleCallbackQuery", zap.Any("panic", r))
		}
	}()

	userID := query.From.ID
	ctx := context.Background()

	// Answer the callback query to remove loading state
	if b.api != nil {
		if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
			b.logger.Warn("Failed to answer callback query", zap.Error(err))
		}
	}

	// Check if user is in a conversation
	state, ok := b.getState(userID)
	if !ok || query.Message == nil {
		return
	}

	// Handle callback based on prefix
	data := query.Data
	switch {
	case strings.HasPrefix(data, prefixBooksPage):
		b.handleBooksPageCallback(ctx, query, state)
	case strings.HasPrefix(data, prefixAddBook):
		b.handleAddBookCallback(ctx, query, state)
	case strings.HasPrefix(data, prefixAddStatus):
		b.handleAddStatusCallback(ctx, query, state)
	case strings.HasPrefix(data, prefixShelf):
		b.handleShelfCallback(ctx, query, state)
	case strings.HasPrefix(data, prefixStatus):
		b.handleStatusCallback(ctx, query, state)
	case strings.HasPrefix(data, prefixRate):
		b.handleRateCallback(ctx, query, state)
	}

	// Clean up completed conversations
	if state.Step == stepDone {
		b.clearState(userID)
	}
}
