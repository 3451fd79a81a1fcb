package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"bookshelf/internal/models"
)

// sendMessage sends a message, doing nothing when no API is attached
func (b *Bot) sendMessage(msg tgbotapi.MessageConfig) {
	if b.api == nil {
		return // For testing
	}

	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", msg.ChatID),
		)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.sendMessage(tgbotapi.NewMessage(chatID, text))
}

// replyError tells the user what went wrong. Domain errors are shown as is,
// anything else is logged and replaced with a generic message.
func (b *Bot) replyError(chatID int64, err error) {
	if models.KindOf(err) != nil {
		b.reply(chatID, "⚠️ "+err.Error())
		return
	}
	b.logger.Error("Request failed", zap.Error(err), zap.Int64("chat_id", chatID))
	b.reply(chatID, "An error occurred while processing your request. Please try again.")
}

// currentUser resolves the registered user behind a Telegram account
func (b *Bot) currentUser(ctx context.Context, chatID int64, from *tgbotapi.User) (models.User, bool) {
	if from == nil {
		return models.User{}, false
	}
	user, err := b.db.GetUserByTelegramID(ctx, from.ID)
	if err != nil {
		if models.KindOf(err) == models.ErrNotFound {
			b.reply(chatID, "You are not registered yet. Use /start to create your shelf.")
		} else {
			b.replyError(chatID, err)
		}
		return models.User{}, false
	}
	return user, true
}

func (b *Bot) getState(userID int64) (*ConversationState, bool) {
	b.statesMu.RLock()
	defer b.statesMu.RUnlock()
	state, ok := b.states[userID]
	return state, ok
}

func (b *Bot) setState(userID int64, state *ConversationState) {
	b.statesMu.Lock()
	defer b.statesMu.Unlock()
	b.states[userID] = state
}

func (b *Bot) clearState(userID int64) {
	b.statesMu.Lock()
	defer b.statesMu.Unlock()
	delete(b.states, userID)
}

// stateID returns an ID stored earlier in a conversation
func stateID(state *ConversationState, key string) (uuid.UUID, error) {
	id, ok := state.Data[key].(uuid.UUID)
	if !ok {
		return uuid.Nil, fmt.Errorf("conversation has no %s", key)
	}
	return id, nil
}

// bookKeyboard lays out one button per book, two per row
func bookKeyboard(prefix string, books []models.Book) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var currentRow []tgbotapi.InlineKeyboardButton
	for i, book := range books {
		button := tgbotapi.NewInlineKeyboardButtonData(book.Title, prefix+book.ID.String())
		currentRow = append(currentRow, button)

		// Add row when we have 2 buttons or it's the last book
		if len(currentRow) == 2 || i == len(books)-1 {
			rows = append(rows, currentRow)
			currentRow = []tgbotapi.InlineKeyboardButton{}
		}
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// statusKeyboard offers every reading status
func statusKeyboard(prefix string) tgbotapi.InlineKeyboardMarkup {
	var row []tgbotapi.InlineKeyboardButton
	for _, s := range models.AllStatuses {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(s.DisplayName(), fmt.Sprintf("%s%d", prefix, s)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

func ratingKeyboard() tgbotapi.InlineKeyboardMarkup {
	var row []tgbotapi.InlineKeyboardButton
	for i := 1; i <= 5; i++ {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%d ⭐", i), fmt.Sprintf("%s%d", prefixRate, i)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}
