package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"bookshelf/internal/models"
	"bookshelf/internal/progress"
)

// handleBooksPageCallback switches the catalog listing to another page
func (b *Bot) handleBooksPageCallback(ctx context.Context, query *tgbotapi.CallbackQuery, state *ConversationState) {
	if state.Command != cmdBooks {
		return
	}
	page, err := strconv.Atoi(strings.TrimPrefix(query.Data, prefixBooksPage))
	if err != nil || page < 1 {
		return
	}
	b.sendBooksPage(ctx, query.Message.Chat.ID, state, page)
}

// handleAddBookCallback processes book selection for /add
func (b *Bot) handleAddBookCallback(ctx context.Context, query *tgbotapi.CallbackQuery, state *ConversationState) {
	if state.Command != cmdAdd || state.Step != 1 {
		return
	}
	bookID, err := uuid.Parse(strings.TrimPrefix(query.Data, prefixAddBook))
	if err != nil {
		return
	}

	state.Data["book_id"] = bookID
	state.Step = 2

	msg := tgbotapi.NewMessage(query.Message.Chat.ID, "📖 Where does it go on your shelf?")
	msg.ReplyMarkup = statusKeyboard(prefixAddStatus)
	b.sendMessage(msg)
}

// handleAddStatusCallback processes the initial status for /add
func (b *Bot) handleAddStatusCallback(ctx context.Context, query *tgbotapi.CallbackQuery, state *ConversationState) {
	if state.Command != cmdAdd || state.Step != 2 {
		return
	}
	code, err := strconv.Atoi(strings.TrimPrefix(query.Data, prefixAddStatus))
	if err != nil {
		return
	}
	status, err := models.ParseStatusCode(code)
	if err != nil {
		b.replyError(query.Message.Chat.ID, err)
		return
	}

	if status == models.StatusReading {
		state.Data["status"] = status
		state.Step = 3
		b.reply(query.Message.Chat.ID, "How many pages have you read so far? Send 0 if you are just starting.")
		return
	}

	b.addToShelf(ctx, query.Message.Chat.ID, state, status, 0)
}

// addToShelf creates the record collected by the /add conversation
func (b *Bot) addToShelf(ctx context.Context, chatID int64, state *ConversationState, status models.ReadingStatus, pages int) {
	state.Step = stepDone

	userID, bookID, err := conversationPair(state)
	if err != nil {
		b.replyError(chatID, err)
		return
	}

	record, err := b.ledger.CreateRecord(ctx, userID, progress.AddRequest{
		BookID:    bookID,
		Status:    status,
		PagesRead: pages,
	})
	if err != nil {
		b.logger.Warn("Failed to add book to shelf",
			zap.Error(err),
			zap.String("user_id", userID.String()),
			zap.String("book_id", bookID.String()),
		)
		b.replyError(chatID, err)
		return
	}

	b.confirm(ctx, chatID, "✅ Added to your shelf!", record)
}

// handleShelfCallback processes the shelf book picked for a shelf command
func (b *Bot) handleShelfCallback(ctx context.Context, query *tgbotapi.CallbackQuery, state *ConversationState) {
	if state.Step != 1 {
		return
	}
	bookID, err := uuid.Parse(strings.TrimPrefix(query.Data, prefixShelf))
	if err != nil {
		return
	}

	chatID := query.Message.Chat.ID
	state.Data["book_id"] = bookID
	state.Step = 2

	switch state.Command {
	case cmdPages:
		b.reply(chatID, "How many pages have you read?")
	case cmdStatus:
		msg := tgbotapi.NewMessage(chatID, "📖 Select the new status:")
		msg.ReplyMarkup = statusKeyboard(prefixStatus)
		b.sendMessage(msg)
	case cmdRate:
		msg := tgbotapi.NewMessage(chatID, "⭐ Rate the book:")
		msg.ReplyMarkup = ratingKeyboard()
		b.sendMessage(msg)
	case cmdReview:
		b.reply(chatID, fmt.Sprintf("✍️ Send your review (up to %d characters). Send - to remove it.", models.MaxReviewLength))
	case cmdRemove:
		b.removeFromShelf(ctx, chatID, state)
	default:
		state.Step = stepDone
	}
}

func (b *Bot) removeFromShelf(ctx context.Context, chatID int64, state *ConversationState) {
	state.Step = stepDone

	userID, bookID, err := conversationPair(state)
	if err != nil {
		b.replyError(chatID, err)
		return
	}

	if err := b.ledger.RemoveRecord(ctx, userID, bookID); err != nil {
		b.replyError(chatID, err)
		return
	}
	b.reply(chatID, "🗑 Removed from your shelf.")
}

// handleStatusCallback applies the status picked for /status
func (b *Bot) handleStatusCallback(ctx context.Context, query *tgbotapi.CallbackQuery, state *ConversationState) {
	if state.Command != cmdStatus || state.Step != 2 {
		return
	}
	chatID := query.Message.Chat.ID
	state.Step = stepDone

	code, err := strconv.Atoi(strings.TrimPrefix(query.Data, prefixStatus))
	if err != nil {
		return
	}
	status, err := models.ParseStatusCode(code)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	userID, bookID, err := conversationPair(state)
	if err != nil {
		b.replyError(chatID, err)
		return
	}

	record, err := b.ledger.ChangeStatus(ctx, userID, bookID, status)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.confirm(ctx, chatID, "✅ Status updated!", record)
}

// handleRateCallback applies the rating picked for /rate
func (b *Bot) handleRateCallback(ctx context.Context, query *tgbotapi.CallbackQuery, state *ConversationState) {
	if state.Command != cmdRate || state.Step != 2 {
		return
	}
	chatID := query.Message.Chat.ID
	state.Step = stepDone

	rating, err := strconv.Atoi(strings.TrimPrefix(query.Data, prefixRate))
	if err != nil {
		return
	}
	userID, bookID, err := conversationPair(state)
	if err != nil {
		b.replyError(chatID, err)
		return
	}

	record, err := b.ledger.SetRating(ctx, userID, bookID, rating)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.confirm(ctx, chatID, "✅ Rating saved!", record)
}

// conversationPair returns the user and book a shelf conversation works on
func conversationPair(state *ConversationState) (uuid.UUID, uuid.UUID, error) {
	userID, err := stateID(state, "user_id")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	bookID, err := stateID(state, "book_id")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return userID, bookID, nil
}

// confirm replies with the updated record
func (b *Bot) confirm(ctx context.Context, chatID int64, title string, record models.ProgressRecord) {
	book, err := b.db.GetBook(ctx, record.BookID)
	if err != nil {
		b.logger.Warn("Failed to load book for confirmation", zap.Error(err), zap.String("book_id", record.BookID.String()))
		b.reply(chatID, title)
		return
	}
	b.reply(chatID, title+"\n\n"+FormatEntry(models.ShelfEntry{Record: record, Book: book}))
}
