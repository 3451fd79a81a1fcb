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
)

// skipInput lets the user leave an optional field empty
const skipInput = "-"

// handleConversation processes multi-step conversations
func (b *Bot) handleConversation(ctx context.Context, message *tgbotapi.Message, state *ConversationState) {
	userID := message.From.ID

	switch state.Command {
	case cmdNewBook:
		b.handleNewBookConversation(ctx, message, state)
	case cmdAdd:
		b.handleAddConversation(ctx, message, state)
	case cmdPages:
		b.handlePagesConversation(ctx, message, state)
	case cmdReview:
		b.handleReviewConversation(ctx, message, state)
	}

	// Clean up completed conversations
	if state.Step == stepDone {
		b.clearState(userID)
	}
}

// handleNewBookConversation handles the new book multi-step process
func (b *Bot) handleNewBookConversation(ctx context.Context, message *tgbotapi.Message, state *ConversationState) {
	text := strings.TrimSpace(message.Text)
	chatID := message.Chat.ID

	switch state.Step {
	case 1: // Waiting for title
		if text == "" {
			b.reply(chatID, "The title cannot be empty. Please enter the book title:")
			return
		}
		state.Data["title"] = text
		state.Step = 2
		b.reply(chatID, "Who is the author? Send - to skip.")

	case 2: // Waiting for author
		if text != skipInput {
			state.Data["author"] = text
		}
		state.Step = 3
		b.reply(chatID, "How many pages does it have?")

	case 3: // Waiting for page count
		pages, err := strconv.Atoi(text)
		if err != nil || pages <= 0 {
			b.reply(chatID, "❌ Please enter a positive number of pages:")
			return
		}
		state.Data["pages"] = pages
		state.Step = 4
		b.reply(chatID, "Which year was it published? Send - to skip.")

	case 4: // Waiting for publishing year
		if text != skipInput {
			year, err := strconv.Atoi(text)
			if err != nil || year < 1 || year > 9999 {
				b.reply(chatID, "❌ Invalid year. Please enter a year like 1937, or - to skip:")
				return
			}
			state.Data["year"] = year
		}
		state.Step = 5
		b.reply(chatID, "List its genres separated by commas, e.g. Fantasy, Adventure. Send - to skip.")

	case 5: // Waiting for genres
		var genres []string
		if text != skipInput {
			for _, g := range strings.Split(text, ",") {
				if g = strings.TrimSpace(g); g != "" {
					genres = append(genres, g)
				}
			}
		}
		b.createBook(ctx, chatID, state, genres)
		state.Step = stepDone
	}
}

func (b *Bot) createBook(ctx context.Context, chatID int64, state *ConversationState, genres []string) {
	book := models.Book{
		ID:     uuid.New(),
		Genres: genres,
	}
	book.Title, _ = state.Data["title"].(string)
	book.Author, _ = state.Data["author"].(string)
	book.Pages, _ = state.Data["pages"].(int)
	book.PublishingYear, _ = state.Data["year"].(int)

	if err := b.db.CreateBook(ctx, book); err != nil {
		b.logger.Error("Failed to create book", zap.Error(err), zap.String("title", book.Title))
		b.replyError(chatID, err)
		return
	}

	b.logger.Info("Book created",
		zap.String("book_id", book.ID.String()),
		zap.String("title", book.Title),
		zap.Int("pages", book.Pages),
	)
	b.reply(chatID, fmt.Sprintf("Book created successfully!\n\n%s", FormatBook(book)))
}

// handleAddConversation reads the pages read for a book added as being read
func (b *Bot) handleAddConversation(ctx context.Context, message *tgbotapi.Message, state *ConversationState) {
	if state.Step != 3 {
		return
	}
	pages, err := strconv.Atoi(strings.TrimSpace(message.Text))
	if err != nil || pages < 0 {
		b.reply(message.Chat.ID, "❌ Please enter a number of pages:")
		return
	}
	status, _ := state.Data["status"].(models.ReadingStatus)
	b.addToShelf(ctx, message.Chat.ID, state, status, pages)
}

// handlePagesConversation applies the page count sent for /pages
func (b *Bot) handlePagesConversation(ctx context.Context, message *tgbotapi.Message, state *ConversationState) {
	if state.Step != 2 {
		return
	}
	chatID := message.Chat.ID

	pages, err := strconv.Atoi(strings.TrimSpace(message.Text))
	if err != nil {
		b.reply(chatID, "❌ Please enter a number of pages:")
		return
	}
	state.Step = stepDone

	userID, bookID, err := conversationPair(state)
	if err != nil {
		b.replyError(chatID, err)
		return
	}

	record, err := b.ledger.UpdatePagesRead(ctx, userID, bookID, pages)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.confirm(ctx, chatID, "✅ Progress updated!", record)
}

// handleReviewConversation stores the review text sent for /review
func (b *Bot) handleReviewConversation(ctx context.Context, message *tgbotapi.Message, state *ConversationState) {
	if state.Step != 2 {
		return
	}
	chatID := message.Chat.ID
	state.Step = stepDone

	userID, bookID, err := conversationPair(state)
	if err != nil {
		b.replyError(chatID, err)
		return
	}

	text := message.Text
	if strings.TrimSpace(text) == skipInput {
		text = ""
	}

	record, err := b.ledger.SetReview(ctx, userID, bookID, text)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.confirm(ctx, chatID, "✅ Review saved!", record)
}
