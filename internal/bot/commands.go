package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"bookshelf/internal/models"
)

const helpText = `Available commands:
/books [title] [genre:name] - Browse the catalog
/new_book - Add a book to the catalog
/add [title] - Put a book on your shelf
/shelf - Show your shelf
/pages - Update pages read
/status - Change reading status
/rate - Rate a finished book
/review - Review a book you have started
/remove - Remove a book from your shelf
/report [year] - Annual reading report
/profile - Your profile`

// handleStart registers the user on first contact and shows available commands
func (b *Bot) handleStart(ctx context.Context, message *tgbotapi.Message) {
	from := message.From

	user, err := b.db.GetUserByTelegramID(ctx, from.ID)
	switch {
	case err == nil:
		b.reply(message.Chat.ID, fmt.Sprintf("Welcome back, %s! 📚\n\n%s", user.Username, helpText))
		return
	case models.KindOf(err) != models.ErrNotFound:
		b.replyError(message.Chat.ID, err)
		return
	}

	user, err = b.register(ctx, from)
	if err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}

	b.logger.Info("User registered",
		zap.String("user_id", user.ID.String()),
		zap.String("username", user.Username),
		zap.Int64("telegram_id", from.ID),
	)
	b.reply(message.Chat.ID, fmt.Sprintf("Welcome to your bookshelf, %s! 📚\n\n%s", user.Username, helpText))
}

// register creates a user for a Telegram account, falling back to a
// suffixed username when the plain one is taken
func (b *Bot) register(ctx context.Context, from *tgbotapi.User) (models.User, error) {
	username := from.UserName
	if username == "" {
		username = fmt.Sprintf("reader%d", from.ID)
	}

	user := models.User{
		ID:         uuid.New(),
		Username:   username,
		TelegramID: from.ID,
		CreatedAt:  b.clock().UTC().Truncate(time.Millisecond),
	}
	err := b.db.CreateUser(ctx, user)
	if models.KindOf(err) == models.ErrConflict && from.UserName != "" {
		user.Username = fmt.Sprintf("%s_%d", username, from.ID)
		err = b.db.CreateUser(ctx, user)
	}
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	b.reply(message.Chat.ID, helpText)
}

// parseBookFilter reads "/books some title genre:fantasy" style arguments
func parseBookFilter(args string) models.BookFilter {
	var filter models.BookFilter
	if idx := strings.Index(strings.ToLower(args), "genre:"); idx >= 0 {
		filter.Genre = strings.TrimSpace(args[idx+len("genre:"):])
		args = args[:idx]
	}
	filter.Title = strings.TrimSpace(args)
	return filter
}

// handleBooks shows the first catalog page
func (b *Bot) handleBooks(ctx context.Context, message *tgbotapi.Message) {
	state := &ConversationState{
		Command: cmdBooks,
		Step:    1,
		Data: map[string]interface{}{
			"filter": parseBookFilter(message.CommandArguments()),
		},
	}
	b.setState(message.From.ID, state)
	b.sendBooksPage(ctx, message.Chat.ID, state, 1)
}

// sendBooksPage sends one page of the catalog with paging buttons
func (b *Bot) sendBooksPage(ctx context.Context, chatID int64, state *ConversationState, page int) {
	filter, _ := state.Data["filter"].(models.BookFilter)

	books, err := b.db.ListBooks(ctx, filter, page, b.pageSize)
	if err != nil {
		b.replyError(chatID, fmt.Errorf("failed to list books: %w", err))
		state.Step = stepDone
		return
	}
	state.Data["page"] = page

	if len(books) == 0 && page == 1 {
		b.reply(chatID, "No books found. Add one with /new_book")
		state.Step = stepDone
		return
	}

	msg := tgbotapi.NewMessage(chatID, FormatBooks(books, page))
	var row []tgbotapi.InlineKeyboardButton
	if page > 1 {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("◀ Previous", fmt.Sprintf("%s%d", prefixBooksPage, page-1)))
	}
	if len(books) == b.pageSize {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("Next ▶", fmt.Sprintf("%s%d", prefixBooksPage, page+1)))
	}
	if len(row) > 0 {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(row)
	}
	b.sendMessage(msg)
}

// handleNewBookStart initiates the new book conversation
func (b *Bot) handleNewBookStart(ctx context.Context, message *tgbotapi.Message) {
	if _, ok := b.currentUser(ctx, message.Chat.ID, message.From); !ok {
		return
	}

	b.setState(message.From.ID, &ConversationState{
		Command: cmdNewBook,
		Step:    1,
		Data:    make(map[string]interface{}),
	})
	b.reply(message.Chat.ID, "Please enter the book title:")
}

// handleAddStart lets the user pick a catalog book to put on the shelf
func (b *Bot) handleAddStart(ctx context.Context, message *tgbotapi.Message) {
	user, ok := b.currentUser(ctx, message.Chat.ID, message.From)
	if !ok {
		return
	}

	books, err := b.db.ListBooks(ctx, parseBookFilter(message.CommandArguments()), 1, b.pageSize)
	if err != nil {
		b.replyError(message.Chat.ID, fmt.Errorf("failed to list books: %w", err))
		return
	}
	if len(books) == 0 {
		b.reply(message.Chat.ID, "No matching books in the catalog. Add one with /new_book")
		return
	}

	b.setState(message.From.ID, &ConversationState{
		Command: cmdAdd,
		Step:    1,
		Data:    map[string]interface{}{"user_id": user.ID},
	})

	msg := tgbotapi.NewMessage(message.Chat.ID, "📚 Select a book:")
	msg.ReplyMarkup = bookKeyboard(prefixAddBook, books)
	b.sendMessage(msg)
}

// handleShelf lists the user's shelf
func (b *Bot) handleShelf(ctx context.Context, message *tgbotapi.Message) {
	user, ok := b.currentUser(ctx, message.Chat.ID, message.From)
	if !ok {
		return
	}

	entries, err := b.ledger.ListShelf(ctx, user.ID)
	if err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}
	b.reply(message.Chat.ID, FormatShelf(entries))
}

// handleShelfPick starts a conversation that operates on one shelf book
func (b *Bot) handleShelfPick(ctx context.Context, message *tgbotapi.Message, command string) {
	user, ok := b.currentUser(ctx, message.Chat.ID, message.From)
	if !ok {
		return
	}

	entries, err := b.ledger.ListShelf(ctx, user.ID)
	if err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}
	if len(entries) == 0 {
		b.reply(message.Chat.ID, "Your shelf is empty. Use /add to put a book on it.")
		return
	}

	b.setState(message.From.ID, &ConversationState{
		Command: command,
		Step:    1,
		Data:    map[string]interface{}{"user_id": user.ID},
	})

	books := make([]models.Book, 0, len(entries))
	for _, e := range entries {
		books = append(books, e.Book)
	}
	msg := tgbotapi.NewMessage(message.Chat.ID, "📚 Which book?")
	msg.ReplyMarkup = bookKeyboard(prefixShelf, books)
	b.sendMessage(msg)
}

// handleReport sends the annual report for the given or current year
func (b *Bot) handleReport(ctx context.Context, message *tgbotapi.Message) {
	user, ok := b.currentUser(ctx, message.Chat.ID, message.From)
	if !ok {
		return
	}

	year := b.clock().UTC().Year()
	if args := strings.TrimSpace(message.CommandArguments()); args != "" {
		y, err := strconv.Atoi(args)
		if err != nil || y < 1 || y > 9999 {
			b.reply(message.Chat.ID, "❌ Invalid year. Please enter a valid year\n\nExample: /report 2024")
			return
		}
		year = y
	}

	rep, err := b.reports.AnnualReport(ctx, user.ID, year)
	if err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}

	b.logger.Info("Generated annual report",
		zap.String("user_id", user.ID.String()),
		zap.Int("year", year),
		zap.Int("total_read", rep.TotalRead),
	)
	b.reply(message.Chat.ID, FormatReport(rep))
}

// handleProfile sends the user's profile summary
func (b *Bot) handleProfile(ctx context.Context, message *tgbotapi.Message) {
	user, ok := b.currentUser(ctx, message.Chat.ID, message.From)
	if !ok {
		return
	}

	profile, err := b.reports.Profile(ctx, user.ID)
	if err != nil {
		b.replyError(message.Chat.ID, err)
		return
	}
	b.reply(message.Chat.ID, FormatProfile(profile))
}
