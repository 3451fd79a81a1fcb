package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bookshelf/internal/models"
	"bookshelf/internal/progress"
	"bookshelf/internal/report"
	"bookshelf/internal/storage/stubs"
)

// Note: We can't easily mock tgbotapi.BotAPI, so tests focus on internal logic
// without actually sending messages to Telegram

const (
	testUserID = int64(123)
	testChatID = int64(456)
	testToken  = "123456:TEST-TOKEN"
)

var testNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

var hobbitID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("The Hobbit"))

func newTestBot(t *testing.T) (*Bot, *stubs.MockDB) {
	t.Helper()

	db := stubs.NewMockDB()
	require.NoError(t, db.Initialize(context.Background()))

	clock := func() time.Time { return testNow }
	return &Bot{
		api:      nil, // Not needed for internal logic tests
		token:    testToken,
		db:       db,
		ledger:   progress.NewLedger(db, clock),
		reports:  report.NewAggregator(db, clock),
		states:   make(map[int64]*ConversationState),
		logger:   zap.NewNop(), // Use nop logger for tests
		pageSize: 2,
		now:      clock,
	}, db
}

func command(from int64, text string) *tgbotapi.Message {
	name := strings.SplitN(text, " ", 2)[0]
	return &tgbotapi.Message{
		From:     &tgbotapi.User{ID: from, UserName: "alice"},
		Chat:     &tgbotapi.Chat{ID: testChatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}
}

func text(from int64, body string) *tgbotapi.Message {
	return &tgbotapi.Message{
		From: &tgbotapi.User{ID: from, UserName: "alice"},
		Chat: &tgbotapi.Chat{ID: testChatID},
		Text: body,
	}
}

func callback(from int64, data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: from},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: testChatID}},
		Data:    data,
	}
}

// registered returns a bot whose test user already sent /start
func registered(t *testing.T) (*Bot, *stubs.MockDB, models.User) {
	t.Helper()

	bot, db := newTestBot(t)
	bot.handleMessage(command(testUserID, "/start"))

	user, err := db.GetUserByTelegramID(context.Background(), testUserID)
	require.NoError(t, err)
	return bot, db, user
}

func TestBot_StartRegistersUser(t *testing.T) {
	bot, db := newTestBot(t)
	ctx := context.Background()

	bot.handleMessage(command(testUserID, "/start"))

	user, err := db.GetUserByTelegramID(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, testNow, user.CreatedAt)

	// Second /start keeps the same account
	bot.handleMessage(command(testUserID, "/start"))
	again, err := db.GetUserByTelegramID(ctx, testUserID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)

	// Another account with the same username gets a suffixed one
	bot.handleMessage(command(789, "/start"))
	other, err := db.GetUserByTelegramID(ctx, 789)
	require.NoError(t, err)
	assert.Equal(t, "alice_789", other.Username)
}

func TestBot_UnregisteredUserHasNoConversation(t *testing.T) {
	bot, _ := newTestBot(t)

	bot.handleMessage(command(testUserID, "/add"))
	bot.handleMessage(command(testUserID, "/pages"))

	_, ok := bot.getState(testUserID)
	assert.False(t, ok)
}

func TestBot_NewBookConversation(t *testing.T) {
	bot, db, _ := registered(t)
	ctx := context.Background()

	bot.handleMessage(command(testUserID, "/new_book"))

	state, ok := bot.getState(testUserID)
	require.True(t, ok, "Expected conversation state to be created")
	assert.Equal(t, cmdNewBook, state.Command)
	assert.Equal(t, 1, state.Step)

	bot.handleMessage(text(testUserID, "Foundation"))
	bot.handleMessage(text(testUserID, "Isaac Asimov"))

	// Invalid page count keeps the conversation on the same step
	bot.handleMessage(text(testUserID, "many"))
	assert.Equal(t, 3, state.Step)

	bot.handleMessage(text(testUserID, "255"))
	bot.handleMessage(text(testUserID, "-"))
	bot.handleMessage(text(testUserID, "Science Fiction, , Classic"))

	_, ok = bot.getState(testUserID)
	assert.False(t, ok, "Expected conversation to be complete")

	books, err := db.ListBooks(ctx, models.BookFilter{Title: "foundation"}, 1, 10)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "Isaac Asimov", books[0].Author)
	assert.Equal(t, 255, books[0].Pages)
	assert.Zero(t, books[0].PublishingYear)
	assert.Equal(t, []string{"Science Fiction", "Classic"}, books[0].Genres)
}

func TestBot_AddConversation(t *testing.T) {
	bot, _, user := registered(t)
	ctx := context.Background()

	bot.handleMessage(command(testUserID, "/add hobbit"))
	state, ok := bot.getState(testUserID)
	require.True(t, ok)
	assert.Equal(t, cmdAdd, state.Command)

	bot.handleCallbackQuery(callback(testUserID, prefixAddBook+hobbitID.String()))
	assert.Equal(t, 2, state.Step)

	bot.handleCallbackQuery(callback(testUserID, prefixAddStatus+"1"))
	assert.Equal(t, 3, state.Step)

	bot.handleMessage(text(testUserID, "50"))
	_, ok = bot.getState(testUserID)
	assert.False(t, ok)

	record, err := bot.ledger.GetRecord(ctx, user.ID, hobbitID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReading, record.Status)
	assert.Equal(t, 50, record.PagesRead)
	require.NotNil(t, record.StartDate)
	assert.Equal(t, testNow, *record.StartDate)
}

func TestBot_AddFinishedBook(t *testing.T) {
	bot, _, user := registered(t)

	bot.handleMessage(command(testUserID, "/add"))
	bot.handleCallbackQuery(callback(testUserID, prefixAddBook+hobbitID.String()))
	bot.handleCallbackQuery(callback(testUserID, prefixAddStatus+"2"))

	_, ok := bot.getState(testUserID)
	assert.False(t, ok)

	record, err := bot.ledger.GetRecord(context.Background(), user.ID, hobbitID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, record.Status)
	assert.Equal(t, 310, record.PagesRead)
	assert.NotNil(t, record.FinishDate)
}

func TestBot_ShelfConversations(t *testing.T) {
	bot, _, user := registered(t)
	ctx := context.Background()

	_, err := bot.ledger.CreateRecord(ctx, user.ID, progress.AddRequest{BookID: hobbitID, Status: models.StatusReading, PagesRead: 10})
	require.NoError(t, err)

	pick := func(cmd string) {
		bot.handleMessage(command(testUserID, "/"+cmd))
		state, ok := bot.getState(testUserID)
		require.True(t, ok)
		require.Equal(t, cmd, state.Command)
		bot.handleCallbackQuery(callback(testUserID, prefixShelf+hobbitID.String()))
	}
	current := func() models.ProgressRecord {
		r, err := bot.ledger.GetRecord(ctx, user.ID, hobbitID)
		require.NoError(t, err)
		return r
	}

	t.Run("pages", func(t *testing.T) {
		pick(cmdPages)
		bot.handleMessage(text(testUserID, "310"))
		r := current()
		assert.Equal(t, models.StatusFinished, r.Status)
		assert.Equal(t, 310, r.PagesRead)
	})

	t.Run("rate", func(t *testing.T) {
		pick(cmdRate)
		bot.handleCallbackQuery(callback(testUserID, prefixRate+"4"))
		r := current()
		require.NotNil(t, r.Rating)
		assert.Equal(t, 4, *r.Rating)
	})

	t.Run("review", func(t *testing.T) {
		pick(cmdReview)
		bot.handleMessage(text(testUserID, "  A classic.  "))
		r := current()
		require.NotNil(t, r.Review)
		assert.Equal(t, "A classic.", *r.Review)
	})

	t.Run("status", func(t *testing.T) {
		pick(cmdStatus)
		bot.handleCallbackQuery(callback(testUserID, prefixStatus+"3"))
		r := current()
		assert.Equal(t, models.StatusWantToRead, r.Status)
		assert.Zero(t, r.PagesRead)
		assert.Nil(t, r.StartDate)
	})

	t.Run("review rejected for wanted book", func(t *testing.T) {
		pick(cmdReview)
		bot.handleMessage(text(testUserID, "Changed my mind"))
		r := current()
		require.NotNil(t, r.Review)
		assert.Equal(t, "A classic.", *r.Review)
		_, ok := bot.getState(testUserID)
		assert.False(t, ok)
	})

	t.Run("remove", func(t *testing.T) {
		pick(cmdRemove)
		_, err := bot.ledger.GetRecord(ctx, user.ID, hobbitID)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestBot_CommandInterruptsConversation(t *testing.T) {
	bot, _, _ := registered(t)

	bot.handleMessage(command(testUserID, "/new_book"))
	bot.handleMessage(text(testUserID, "Half a title"))

	bot.handleMessage(command(testUserID, "/books"))
	state, ok := bot.getState(testUserID)
	require.True(t, ok)
	assert.Equal(t, cmdBooks, state.Command)
}

func TestBot_BooksPaging(t *testing.T) {
	bot, _ := newTestBot(t)

	bot.handleMessage(command(testUserID, "/books"))
	state, ok := bot.getState(testUserID)
	require.True(t, ok)
	assert.Equal(t, 1, state.Data["page"])

	bot.handleCallbackQuery(callback(testUserID, prefixBooksPage+"2"))
	assert.Equal(t, 2, state.Data["page"])

	// Callbacks without a matching conversation are ignored
	bot.handleCallbackQuery(callback(999, prefixBooksPage+"3"))
	assert.Equal(t, 2, state.Data["page"])
}

func TestBot_StaleCallbackIsIgnored(t *testing.T) {
	bot, _, user := registered(t)

	bot.handleMessage(command(testUserID, "/add"))
	// Status before book selection
	bot.handleCallbackQuery(callback(testUserID, prefixAddStatus+"1"))

	state, ok := bot.getState(testUserID)
	require.True(t, ok)
	assert.Equal(t, 1, state.Step)

	shelf, err := bot.ledger.ListShelf(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Empty(t, shelf)
}

func TestParseBookFilter(t *testing.T) {
	tests := []struct {
		args string
		want models.BookFilter
	}{
		{"", models.BookFilter{}},
		{"dune", models.BookFilter{Title: "dune"}},
		{"genre:Science Fiction", models.BookFilter{Genre: "Science Fiction"}},
		{"the hobbit Genre: fantasy", models.BookFilter{Title: "the hobbit", Genre: "fantasy"}},
	}

	for _, tt := range tests {
		t.Run(tt.args, func(t *testing.T) {
			assert.Equal(t, tt.want, parseBookFilter(tt.args))
		})
	}
}
