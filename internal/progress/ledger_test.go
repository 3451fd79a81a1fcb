package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookshelf/internal/models"
	"bookshelf/internal/storage/stubs"
)

var fixedNow = time.Date(2024, 5, 10, 12, 30, 0, 0, time.UTC)

// setupLedger creates a ledger over a mock store with one user and one 300-page book
func setupLedger(t *testing.T) (*Ledger, *stubs.MockDB, uuid.UUID, models.Book) {
	t.Helper()

	db := stubs.NewMockDB()
	ctx := context.Background()

	user := models.User{ID: uuid.New(), Username: "alice", CreatedAt: fixedNow.AddDate(-1, 0, 0)}
	require.NoError(t, db.CreateUser(ctx, user))

	book := models.Book{ID: uuid.New(), Title: "Test Book", Pages: 300, Genres: []string{"Fantasy"}}
	require.NoError(t, db.CreateBook(ctx, book))

	ledger := NewLedger(db, func() time.Time { return fixedNow })
	return ledger, db, user.ID, book
}

func assertConsistent(t *testing.T, r models.ProgressRecord, book models.Book) {
	t.Helper()

	assert.NoError(t, checkInvariants(r, book))
	if r.Status == models.StatusWantToRead {
		assert.Zero(t, r.PagesRead)
		assert.Nil(t, r.StartDate)
		assert.Nil(t, r.FinishDate)
	}
	if r.PagesRead == book.Pages {
		assert.Equal(t, models.StatusFinished, r.Status)
		assert.NotNil(t, r.FinishDate)
	}
}

func TestLedger_CreateRecord(t *testing.T) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	testCases := []struct {
		name           string
		req            func(book models.Book) AddRequest
		expectedStatus models.ReadingStatus
		expectedPages  int
		expectStart    *time.Time
		expectFinish   bool
	}{
		{
			name: "reading with full page count becomes finished",
			req: func(b models.Book) AddRequest {
				return AddRequest{BookID: b.ID, Status: models.StatusReading, PagesRead: 300}
			},
			expectedStatus: models.StatusFinished,
			expectedPages:  300,
			expectStart:    &fixedNow,
			expectFinish:   true,
		},
		{
			name: "want to read ignores start date",
			req: func(b models.Book) AddRequest {
				return AddRequest{BookID: b.ID, Status: models.StatusWantToRead, StartDate: &start}
			},
			expectedStatus: models.StatusWantToRead,
		},
		{
			name: "reading defaults start date to now",
			req: func(b models.Book) AddRequest {
				return AddRequest{BookID: b.ID, Status: models.StatusReading, PagesRead: 20}
			},
			expectedStatus: models.StatusReading,
			expectedPages:  20,
			expectStart:    &fixedNow,
		},
		{
			name: "reading keeps supplied start date",
			req: func(b models.Book) AddRequest {
				return AddRequest{BookID: b.ID, Status: models.StatusReading, PagesRead: 20, StartDate: &start}
			},
			expectedStatus: models.StatusReading,
			expectedPages:  20,
			expectStart:    &start,
		},
		{
			name: "finished fills the page count",
			req: func(b models.Book) AddRequest {
				return AddRequest{BookID: b.ID, Status: models.StatusFinished, PagesRead: 10}
			},
			expectedStatus: models.StatusFinished,
			expectedPages:  300,
			expectStart:    &fixedNow,
			expectFinish:   true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ledger, _, userID, book := setupLedger(t)
			ctx := context.Background()

			created, err := ledger.CreateRecord(ctx, userID, tc.req(book))
			require.NoError(t, err)

			// Round-trip through the store
			stored, err := ledger.GetRecord(ctx, userID, book.ID)
			require.NoError(t, err)
			assert.Equal(t, created, stored)

			assert.Equal(t, tc.expectedStatus, stored.Status)
			assert.Equal(t, tc.expectedPages, stored.PagesRead)
			if tc.expectStart != nil {
				require.NotNil(t, stored.StartDate)
				assert.True(t, tc.expectStart.Equal(*stored.StartDate))
			} else {
				assert.Nil(t, stored.StartDate)
			}
			if tc.expectFinish {
				require.NotNil(t, stored.FinishDate)
				assert.True(t, fixedNow.Equal(*stored.FinishDate))
			} else {
				assert.Nil(t, stored.FinishDate)
			}
			assertConsistent(t, stored, book)
		})
	}
}

func TestLedger_CreateRecordErrors(t *testing.T) {
	ledger, _, userID, book := setupLedger(t)
	ctx := context.Background()

	_, err := ledger.CreateRecord(ctx, uuid.New(), AddRequest{BookID: book.ID, Status: models.StatusReading})
	assert.ErrorIs(t, err, models.ErrNotFound, "unknown user")

	_, err = ledger.CreateRecord(ctx, userID, AddRequest{BookID: uuid.New(), Status: models.StatusReading})
	assert.ErrorIs(t, err, models.ErrNotFound, "unknown book")

	_, err = ledger.CreateRecord(ctx, userID, AddRequest{BookID: book.ID, Status: models.ReadingStatus(9)})
	assert.ErrorIs(t, err, models.ErrInvalidArgument, "unknown status")

	_, err = ledger.CreateRecord(ctx, userID, AddRequest{BookID: book.ID, Status: 0})
	assert.ErrorIs(t, err, models.ErrInvalidArgument, "zero status")

	_, err = ledger.CreateRecord(ctx, userID, AddRequest{BookID: book.ID, Status: models.StatusReading, PagesRead: 301})
	assert.ErrorIs(t, err, models.ErrInvalidArgument, "too many pages")

	_, err = ledger.CreateRecord(ctx, userID, AddRequest{BookID: book.ID, Status: models.StatusReading, PagesRead: -1})
	assert.ErrorIs(t, err, models.ErrInvalidArgument, "negative pages")

	_, err = ledger.CreateRecord(ctx, userID, AddRequest{BookID: book.ID, Status: models.StatusWantToRead, PagesRead: 5})
	assert.ErrorIs(t, err, models.ErrInvalidArgument, "want to read with progress")

	// Nothing was stored by the rejected calls
	_, err = ledger.GetRecord(ctx, userID, book.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = ledger.CreateRecord(ctx, userID, AddRequest{BookID: book.ID, Status: models.StatusReading})
	require.NoError(t, err)

	_, err = ledger.CreateRecord(ctx, userID, AddRequest{BookID: book.ID, Status: models.StatusWantToRead})
	assert.ErrorIs(t, err, models.ErrConflict, "duplicate")
}

func TestLedger_UpdatePagesRead(t *testing.T) {
	ledger, _, userID, book := setupLedger(t)
	ctx := context.Background()

	_, err := ledger.UpdatePagesRead(ctx, userID, book.ID, 10)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = ledger.CreateRecord(ctx, userID, AddRequest{BookID: book.ID, Status: models.StatusWantToRead})
	require.NoError(t, err)

	t.Run("zero pages keeps status", func(t *testing.T) {
		r, err := ledger.UpdatePagesRead(ctx, userID, book.ID, 0)
		require.NoError(t, err)
		assert.Equal(t, models.StatusWantToRead, r.Status)
		assertConsistent(t, r, book)
	})

	t.Run("some pages move to reading without stamping start", func(t *testing.T) {
		r, err := ledger.UpdatePagesRead(ctx, userID, book.ID, 120)
		require.NoError(t, err)
		assert.Equal(t, models.StatusReading, r.Status)
		assert.Equal(t, 120, r.PagesRead)
		assert.Nil(t, r.StartDate)
		assert.Nil(t, r.FinishDate)
	})

	t.Run("too many pages leaves record unchanged", func(t *testing.T) {
		before, err := ledger.GetRecord(ctx, userID, book.ID)
		require.NoError(t, err)

		_, err = ledger.UpdatePagesRead(ctx, userID, book.ID, 301)
		assert.ErrorIs(t, err, models.ErrInvalidArgument)

		_, err = ledger.UpdatePagesRead(ctx, userID, book.ID, -3)
		assert.ErrorIs(t, err, models.ErrInvalidArgument)

		after, err := ledger.GetRecord(ctx, userID, book.ID)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("last page finishes the book", func(t *testing.T) {
		r, err := ledger.UpdatePagesRead(ctx, userID, book.ID, 300)
		require.NoError(t, err)
		assert.Equal(t, models.StatusFinished, r.Status)
		require.NotNil(t, r.FinishDate)
		assertConsistent(t, r, book)
	})

	t.Run("going back clears the finish date", func(t *testing.T) {
		r, err := ledger.UpdatePagesRead(ctx, userID, book.ID, 250)
		require.NoError(t, err)
		assert.Equal(t, models.StatusReading, r.Status)
		assert.Nil(t, r.FinishDate)
		assertConsistent(t, r, book)
	})

	t.Run("rewinding a finished book to zero reopens it", func(t *testing.T) {
		_, err := ledger.UpdatePagesRead(ctx, userID, book.ID, 300)
		require.NoError(t, err)

		r, err := ledger.UpdatePagesRead(ctx, userID, book.ID, 0)
		require.NoError(t, err)
		assert.Equal(t, models.StatusReading, r.Status)
		assertConsistent(t, r, book)
	})
}

func TestLedger_ChangeStatus(t *testing.T) {
	ledger, _, userID, book := setupLedger(t)
	ctx := context.Background()

	_, err := ledger.ChangeStatus(ctx, userID, book.ID, models.StatusReading)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = ledger.CreateRecord(ctx, userID, AddRequest{BookID: book.ID, Status: models.StatusWantToRead})
	require.NoError(t, err)

	_, err = ledger.ChangeStatus(ctx, userID, book.ID, models.ReadingStatus(42))
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	r, err := ledger.ChangeStatus(ctx, userID, book.ID, models.StatusReading)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReading, r.Status)
	require.NotNil(t, r.StartDate)
	assert.Zero(t, r.PagesRead)

	_, err = ledger.UpdatePagesRead(ctx, userID, book.ID, 40)
	require.NoError(t, err)

	r, err = ledger.ChangeStatus(ctx, userID, book.ID, models.StatusFinished)
	require.NoError(t, err)
	assert.Equal(t, 300, r.PagesRead)
	require.NotNil(t, r.FinishDate)
	assertConsistent(t, r, book)

	r, err = ledger.ChangeStatus(ctx, userID, book.ID, models.StatusReading)
	require.NoError(t, err)
	assert.Nil(t, r.FinishDate)
	assert.NotNil(t, r.StartDate)
	assertConsistent(t, r, book)

	// Every transition is allowed, including back to want to read
	for _, from := range models.AllStatuses {
		for _, to := range models.AllStatuses {
			_, err := ledger.ChangeStatus(ctx, userID, book.ID, from)
			require.NoError(t, err)
			r, err := ledger.ChangeStatus(ctx, userID, book.ID, to)
			require.NoError(t, err, "%s -> %s", from, to)
			assert.Equal(t, to, r.Status)
			assertConsistent(t, r, book)
		}
	}
}

func TestLedger_ChangeStatusWantToReadIsIdempotent(t *testing.T) {
	ledger, _, userID, book := setupLedger(t)
	ctx := context.Background()

	_, err := ledger.CreateRecord(ctx, userID, AddRequest{BookID: book.ID, Status: models.StatusReading, PagesRead: 100})
	require.NoError(t, err)

	once, err := ledger.ChangeStatus(ctx, userID, book.ID, models.StatusWantToRead)
	require.NoError(t, err)
	twice, err := ledger.ChangeStatus(ctx, userID, book.ID, models.StatusWantToRead)
	require.NoError(t, err)

	// Only the store version moves
	once.Version, twice.Version = 0, 0
	assert.Equal(t, once, twice)
	assertConsistent(t, twice, book)
}

func TestLedger_SetRating(t *testing.T) {
	ledger, _, userID, book := setupLedger(t)
	ctx := context.Background()

	_, err := ledger.CreateRecord(ctx, userID, AddRequest{BookID: book.ID, Status: models.StatusReading, PagesRead: 10})
	require.NoError(t, err)

	for _, status := range []models.ReadingStatus{models.StatusReading, models.StatusWantToRead} {
		_, err := ledger.ChangeStatus(ctx, userID, book.ID, status)
		require.NoError(t, err)
		for rating := 0; rating <= 6; rating++ {
			_, err := ledger.SetRating(ctx, userID, book.ID, rating)
			assert.ErrorIs(t, err, models.ErrInvalidArgument, "status %s rating %d", status, rating)
		}
	}

	_, err = ledger.ChangeStatus(ctx, userID, book.ID, models.StatusFinished)
	require.NoError(t, err)

	_, err = ledger.SetRating(ctx, userID, book.ID, 6)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	r, err := ledger.SetRating(ctx, userID, book.ID, 4)
	require.NoError(t, err)
	require.NotNil(t, r.Rating)
	assert.Equal(t, 4, *r.Rating)

	_, err = ledger.SetRating(ctx, userID, uuid.New(), 4)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestLedger_SetReview(t *testing.T) {
	ledger, _, userID, book := setupLedger(t)
	ctx := context.Background()

	_, err := ledger.SetReview(ctx, userID, book.ID, "great")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = ledger.CreateRecord(ctx, userID, AddRequest{BookID: book.ID, Status: models.StatusWantToRead})
	require.NoError(t, err)

	_, err = ledger.SetReview(ctx, userID, book.ID, "great")
	assert.ErrorIs(t, err, models.ErrInvalidOperation)

	_, err = ledger.ChangeStatus(ctx, userID, book.ID, models.StatusReading)
	require.NoError(t, err)

	r, err := ledger.SetReview(ctx, userID, book.ID, "  slow start, great ending \n")
	require.NoError(t, err)
	require.NotNil(t, r.Review)
	assert.Equal(t, "slow start, great ending", *r.Review)

	long := make([]rune, models.MaxReviewLength+1)
	for i := range long {
		long[i] = 'é'
	}
	_, err = ledger.SetReview(ctx, userID, book.ID, string(long))
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	r, err = ledger.SetReview(ctx, userID, book.ID, "   ")
	require.NoError(t, err)
	assert.Nil(t, r.Review)
}

func TestLedger_RemoveRecord(t *testing.T) {
	ledger, _, userID, book := setupLedger(t)
	ctx := context.Background()

	err := ledger.RemoveRecord(ctx, userID, book.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = ledger.CreateRecord(ctx, userID, AddRequest{BookID: book.ID, Status: models.StatusReading})
	require.NoError(t, err)

	require.NoError(t, ledger.RemoveRecord(ctx, userID, book.ID))

	_, err = ledger.GetRecord(ctx, userID, book.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	// The book can be added again once removed
	_, err = ledger.CreateRecord(ctx, userID, AddRequest{BookID: book.ID, Status: models.StatusWantToRead})
	assert.NoError(t, err)
}

func TestLedger_ListShelf(t *testing.T) {
	ledger, db, userID, book := setupLedger(t)
	ctx := context.Background()

	_, err := ledger.ListShelf(ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)

	other := models.Book{ID: uuid.New(), Title: "Another Book", Pages: 50}
	require.NoError(t, db.CreateBook(ctx, other))

	_, err = ledger.CreateRecord(ctx, userID, AddRequest{BookID: book.ID, Status: models.StatusReading})
	require.NoError(t, err)
	_, err = ledger.CreateRecord(ctx, userID, AddRequest{BookID: other.ID, Status: models.StatusWantToRead})
	require.NoError(t, err)

	shelf, err := ledger.ListShelf(ctx, userID)
	require.NoError(t, err)
	require.Len(t, shelf, 2)
	assert.Equal(t, "Another Book", shelf[0].Book.Title)
	assert.Equal(t, "Test Book", shelf[1].Book.Title)
}

func TestLedger_ConcurrentUpdates(t *testing.T) {
	ledger, _, userID, book := setupLedger(t)
	ctx := context.Background()

	_, err := ledger.CreateRecord(ctx, userID, AddRequest{BookID: book.ID, Status: models.StatusReading})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(pages int) {
			defer wg.Done()
			_, err := ledger.UpdatePagesRead(ctx, userID, book.ID, pages)
			assert.NoError(t, err)
		}(i * 15)
		go func(i int) {
			defer wg.Done()
			_, err := ledger.ChangeStatus(ctx, userID, book.ID, models.AllStatuses[i%3])
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	r, err := ledger.GetRecord(ctx, userID, book.ID)
	require.NoError(t, err)
	assertConsistent(t, r, book)
	// One creation plus forty serialized writes
	assert.Equal(t, uint64(41), r.Version)
}
