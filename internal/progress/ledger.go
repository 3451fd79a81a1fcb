package progress

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"bookshelf/internal/models"
)

// Store is the persistence the ledger needs.
// storage.Storage implementations satisfy it.
type Store interface {
	UserExists(ctx context.Context, id uuid.UUID) (bool, error)
	GetBook(ctx context.Context, id uuid.UUID) (models.Book, error)
	GetBooks(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Book, error)

	CreateRecord(ctx context.Context, record models.ProgressRecord) (models.ProgressRecord, error)
	GetRecord(ctx context.Context, userID, bookID uuid.UUID) (models.ProgressRecord, error)
	UpdateRecord(ctx context.Context, record models.ProgressRecord) (models.ProgressRecord, error)
	DeleteRecord(ctx context.Context, userID, bookID uuid.UUID) error
	ListRecordsByUser(ctx context.Context, userID uuid.UUID) ([]models.ProgressRecord, error)
}

// AddRequest describes a book being put on a user's shelf
type AddRequest struct {
	BookID    uuid.UUID
	Status    models.ReadingStatus
	PagesRead int
	StartDate *time.Time
}

// Ledger applies mutations to progress records. Every successful call leaves
// the record consistent with its book; a rejected call leaves it untouched.
type Ledger struct {
	store Store
	now   func() time.Time
	locks *keyedMutex
}

// NewLedger creates a ledger. A nil clock falls back to time.Now.
func NewLedger(store Store, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		store: store,
		now:   now,
		locks: newKeyedMutex(),
	}
}

// timestamp returns the current time at the precision the stores keep
func (l *Ledger) timestamp() *time.Time {
	t := l.now().UTC().Truncate(time.Millisecond)
	return &t
}

// CreateRecord puts a book on the user's shelf
func (l *Ledger) CreateRecord(ctx context.Context, userID uuid.UUID, req AddRequest) (models.ProgressRecord, error) {
	if !req.Status.Valid() {
		return models.ProgressRecord{}, models.Errorf(models.ErrInvalidArgument, "%d is not a valid reading status", req.Status)
	}
	if req.PagesRead < 0 {
		return models.ProgressRecord{}, models.Errorf(models.ErrInvalidArgument, "pages read cannot be negative")
	}

	exists, err := l.store.UserExists(ctx, userID)
	if err != nil {
		return models.ProgressRecord{}, fmt.Errorf("failed to look up user: %w", err)
	}
	if !exists {
		return models.ProgressRecord{}, models.Errorf(models.ErrNotFound, "user %s not found", userID)
	}

	book, err := l.store.GetBook(ctx, req.BookID)
	if err != nil {
		return models.ProgressRecord{}, err
	}

	unlock := l.locks.lock(userID, req.BookID)
	defer unlock()

	if _, err := l.store.GetRecord(ctx, userID, req.BookID); err == nil {
		return models.ProgressRecord{}, models.Errorf(models.ErrConflict, "%q is already on the shelf", book.Title)
	} else if models.KindOf(err) != models.ErrNotFound {
		return models.ProgressRecord{}, fmt.Errorf("failed to check shelf: %w", err)
	}

	if req.PagesRead > book.Pages {
		return models.ProgressRecord{}, models.Errorf(models.ErrInvalidArgument,
			"pages read for %q can be at most %d", book.Title, book.Pages)
	}

	record := models.ProgressRecord{
		UserID:    userID,
		BookID:    req.BookID,
		Status:    req.Status,
		PagesRead: req.PagesRead,
	}

	if req.Status == models.StatusWantToRead {
		record.StartDate = nil
	} else if req.StartDate != nil {
		t := req.StartDate.UTC().Truncate(time.Millisecond)
		record.StartDate = &t
	} else {
		record.StartDate = l.timestamp()
	}

	switch {
	case req.PagesRead == book.Pages, req.Status == models.StatusFinished:
		finish(&record, book, l.timestamp())
	case req.Status == models.StatusWantToRead && req.PagesRead > 0:
		return models.ProgressRecord{}, models.Errorf(models.ErrInvalidArgument,
			"a book you want to read cannot have pages read")
	}

	if err := checkInvariants(record, book); err != nil {
		return models.ProgressRecord{}, err
	}

	created, err := l.store.CreateRecord(ctx, record)
	if err != nil {
		return models.ProgressRecord{}, fmt.Errorf("failed to add book to shelf: %w", err)
	}
	return created, nil
}

// GetRecord returns the record a user holds for a book
func (l *Ledger) GetRecord(ctx context.Context, userID, bookID uuid.UUID) (models.ProgressRecord, error) {
	return l.store.GetRecord(ctx, userID, bookID)
}

// ListShelf returns every record of a user with its book, ordered by title
func (l *Ledger) ListShelf(ctx context.Context, userID uuid.UUID) ([]models.ShelfEntry, error) {
	exists, err := l.store.UserExists(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if !exists {
		return nil, models.Errorf(models.ErrNotFound, "user %s not found", userID)
	}

	records, err := l.store.ListRecordsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list shelf: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.BookID)
	}
	books, err := l.store.GetBooks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load shelf books: %w", err)
	}

	entries := make([]models.ShelfEntry, 0, len(records))
	for _, r := range records {
		book, ok := books[r.BookID]
		if !ok {
			continue
		}
		entries = append(entries, models.ShelfEntry{Record: r, Book: book})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Book.Title < entries[j].Book.Title
	})
	return entries, nil
}

// UpdatePagesRead records how far the user got in a book
func (l *Ledger) UpdatePagesRead(ctx context.Context, userID, bookID uuid.UUID, pages int) (models.ProgressRecord, error) {
	if pages < 0 {
		return models.ProgressRecord{}, models.Errorf(models.ErrInvalidArgument, "pages read cannot be negative")
	}

	return l.mutate(ctx, userID, bookID, func(r *models.ProgressRecord, book models.Book) error {
		if pages > book.Pages {
			return models.Errorf(models.ErrInvalidArgument, "%q has only %d pages", book.Title, book.Pages)
		}
		r.PagesRead = pages

		switch {
		case pages == book.Pages:
			r.Status = models.StatusFinished
			r.FinishDate = l.timestamp()
		case pages > 0:
			// StartDate stays as it is, see DESIGN.md
			r.Status = models.StatusReading
			r.FinishDate = nil
		case r.Status == models.StatusFinished:
			// Rewound to zero: the book can no longer count as finished
			r.Status = models.StatusReading
			r.FinishDate = nil
		}
		return nil
	})
}

// ChangeStatus moves a record to another status. Any status can follow any other.
func (l *Ledger) ChangeStatus(ctx context.Context, userID, bookID uuid.UUID, status models.ReadingStatus) (models.ProgressRecord, error) {
	if !status.Valid() {
		return models.ProgressRecord{}, models.Errorf(models.ErrInvalidArgument, "%d is not a valid reading status", status)
	}

	return l.mutate(ctx, userID, bookID, func(r *models.ProgressRecord, book models.Book) error {
		switch status {
		case models.StatusFinished:
			finish(r, book, l.timestamp())
		case models.StatusReading:
			r.Status = models.StatusReading
			r.FinishDate = nil
			if r.StartDate == nil {
				r.StartDate = l.timestamp()
			}
			if r.PagesRead == book.Pages {
				// Re-reading a finished book starts over
				r.PagesRead = 0
			}
		case models.StatusWantToRead:
			r.Status = models.StatusWantToRead
			r.StartDate = nil
			r.FinishDate = nil
			r.PagesRead = 0
		}
		return nil
	})
}

// SetRating rates a finished book from 1 to 5
func (l *Ledger) SetRating(ctx context.Context, userID, bookID uuid.UUID, rating int) (models.ProgressRecord, error) {
	if rating < 1 || rating > 5 {
		return models.ProgressRecord{}, models.Errorf(models.ErrInvalidArgument, "rating must be between 1 and 5")
	}

	return l.mutate(ctx, userID, bookID, func(r *models.ProgressRecord, book models.Book) error {
		if r.Status != models.StatusFinished {
			return models.Errorf(models.ErrInvalidArgument, "you cannot rate %q before finishing it", book.Title)
		}
		r.Rating = &rating
		return nil
	})
}

// SetReview stores the review text of a started or finished book. Blank text clears it.
func (l *Ledger) SetReview(ctx context.Context, userID, bookID uuid.UUID, text string) (models.ProgressRecord, error) {
	return l.mutate(ctx, userID, bookID, func(r *models.ProgressRecord, book models.Book) error {
		if r.Status == models.StatusWantToRead {
			return models.Errorf(models.ErrInvalidOperation, "you cannot review %q before starting it", book.Title)
		}

		text = strings.TrimSpace(text)
		if text == "" {
			r.Review = nil
			return nil
		}
		if utf8.RuneCountInString(text) > models.MaxReviewLength {
			return models.Errorf(models.ErrInvalidArgument, "review cannot exceed %d characters", models.MaxReviewLength)
		}
		r.Review = &text
		return nil
	})
}

// RemoveRecord takes a book off the user's shelf
func (l *Ledger) RemoveRecord(ctx context.Context, userID, bookID uuid.UUID) error {
	unlock := l.locks.lock(userID, bookID)
	defer unlock()

	return l.store.DeleteRecord(ctx, userID, bookID)
}

// mutate runs fn against a copy of the stored record and writes it back
// only if fn succeeds and the result is consistent
func (l *Ledger) mutate(ctx context.Context, userID, bookID uuid.UUID, fn func(r *models.ProgressRecord, book models.Book) error) (models.ProgressRecord, error) {
	unlock := l.locks.lock(userID, bookID)
	defer unlock()

	current, err := l.store.GetRecord(ctx, userID, bookID)
	if err != nil {
		return models.ProgressRecord{}, err
	}
	book, err := l.store.GetBook(ctx, bookID)
	if err != nil {
		return models.ProgressRecord{}, err
	}

	next := current.Clone()
	if err := fn(&next, book); err != nil {
		return models.ProgressRecord{}, err
	}
	if err := checkInvariants(next, book); err != nil {
		return models.ProgressRecord{}, err
	}

	updated, err := l.store.UpdateRecord(ctx, next)
	if err != nil {
		return models.ProgressRecord{}, fmt.Errorf("failed to save progress: %w", err)
	}
	return updated, nil
}

// finish marks the record finished with the full page count
func finish(r *models.ProgressRecord, book models.Book, now *time.Time) {
	r.Status = models.StatusFinished
	r.PagesRead = book.Pages
	r.FinishDate = now
	if r.StartDate == nil {
		t := *now
		r.StartDate = &t
	}
}

// checkInvariants verifies a record against its book before it is written
func checkInvariants(r models.ProgressRecord, book models.Book) error {
	switch {
	case !r.Status.Valid():
		return models.Errorf(models.ErrInvalidArgument, "%d is not a valid reading status", r.Status)
	case r.PagesRead < 0 || r.PagesRead > book.Pages:
		return models.Errorf(models.ErrInvalidArgument, "pages read must be between 0 and %d", book.Pages)
	case (r.Status == models.StatusFinished) != (r.PagesRead == book.Pages):
		return models.Errorf(models.ErrInvalidArgument, "only a book read to the last page can be finished")
	case (r.Status == models.StatusFinished) != (r.FinishDate != nil):
		return models.Errorf(models.ErrInvalidArgument, "finish date must be set exactly when the book is finished")
	case r.Status == models.StatusWantToRead && (r.StartDate != nil || r.PagesRead != 0):
		return models.Errorf(models.ErrInvalidArgument, "a book you want to read cannot have progress")
	case r.Rating != nil && (*r.Rating < 1 || *r.Rating > 5):
		return models.Errorf(models.ErrInvalidArgument, "rating must be between 1 and 5")
	}
	return nil
}
