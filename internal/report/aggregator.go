package report

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"bookshelf/internal/models"
)

// DateLayout is how membership dates are rendered in reports
const DateLayout = "2006-01-02"

// PagesPerHour is the reading pace assumed for estimated hours (one page a minute)
const PagesPerHour = 60.0

// Store is the read-only view of storage the aggregator needs
type Store interface {
	GetUser(ctx context.Context, id uuid.UUID) (models.User, error)
	GetBooks(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Book, error)
	ListRecordsByUser(ctx context.Context, userID uuid.UUID) ([]models.ProgressRecord, error)
}

// Aggregator builds reading summaries from a user's shelf
type Aggregator struct {
	store Store
	now   func() time.Time
}

// NewAggregator creates an aggregator. A nil clock falls back to time.Now.
func NewAggregator(store Store, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{store: store, now: now}
}

// AnnualReport summarizes what the user read in the given year
func (a *Aggregator) AnnualReport(ctx context.Context, userID uuid.UUID, year int) (models.AnnualReport, error) {
	user, entries, err := a.snapshot(ctx, userID)
	if err != nil {
		return models.AnnualReport{}, err
	}
	return Fold(user, entries, year, a.now()), nil
}

// Profile returns a short overview of the user and every book on their shelf
func (a *Aggregator) Profile(ctx context.Context, userID uuid.UUID) (models.Profile, error) {
	user, entries, err := a.snapshot(ctx, userID)
	if err != nil {
		return models.Profile{}, err
	}

	profile := models.Profile{
		Username:    user.Username,
		MemberSince: formatDate(user.CreatedAt),
		TotalBooks:  len(entries),
		Books:       make([]models.ProfileBook, 0, len(entries)),
	}
	for _, e := range entries {
		if e.Record.Status == models.StatusFinished {
			profile.BooksRead++
		}
		profile.Books = append(profile.Books, models.ProfileBook{
			BookTitle:       e.Book.Title,
			PagesRead:       e.Record.PagesRead,
			PercentComplete: e.Record.PercentComplete(e.Book),
			Status:          e.Record.Status.DisplayName(),
			StartedAt:       e.Record.StartDate,
		})
	}
	sort.SliceStable(profile.Books, func(i, j int) bool {
		return profile.Books[i].BookTitle < profile.Books[j].BookTitle
	})
	return profile, nil
}

// snapshot loads the user and their records joined with catalog books
func (a *Aggregator) snapshot(ctx context.Context, userID uuid.UUID) (models.User, []models.ShelfEntry, error) {
	user, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return models.User{}, nil, err
	}

	records, err := a.store.ListRecordsByUser(ctx, userID)
	if err != nil {
		return models.User{}, nil, fmt.Errorf("failed to list records: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.BookID)
	}
	books, err := a.store.GetBooks(ctx, ids)
	if err != nil {
		return models.User{}, nil, fmt.Errorf("failed to load books: %w", err)
	}

	entries := make([]models.ShelfEntry, 0, len(records))
	for _, r := range records {
		// A book missing from the catalog still counts with what the record knows
		book, ok := books[r.BookID]
		if !ok {
			book = models.Book{ID: r.BookID, Pages: r.PagesRead}
		}
		entries = append(entries, models.ShelfEntry{Record: r, Book: book})
	}
	return user, entries, nil
}

// Fold computes the annual report in a single pass over the shelf.
//
// Finished books count when their finish date falls in year and contribute
// their full length; books being read contribute the pages read so far;
// wanted books are only counted. The favorite genre is the most frequent
// genre among books finished in year, ties going to the alphabetically
// first name.
func Fold(user models.User, entries []models.ShelfEntry, year int, now time.Time) models.AnnualReport {
	rep := models.AnnualReport{
		Year:        year,
		MemberSince: formatDate(user.CreatedAt),
	}
	if !user.CreatedAt.IsZero() {
		if elapsed := now.Sub(user.CreatedAt); elapsed > 0 {
			rep.MinutesOnPlatform = int64(elapsed / time.Minute)
		}
	}

	var (
		ratingSum   int
		ratingCount int
		genreCounts = make(map[string]int)
	)

	for _, e := range entries {
		r := e.Record
		switch r.Status {
		case models.StatusFinished:
			if r.FinishDate == nil || r.FinishDate.UTC().Year() != year {
				continue
			}
			rep.TotalRead++
			rep.TotalPagesRead += e.Book.Pages
			if r.Rating != nil {
				ratingSum += *r.Rating
				ratingCount++
			}
			for _, g := range e.Book.Genres {
				genreCounts[g]++
			}
		case models.StatusReading:
			rep.TotalReading++
			rep.TotalPagesRead += r.PagesRead
		case models.StatusWantToRead:
			rep.TotalWantToRead++
		}
	}

	rep.EstimatedReadingHours = round2(float64(rep.TotalPagesRead) / PagesPerHour)
	if ratingCount > 0 {
		rep.AverageRating = round2(float64(ratingSum) / float64(ratingCount))
	}
	rep.FavoriteGenre = favorite(genreCounts)

	return rep
}

func favorite(counts map[string]int) *string {
	var (
		best      string
		bestCount int
	)
	for genre, n := range counts {
		if n > bestCount || (n == bestCount && genre < best) {
			best, bestCount = genre, n
		}
	}
	if bestCount == 0 {
		return nil
	}
	return &best
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(DateLayout)
}
