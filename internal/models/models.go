package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxReviewLength is the longest review text accepted, in characters
const MaxReviewLength = 500

// User represents a reader registered in the system
type User struct {
	ID         uuid.UUID
	Username   string
	TelegramID int64
	CreatedAt  time.Time
}

// Book represents a book in the catalog
type Book struct {
	ID             uuid.UUID
	Title          string
	Author         string
	Pages          int
	Synopsis       string
	PublishingYear int
	Genres         []string
}

// ProgressRecord is the reading state a user holds for one book on their shelf
type ProgressRecord struct {
	UserID     uuid.UUID
	BookID     uuid.UUID
	Status     ReadingStatus
	PagesRead  int
	StartDate  *time.Time
	FinishDate *time.Time
	Rating     *int
	Review     *string

	// Version is bumped by the store on every write and used to reject stale updates
	Version uint64
}

// Clone returns a deep copy of the record
func (r ProgressRecord) Clone() ProgressRecord {
	out := r
	if r.StartDate != nil {
		t := *r.StartDate
		out.StartDate = &t
	}
	if r.FinishDate != nil {
		t := *r.FinishDate
		out.FinishDate = &t
	}
	if r.Rating != nil {
		v := *r.Rating
		out.Rating = &v
	}
	if r.Review != nil {
		s := *r.Review
		out.Review = &s
	}
	return out
}

// PercentComplete returns the share of the book already read, truncated to an integer
func (r ProgressRecord) PercentComplete(book Book) int {
	if book.Pages <= 0 {
		return 0
	}
	return r.PagesRead * 100 / book.Pages
}

// ShelfEntry pairs a record with the catalog book it refers to
type ShelfEntry struct {
	Record ProgressRecord
	Book   Book
}

// BookFilter narrows catalog listings. Empty fields match everything.
type BookFilter struct {
	Title string
	Genre string
}

// AnnualReport summarizes a user's reading for one calendar year
type AnnualReport struct {
	Year                  int     `json:"year"`
	TotalRead             int     `json:"total_read"`
	TotalReading          int     `json:"total_reading"`
	TotalWantToRead       int     `json:"total_want_to_read"`
	TotalPagesRead        int     `json:"total_pages_read"`
	EstimatedReadingHours float64 `json:"estimated_reading_hours"`
	AverageRating         float64 `json:"average_rating"`
	FavoriteGenre         *string `json:"favorite_genre"`
	MemberSince           string  `json:"member_since"`
	MinutesOnPlatform     int64   `json:"minutes_on_platform"`
}

// Profile is a short overview of a user and their shelf
type Profile struct {
	Username    string        `json:"username"`
	MemberSince string        `json:"member_since"`
	TotalBooks  int           `json:"total_books"`
	BooksRead   int           `json:"books_read"`
	Books       []ProfileBook `json:"books"`
}

// ProfileBook is one line of a profile's shelf summary
type ProfileBook struct {
	BookTitle       string     `json:"book_title"`
	PagesRead       int        `json:"pages_read"`
	PercentComplete int        `json:"percent_complete"`
	Status          string     `json:"status"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
}
