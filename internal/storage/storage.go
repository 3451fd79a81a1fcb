package storage

import (
	"context"

	"github.com/google/uuid"

	"bookshelf/internal/models"
)

// Storage defines the interface for data storage operations
type Storage interface {
	// User operations
	CreateUser(ctx context.Context, user models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (models.User, error)
	GetUserByTelegramID(ctx context.Context, telegramID int64) (models.User, error)
	UserExists(ctx context.Context, id uuid.UUID) (bool, error)

	// Book operations
	CreateBook(ctx context.Context, book models.Book) error
	GetBook(ctx context.Context, id uuid.UUID) (models.Book, error)

	// GetBooks returns the books with the given IDs keyed by ID.
	// Unknown IDs are silently skipped.
	GetBooks(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Book, error)

	// ListBooks returns one page of the catalog ordered by title.
	// Pages are 1-based; filter fields are case-insensitive substrings.
	ListBooks(ctx context.Context, filter models.BookFilter, page, pageSize int) ([]models.Book, error)

	// Progress record operations

	// CreateRecord stores a new record with Version 1.
	// Returns models.ErrConflict if the user already holds a record for the book.
	CreateRecord(ctx context.Context, record models.ProgressRecord) (models.ProgressRecord, error)
	GetRecord(ctx context.Context, userID, bookID uuid.UUID) (models.ProgressRecord, error)

	// UpdateRecord replaces a record if record.Version still matches the stored one.
	// A stale version yields models.ErrConflict. The returned record carries the new version.
	UpdateRecord(ctx context.Context, record models.ProgressRecord) (models.ProgressRecord, error)
	DeleteRecord(ctx context.Context, userID, bookID uuid.UUID) error
	ListRecordsByUser(ctx context.Context, userID uuid.UUID) ([]models.ProgressRecord, error)

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}
