package stubs

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"bookshelf/internal/models"
)

type recordKey struct {
	userID uuid.UUID
	bookID uuid.UUID
}

// MockDB is an in-memory implementation of the Storage interface for testing
type MockDB struct {
	mu      sync.RWMutex
	users   map[uuid.UUID]models.User
	books   map[uuid.UUID]models.Book
	records map[recordKey]models.ProgressRecord
}

// NewMockDB creates a new mock database
func NewMockDB() *MockDB {
	return &MockDB{
		users:   make(map[uuid.UUID]models.User),
		books:   make(map[uuid.UUID]models.Book),
		records: make(map[recordKey]models.ProgressRecord),
	}
}

// Initialize seeds a small catalog for local runs
func (m *MockDB) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	defaults := []models.Book{
		{Title: "The Hobbit", Author: "J. R. R. Tolkien", Pages: 310, PublishingYear: 1937, Genres: []string{"Fantasy", "Adventure"}},
		{Title: "Dune", Author: "Frank Herbert", Pages: 412, PublishingYear: 1965, Genres: []string{"Science Fiction"}},
		{Title: "Dom Casmurro", Author: "Machado de Assis", Pages: 256, PublishingYear: 1899, Genres: []string{"Classic", "Romance"}},
		{Title: "Neuromancer", Author: "William Gibson", Pages: 271, PublishingYear: 1984, Genres: []string{"Science Fiction", "Cyberpunk"}},
	}
	for _, b := range defaults {
		b.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(b.Title))
		m.books[b.ID] = b
	}

	return nil
}

// CreateUser stores a new user, rejecting duplicate IDs, usernames and Telegram IDs
func (m *MockDB) CreateUser(ctx context.Context, user models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.ID == user.ID {
			return models.Errorf(models.ErrConflict, "user %s already exists", user.ID)
		}
		if strings.EqualFold(u.Username, user.Username) {
			return models.Errorf(models.ErrConflict, "username %q is already taken", user.Username)
		}
		if user.TelegramID != 0 && u.TelegramID == user.TelegramID {
			return models.Errorf(models.ErrConflict, "telegram user %d is already registered", user.TelegramID)
		}
	}
	m.users[user.ID] = user
	return nil
}

// GetUser returns a user by ID
func (m *MockDB) GetUser(ctx context.Context, id uuid.UUID) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return models.User{}, models.Errorf(models.ErrNotFound, "user %s not found", id)
	}
	return u, nil
}

// GetUserByTelegramID returns the user registered for a Telegram account
func (m *MockDB) GetUserByTelegramID(ctx context.Context, telegramID int64) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.TelegramID == telegramID {
			return u, nil
		}
	}
	return models.User{}, models.Errorf(models.ErrNotFound, "telegram user %d is not registered", telegramID)
}

// UserExists reports whether a user with the given ID exists
func (m *MockDB) UserExists(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.users[id]
	return ok, nil
}

// CreateBook adds a book to the catalog
func (m *MockDB) CreateBook(ctx context.Context, book models.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.books[book.ID]; ok {
		return models.Errorf(models.ErrConflict, "book %s already exists", book.ID)
	}
	book.Genres = append([]string(nil), book.Genres...)
	m.books[book.ID] = book
	return nil
}

// GetBook returns a book by ID
func (m *MockDB) GetBook(ctx context.Context, id uuid.UUID) (models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.books[id]
	if !ok {
		return models.Book{}, models.Errorf(models.ErrNotFound, "book %s not found", id)
	}
	return b, nil
}

// GetBooks returns the known books among ids
func (m *MockDB) GetBooks(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	books := make(map[uuid.UUID]models.Book, len(ids))
	for _, id := range ids {
		if b, ok := m.books[id]; ok {
			books[id] = b
		}
	}
	return books, nil
}

// ListBooks returns one page of matching books sorted by title
func (m *MockDB) ListBooks(ctx context.Context, filter models.BookFilter, page, pageSize int) ([]models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	title := strings.ToLower(filter.Title)
	genre := strings.ToLower(filter.Genre)

	var books []models.Book
	for _, b := range m.books {
		if title != "" && !strings.Contains(strings.ToLower(b.Title), title) {
			continue
		}
		if genre != "" && !hasGenre(b, genre) {
			continue
		}
		books = append(books, b)
	}

	// Sort by title
	sort.Slice(books, func(i, j int) bool {
		if books[i].Title != books[j].Title {
			return books[i].Title < books[j].Title
		}
		return books[i].ID.String() < books[j].ID.String()
	})

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		return books, nil
	}
	start := (page - 1) * pageSize
	if start >= len(books) {
		return nil, nil
	}
	end := start + pageSize
	if end > len(books) {
		end = len(books)
	}
	return books[start:end], nil
}

func hasGenre(b models.Book, genre string) bool {
	for _, g := range b.Genres {
		if strings.Contains(strings.ToLower(g), genre) {
			return true
		}
	}
	return false
}

// CreateRecord stores a new progress record
func (m *MockDB) CreateRecord(ctx context.Context, record models.ProgressRecord) (models.ProgressRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := recordKey{record.UserID, record.BookID}
	if _, ok := m.records[key]; ok {
		return models.ProgressRecord{}, models.Errorf(models.ErrConflict, "book %s is already on the shelf", record.BookID)
	}
	record = record.Clone()
	record.Version = 1
	m.records[key] = record
	return record.Clone(), nil
}

// GetRecord returns the record for a (user, book) pair
func (m *MockDB) GetRecord(ctx context.Context, userID, bookID uuid.UUID) (models.ProgressRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[recordKey{userID, bookID}]
	if !ok {
		return models.ProgressRecord{}, models.Errorf(models.ErrNotFound, "book %s is not on the shelf", bookID)
	}
	return r.Clone(), nil
}

// UpdateRecord replaces a record when its version matches
func (m *MockDB) UpdateRecord(ctx context.Context, record models.ProgressRecord) (models.ProgressRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := recordKey{record.UserID, record.BookID}
	current, ok := m.records[key]
	if !ok {
		return models.ProgressRecord{}, models.Errorf(models.ErrNotFound, "book %s is not on the shelf", record.BookID)
	}
	if current.Version != record.Version {
		return models.ProgressRecord{}, models.Errorf(models.ErrConflict, "record for book %s was modified concurrently", record.BookID)
	}
	record = record.Clone()
	record.Version++
	m.records[key] = record
	return record.Clone(), nil
}

// DeleteRecord removes a record from the shelf
func (m *MockDB) DeleteRecord(ctx context.Context, userID, bookID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := recordKey{userID, bookID}
	if _, ok := m.records[key]; !ok {
		return models.Errorf(models.ErrNotFound, "book %s is not on the shelf", bookID)
	}
	delete(m.records, key)
	return nil
}

// ListRecordsByUser returns every record of a user ordered by book ID
func (m *MockDB) ListRecordsByUser(ctx context.Context, userID uuid.UUID) ([]models.ProgressRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var records []models.ProgressRecord
	for key, r := range m.records {
		if key.userID == userID {
			records = append(records, r.Clone())
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].BookID.String() < records[j].BookID.String()
	})

	return records, nil
}

// Close does nothing for mock DB
func (m *MockDB) Close() error {
	return nil
}
