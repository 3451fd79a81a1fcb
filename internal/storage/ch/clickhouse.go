package ch

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"

	"bookshelf/internal/models"
)

type ClickHouseDB struct {
	conn clickhouse.Conn
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(host string, port int, database, user, password string, useTLS bool) (*ClickHouseDB, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	options := &clickhouse.Options{
		Addr:     []string{addr},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
		DialTimeout: 10 * time.Second,
	}

	// Configure TLS if enabled
	if useTLS {
		options.TLS = &tls.Config{
			InsecureSkipVerify: false,
		}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	// Test the connection
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Initialize is a no-op - tables are managed via migrations
func (db *ClickHouseDB) Initialize(ctx context.Context) error {
	// Tables are managed via migrations (see migrations/ directory)
	return nil
}

// CreateUser registers a new user. Usernames and Telegram IDs must be unique.
func (db *ClickHouseDB) CreateUser(ctx context.Context, user models.User) error {
	var taken uint64
	err := db.conn.QueryRow(ctx,
		`SELECT count() FROM users WHERE id = ? OR lower(username) = lower(?) OR (telegram_id != 0 AND telegram_id = ?)`,
		user.ID, user.Username, user.TelegramID).Scan(&taken)
	if err != nil {
		return fmt.Errorf("failed to check user uniqueness: %w", err)
	}
	if taken > 0 {
		return models.Errorf(models.ErrConflict, "user %q is already registered", user.Username)
	}

	batch, err := db.conn.PrepareBatch(ctx, `INSERT INTO users (id, username, telegram_id, created_at)`)
	if err != nil {
		return fmt.Errorf("failed to prepare user insert: %w", err)
	}
	if err := batch.Append(user.ID, user.Username, user.TelegramID, user.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to append user: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser returns a user by ID
func (db *ClickHouseDB) GetUser(ctx context.Context, id uuid.UUID) (models.User, error) {
	rows, err := db.conn.Query(ctx, `SELECT id, username, telegram_id, created_at FROM users WHERE id = ? LIMIT 1`, id)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	users, err := scanUsers(rows)
	if err != nil {
		return models.User{}, err
	}
	if len(users) == 0 {
		return models.User{}, models.Errorf(models.ErrNotFound, "user %s not found", id)
	}
	return users[0], nil
}

// GetUserByTelegramID returns the user registered for a Telegram account
func (db *ClickHouseDB) GetUserByTelegramID(ctx context.Context, telegramID int64) (models.User, error) {
	rows, err := db.conn.Query(ctx, `SELECT id, username, telegram_id, created_at FROM users WHERE telegram_id = ? LIMIT 1`, telegramID)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	users, err := scanUsers(rows)
	if err != nil {
		return models.User{}, err
	}
	if len(users) == 0 {
		return models.User{}, models.Errorf(models.ErrNotFound, "telegram user %d is not registered", telegramID)
	}
	return users[0], nil
}

// UserExists reports whether a user with the given ID exists
func (db *ClickHouseDB) UserExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var count uint64
	if err := db.conn.QueryRow(ctx, `SELECT count() FROM users WHERE id = ?`, id).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	return count > 0, nil
}

type scanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

func scanUsers(rows scanner) ([]models.User, error) {
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.TelegramID, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CreateBook adds a book to the catalog
func (db *ClickHouseDB) CreateBook(ctx context.Context, book models.Book) error {
	batch, err := db.conn.PrepareBatch(ctx,
		`INSERT INTO books (id, title, author, pages, synopsis, publishing_year, genres)`)
	if err != nil {
		return fmt.Errorf("failed to prepare book insert: %w", err)
	}
	genres := book.Genres
	if genres == nil {
		genres = []string{}
	}
	err = batch.Append(book.ID, book.Title, book.Author, uint32(book.Pages), book.Synopsis,
		uint16(book.PublishingYear), genres)
	if err != nil {
		return fmt.Errorf("failed to append book: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to create book: %w", err)
	}
	return nil
}

const bookColumns = `id, title, author, pages, synopsis, publishing_year, genres`

// GetBook returns a book by ID
func (db *ClickHouseDB) GetBook(ctx context.Context, id uuid.UUID) (models.Book, error) {
	rows, err := db.conn.Query(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ? LIMIT 1`, id)
	if err != nil {
		return models.Book{}, fmt.Errorf("failed to get book: %w", err)
	}
	books, err := scanBooks(rows)
	if err != nil {
		return models.Book{}, err
	}
	if len(books) == 0 {
		return models.Book{}, models.Errorf(models.ErrNotFound, "book %s not found", id)
	}
	return books[0], nil
}

// GetBooks returns the known books among ids
func (db *ClickHouseDB) GetBooks(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Book, error) {
	result := make(map[uuid.UUID]models.Book, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := db.conn.Query(ctx, `SELECT `+bookColumns+` FROM books WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get books: %w", err)
	}
	books, err := scanBooks(rows)
	if err != nil {
		return nil, err
	}
	for _, b := range books {
		result[b.ID] = b
	}
	return result, nil
}

// ListBooks returns one page of matching books ordered by title
func (db *ClickHouseDB) ListBooks(ctx context.Context, filter models.BookFilter, page, pageSize int) ([]models.Book, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 1000
	}

	// An empty needle matches every string, so blank filters select everything
	rows, err := db.conn.Query(ctx, `
		SELECT `+bookColumns+`
		FROM books
		WHERE positionCaseInsensitiveUTF8(title, ?) > 0
		  AND (? = '' OR arrayExists(g -> positionCaseInsensitiveUTF8(g, ?) > 0, genres))
		ORDER BY title, id
		LIMIT ? OFFSET ?`,
		filter.Title, filter.Genre, filter.Genre, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	return scanBooks(rows)
}

func scanBooks(rows scanner) ([]models.Book, error) {
	defer rows.Close()

	var books []models.Book
	for rows.Next() {
		var (
			book  models.Book
			pages uint32
			year  uint16
		)
		if err := rows.Scan(&book.ID, &book.Title, &book.Author, &pages, &book.Synopsis, &year, &book.Genres); err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		book.Pages = int(pages)
		book.PublishingYear = int(year)
		books = append(books, book)
	}
	return books, rows.Err()
}

const recordColumns = `user_id, book_id, status, pages_read, start_date, finish_date, rating, review, version`

// latestVersion returns the newest row version for a pair, including tombstones
func (db *ClickHouseDB) latestVersion(ctx context.Context, userID, bookID uuid.UUID) (version uint64, deleted bool, found bool, err error) {
	rows, err := db.conn.Query(ctx, `
		SELECT version, is_deleted
		FROM reading_records FINAL
		WHERE user_id = ? AND book_id = ?
		LIMIT 1`, userID, bookID)
	if err != nil {
		return 0, false, false, fmt.Errorf("failed to read record version: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return 0, false, false, rows.Err()
	}
	var isDeleted uint8
	if err := rows.Scan(&version, &isDeleted); err != nil {
		return 0, false, false, fmt.Errorf("failed to scan record version: %w", err)
	}
	return version, isDeleted == 1, true, nil
}

// insertRecord appends a new row version for the record
func (db *ClickHouseDB) insertRecord(ctx context.Context, r models.ProgressRecord, version uint64, deleted bool) error {
	batch, err := db.conn.PrepareBatch(ctx, `INSERT INTO reading_records (`+recordColumns+`, is_deleted)`)
	if err != nil {
		return fmt.Errorf("failed to prepare record insert: %w", err)
	}

	var rating *uint8
	if r.Rating != nil {
		v := uint8(*r.Rating)
		rating = &v
	}
	var isDeleted uint8
	if deleted {
		isDeleted = 1
	}

	err = batch.Append(r.UserID, r.BookID, uint8(r.Status), uint32(r.PagesRead),
		r.StartDate, r.FinishDate, rating, r.Review, version, isDeleted)
	if err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// CreateRecord stores a new progress record.
// Writes for a pair must be serialized by the caller; the version check is not atomic across processes.
func (db *ClickHouseDB) CreateRecord(ctx context.Context, record models.ProgressRecord) (models.ProgressRecord, error) {
	version, deleted, found, err := db.latestVersion(ctx, record.UserID, record.BookID)
	if err != nil {
		return models.ProgressRecord{}, err
	}
	if found && !deleted {
		return models.ProgressRecord{}, models.Errorf(models.ErrConflict, "book %s is already on the shelf", record.BookID)
	}

	record.Version = version + 1
	if err := db.insertRecord(ctx, record, record.Version, false); err != nil {
		return models.ProgressRecord{}, err
	}
	return record, nil
}

// GetRecord returns the current record for a (user, book) pair
func (db *ClickHouseDB) GetRecord(ctx context.Context, userID, bookID uuid.UUID) (models.ProgressRecord, error) {
	rows, err := db.conn.Query(ctx, `
		SELECT `+recordColumns+`
		FROM (SELECT * FROM reading_records FINAL WHERE user_id = ? AND book_id = ?)
		WHERE is_deleted = 0`, userID, bookID)
	if err != nil {
		return models.ProgressRecord{}, fmt.Errorf("failed to get record: %w", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return models.ProgressRecord{}, err
	}
	if len(records) == 0 {
		return models.ProgressRecord{}, models.Errorf(models.ErrNotFound, "book %s is not on the shelf", bookID)
	}
	return records[0], nil
}

// UpdateRecord writes a new row version if record.Version is still current
func (db *ClickHouseDB) UpdateRecord(ctx context.Context, record models.ProgressRecord) (models.ProgressRecord, error) {
	version, deleted, found, err := db.latestVersion(ctx, record.UserID, record.BookID)
	if err != nil {
		return models.ProgressRecord{}, err
	}
	if !found || deleted {
		return models.ProgressRecord{}, models.Errorf(models.ErrNotFound, "book %s is not on the shelf", record.BookID)
	}
	if version != record.Version {
		return models.ProgressRecord{}, models.Errorf(models.ErrConflict, "record for book %s was modified concurrently", record.BookID)
	}

	record.Version = version + 1
	if err := db.insertRecord(ctx, record, record.Version, false); err != nil {
		return models.ProgressRecord{}, err
	}
	return record, nil
}

// DeleteRecord removes a record by writing a tombstone version
func (db *ClickHouseDB) DeleteRecord(ctx context.Context, userID, bookID uuid.UUID) error {
	current, err := db.GetRecord(ctx, userID, bookID)
	if err != nil {
		return err
	}
	return db.insertRecord(ctx, current, current.Version+1, true)
}

// ListRecordsByUser returns every current record of a user ordered by book ID
func (db *ClickHouseDB) ListRecordsByUser(ctx context.Context, userID uuid.UUID) ([]models.ProgressRecord, error) {
	rows, err := db.conn.Query(ctx, `
		SELECT `+recordColumns+`
		FROM (SELECT * FROM reading_records FINAL WHERE user_id = ?)
		WHERE is_deleted = 0
		ORDER BY book_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return scanRecords(rows)
}

func scanRecords(rows scanner) ([]models.ProgressRecord, error) {
	defer rows.Close()

	var records []models.ProgressRecord
	for rows.Next() {
		var (
			r      models.ProgressRecord
			status uint8
			pages  uint32
			rating *uint8
		)
		err := rows.Scan(&r.UserID, &r.BookID, &status, &pages, &r.StartDate, &r.FinishDate, &rating, &r.Review, &r.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		r.Status = models.ReadingStatus(status)
		r.PagesRead = int(pages)
		if rating != nil {
			v := int(*rating)
			r.Rating = &v
		}
		if r.StartDate != nil {
			t := r.StartDate.UTC()
			r.StartDate = &t
		}
		if r.FinishDate != nil {
			t := r.FinishDate.UTC()
			r.FinishDate = &t
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close closes the database connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
