package bot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"bookshelf/internal/models"
	"bookshelf/internal/progress"
)

// initDataMaxAge is how long a Mini App initData stays valid
const initDataMaxAge = 24 * time.Hour

var validate = validator.New()

type userKey struct{}

// HTTPServer serves the JSON API used by the Mini App
type HTTPServer struct {
	bot         *Bot
	webhookMode bool // If false (polling mode), initData signatures are not checked
}

// NewHTTPServer creates a new HTTP server for the Mini App
func NewHTTPServer(bot *Bot, webhookMode bool) *HTTPServer {
	return &HTTPServer{
		bot:         bot,
		webhookMode: webhookMode,
	}
}

// RegisterRoutes registers API routes on the provided mux
func (hs *HTTPServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/books", hs.authMiddleware(hs.handleListBooks))
	mux.HandleFunc("POST /api/books", hs.authMiddleware(hs.handleCreateBook))
	mux.HandleFunc("GET /api/books/{bookID}", hs.authMiddleware(hs.handleGetBook))

	mux.HandleFunc("GET /api/shelf", hs.authMiddleware(hs.handleListShelf))
	mux.HandleFunc("POST /api/shelf", hs.authMiddleware(hs.handleAddToShelf))
	mux.HandleFunc("GET /api/shelf/{bookID}", hs.authMiddleware(hs.handleGetRecord))
	mux.HandleFunc("PATCH /api/shelf/{bookID}/pages", hs.authMiddleware(hs.handleUpdatePages))
	mux.HandleFunc("PATCH /api/shelf/{bookID}/status", hs.authMiddleware(hs.handleChangeStatus))
	mux.HandleFunc("PATCH /api/shelf/{bookID}/rating", hs.authMiddleware(hs.handleSetRating))
	mux.HandleFunc("PATCH /api/shelf/{bookID}/review", hs.authMiddleware(hs.handleSetReview))
	mux.HandleFunc("DELETE /api/shelf/{bookID}", hs.authMiddleware(hs.handleRemove))

	mux.HandleFunc("GET /api/report", hs.authMiddleware(hs.handleReport))
	mux.HandleFunc("GET /api/profile", hs.authMiddleware(hs.handleProfile))
}

// validateTelegramInitData validates the Telegram Mini App initData and
// returns the Telegram user ID it was issued for
func (hs *HTTPServer) validateTelegramInitData(initData string) (int64, error) {
	if initData == "" {
		return 0, fmt.Errorf("missing initData")
	}

	values, err := url.ParseQuery(initData)
	if err != nil {
		return 0, fmt.Errorf("invalid initData format: %w", err)
	}

	hash := values.Get("hash")
	if hash == "" {
		return 0, fmt.Errorf("missing hash in initData")
	}
	values.Del("hash")

	calculatedHash := signInitData(hs.bot.token, values)
	if !hmac.Equal([]byte(calculatedHash), []byte(hash)) {
		return 0, fmt.Errorf("invalid hash")
	}

	// Data should be recent
	authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("missing auth_date")
	}
	if hs.bot.clock().Sub(time.Unix(authDate, 0)) > initDataMaxAge {
		return 0, fmt.Errorf("initData is too old")
	}

	return initDataUserID(values)
}

// signInitData computes the initData hash over the sorted data-check-string
func signInitData(token string, values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var dataCheckString strings.Builder
	for i, k := range keys {
		if i > 0 {
			dataCheckString.WriteByte('\n')
		}
		dataCheckString.WriteString(k)
		dataCheckString.WriteByte('=')
		dataCheckString.WriteString(values.Get(k))
	}

	secretKey := hmac.New(sha256.New, []byte("WebAppData"))
	secretKey.Write([]byte(token))
	secret := secretKey.Sum(nil)

	h := hmac.New(sha256.New, secret)
	h.Write([]byte(dataCheckString.String()))
	return hex.EncodeToString(h.Sum(nil))
}

func initDataUserID(values url.Values) (int64, error) {
	userStr := values.Get("user")
	if userStr == "" {
		return 0, fmt.Errorf("missing user data")
	}

	var userData struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal([]byte(userStr), &userData); err != nil {
		return 0, fmt.Errorf("invalid user data: %w", err)
	}
	if userData.ID == 0 {
		return 0, fmt.Errorf("missing user id")
	}
	return userData.ID, nil
}

// telegramUserID extracts the caller's Telegram ID from the Authorization header.
// In polling mode (local development) the signature is not checked.
func (hs *HTTPServer) telegramUserID(r *http.Request) (int64, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" || !strings.HasPrefix(authHeader, "tma ") {
		return 0, fmt.Errorf("missing or invalid authorization header")
	}
	initData := strings.TrimPrefix(authHeader, "tma ")

	if hs.webhookMode {
		return hs.validateTelegramInitData(initData)
	}

	values, err := url.ParseQuery(initData)
	if err != nil {
		return 0, fmt.Errorf("invalid initData format: %w", err)
	}
	return initDataUserID(values)
}

// authMiddleware resolves the registered user behind a Mini App request
func (hs *HTTPServer) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		telegramID, err := hs.telegramUserID(r)
		if err != nil {
			hs.bot.logger.Warn("Failed to authenticate request",
				zap.Error(err),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
			)
			writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		user, err := hs.bot.db.GetUserByTelegramID(r.Context(), telegramID)
		if err != nil {
			if models.KindOf(err) == models.ErrNotFound {
				writeJSONError(w, http.StatusForbidden, "Not registered, send /start to the bot first")
				return
			}
			hs.writeError(w, err)
			return
		}

		hs.bot.logger.Debug("Authenticated request",
			zap.Int64("telegram_id", telegramID),
			zap.String("user_id", user.ID.String()),
			zap.String("path", r.URL.Path),
		)

		next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	}
}

func requestUser(r *http.Request) models.User {
	user, _ := r.Context().Value(userKey{}).(models.User)
	return user
}

// statusForError maps error kinds to HTTP status codes
func statusForError(err error) int {
	switch models.KindOf(err) {
	case models.ErrNotFound:
		return http.StatusNotFound
	case models.ErrConflict:
		return http.StatusConflict
	case models.ErrInvalidArgument:
		return http.StatusBadRequest
	case models.ErrInvalidOperation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (hs *HTTPServer) writeError(w http.ResponseWriter, err error) {
	code := statusForError(err)
	if code == http.StatusInternalServerError {
		hs.bot.logger.Error("Request failed", zap.Error(err))
		writeJSONError(w, code, "Internal server error")
		return
	}
	writeJSONError(w, code, err.Error())
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// decodeRequest reads a JSON body into dst and validates its tags
func decodeRequest(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return models.Errorf(models.ErrInvalidArgument, "invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
			}
			return models.Errorf(models.ErrInvalidArgument, "invalid request: %s", strings.Join(msgs, "; "))
		}
		return models.Errorf(models.ErrInvalidArgument, "invalid request: %v", err)
	}
	return nil
}

func pathBookID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("bookID"))
	if err != nil {
		return uuid.Nil, models.Errorf(models.ErrInvalidArgument, "invalid book id")
	}
	return id, nil
}

// BookResponse is a catalog book as returned by the API
type BookResponse struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Author         string   `json:"author,omitempty"`
	Pages          int      `json:"pages"`
	Synopsis       string   `json:"synopsis,omitempty"`
	PublishingYear int      `json:"publishing_year,omitempty"`
	Genres         []string `json:"genres"`
}

func newBookResponse(b models.Book) BookResponse {
	genres := b.Genres
	if genres == nil {
		genres = []string{}
	}
	return BookResponse{
		ID:             b.ID.String(),
		Title:          b.Title,
		Author:         b.Author,
		Pages:          b.Pages,
		Synopsis:       b.Synopsis,
		PublishingYear: b.PublishingYear,
		Genres:         genres,
	}
}

// RecordResponse is a shelf record as returned by the API
type RecordResponse struct {
	BookID          string     `json:"book_id"`
	Title           string     `json:"title"`
	Status          string     `json:"status"`
	StatusName      string     `json:"status_name"`
	PagesRead       int        `json:"pages_read"`
	TotalPages      int        `json:"total_pages"`
	PercentComplete int        `json:"percent_complete"`
	StartDate       *time.Time `json:"start_date,omitempty"`
	FinishDate      *time.Time `json:"finish_date,omitempty"`
	Rating          *int       `json:"rating,omitempty"`
	Review          *string    `json:"review,omitempty"`
}

func newRecordResponse(e models.ShelfEntry) RecordResponse {
	r := e.Record
	return RecordResponse{
		BookID:          r.BookID.String(),
		Title:           e.Book.Title,
		Status:          r.Status.String(),
		StatusName:      r.Status.DisplayName(),
		PagesRead:       r.PagesRead,
		TotalPages:      e.Book.Pages,
		PercentComplete: r.PercentComplete(e.Book),
		StartDate:       r.StartDate,
		FinishDate:      r.FinishDate,
		Rating:          r.Rating,
		Review:          r.Review,
	}
}

// writeRecord responds with a record joined with its book
func (hs *HTTPServer) writeRecord(w http.ResponseWriter, r *http.Request, code int, record models.ProgressRecord) {
	book, err := hs.bot.db.GetBook(r.Context(), record.BookID)
	if err != nil {
		hs.writeError(w, err)
		return
	}
	writeJSON(w, code, newRecordResponse(models.ShelfEntry{Record: record, Book: book}))
}

// handleListBooks returns one page of the catalog
func (hs *HTTPServer) handleListBooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := 1
	if p := q.Get("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			writeJSONError(w, http.StatusBadRequest, "page must be a positive number")
			return
		}
		page = n
	}

	filter := models.BookFilter{Title: q.Get("title"), Genre: q.Get("genre")}
	books, err := hs.bot.db.ListBooks(r.Context(), filter, page, hs.bot.pageSize)
	if err != nil {
		hs.writeError(w, fmt.Errorf("failed to list books: %w", err))
		return
	}

	resp := make([]BookResponse, 0, len(books))
	for _, b := range books {
		resp = append(resp, newBookResponse(b))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateBookRequest represents the request body for adding a catalog book
type CreateBookRequest struct {
	Title          string   `json:"title" validate:"required,max=300"`
	Author         string   `json:"author" validate:"max=200"`
	Pages          int      `json:"pages" validate:"required,gt=0"`
	Synopsis       string   `json:"synopsis" validate:"max=5000"`
	PublishingYear int      `json:"publishing_year" validate:"omitempty,gte=1,lte=9999"`
	Genres         []string `json:"genres" validate:"dive,required,max=100"`
}

func (hs *HTTPServer) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	var req CreateBookRequest
	if err := decodeRequest(r, &req); err != nil {
		hs.writeError(w, err)
		return
	}

	book := models.Book{
		ID:             uuid.New(),
		Title:          strings.TrimSpace(req.Title),
		Author:         strings.TrimSpace(req.Author),
		Pages:          req.Pages,
		Synopsis:       req.Synopsis,
		PublishingYear: req.PublishingYear,
		Genres:         req.Genres,
	}
	if err := hs.bot.db.CreateBook(r.Context(), book); err != nil {
		hs.writeError(w, err)
		return
	}

	hs.bot.logger.Info("Book created via Mini App",
		zap.String("book_id", book.ID.String()),
		zap.String("title", book.Title),
	)
	writeJSON(w, http.StatusCreated, newBookResponse(book))
}

func (hs *HTTPServer) handleGetBook(w http.ResponseWriter, r *http.Request) {
	bookID, err := pathBookID(r)
	if err != nil {
		hs.writeError(w, err)
		return
	}
	book, err := hs.bot.db.GetBook(r.Context(), bookID)
	if err != nil {
		hs.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newBookResponse(book))
}

func (hs *HTTPServer) handleListShelf(w http.ResponseWriter, r *http.Request) {
	entries, err := hs.bot.ledger.ListShelf(r.Context(), requestUser(r).ID)
	if err != nil {
		hs.writeError(w, err)
		return
	}

	resp := make([]RecordResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, newRecordResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// AddToShelfRequest represents the request body for putting a book on the shelf
type AddToShelfRequest struct {
	BookID    string     `json:"book_id" validate:"required,uuid"`
	Status    string     `json:"status" validate:"required"`
	PagesRead int        `json:"pages_read" validate:"gte=0"`
	StartDate *time.Time `json:"start_date"`
}

func (hs *HTTPServer) handleAddToShelf(w http.ResponseWriter, r *http.Request) {
	var req AddToShelfRequest
	if err := decodeRequest(r, &req); err != nil {
		hs.writeError(w, err)
		return
	}
	status, err := models.ParseStatus(req.Status)
	if err != nil {
		hs.writeError(w, err)
		return
	}

	user := requestUser(r)
	record, err := hs.bot.ledger.CreateRecord(r.Context(), user.ID, progress.AddRequest{
		BookID:    uuid.MustParse(req.BookID),
		Status:    status,
		PagesRead: req.PagesRead,
		StartDate: req.StartDate,
	})
	if err != nil {
		hs.writeError(w, err)
		return
	}

	hs.bot.logger.Info("Book added to shelf via Mini App",
		zap.String("user_id", user.ID.String()),
		zap.String("book_id", req.BookID),
		zap.String("status", status.String()),
	)
	hs.writeRecord(w, r, http.StatusCreated, record)
}

func (hs *HTTPServer) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	bookID, err := pathBookID(r)
	if err != nil {
		hs.writeError(w, err)
		return
	}
	record, err := hs.bot.ledger.GetRecord(r.Context(), requestUser(r).ID, bookID)
	if err != nil {
		hs.writeError(w, err)
		return
	}
	hs.writeRecord(w, r, http.StatusOK, record)
}

// UpdatePagesRequest represents the request body for reporting progress
type UpdatePagesRequest struct {
	PagesRead *int `json:"pages_read" validate:"required"`
}

func (hs *HTTPServer) handleUpdatePages(w http.ResponseWriter, r *http.Request) {
	bookID, err := pathBookID(r)
	if err != nil {
		hs.writeError(w, err)
		return
	}
	var req UpdatePagesRequest
	if err := decodeRequest(r, &req); err != nil {
		hs.writeError(w, err)
		return
	}

	record, err := hs.bot.ledger.UpdatePagesRead(r.Context(), requestUser(r).ID, bookID, *req.PagesRead)
	if err != nil {
		hs.writeError(w, err)
		return
	}
	hs.writeRecord(w, r, http.StatusOK, record)
}

// ChangeStatusRequest represents the request body for moving a book between statuses
type ChangeStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (hs *HTTPServer) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	bookID, err := pathBookID(r)
	if err != nil {
		hs.writeError(w, err)
		return
	}
	var req ChangeStatusRequest
	if err := decodeRequest(r, &req); err != nil {
		hs.writeError(w, err)
		return
	}
	status, err := models.ParseStatus(req.Status)
	if err != nil {
		hs.writeError(w, err)
		return
	}

	record, err := hs.bot.ledger.ChangeStatus(r.Context(), requestUser(r).ID, bookID, status)
	if err != nil {
		hs.writeError(w, err)
		return
	}
	hs.writeRecord(w, r, http.StatusOK, record)
}

// SetRatingRequest represents the request body for rating a book
type SetRatingRequest struct {
	Rating *int `json:"rating" validate:"required"`
}

func (hs *HTTPServer) handleSetRating(w http.ResponseWriter, r *http.Request) {
	bookID, err := pathBookID(r)
	if err != nil {
		hs.writeError(w, err)
		return
	}
	var req SetRatingRequest
	if err := decodeRequest(r, &req); err != nil {
		hs.writeError(w, err)
		return
	}

	record, err := hs.bot.ledger.SetRating(r.Context(), requestUser(r).ID, bookID, *req.Rating)
	if err != nil {
		hs.writeError(w, err)
		return
	}
	hs.writeRecord(w, r, http.StatusOK, record)
}

// SetReviewRequest represents the request body for reviewing a book.
// An empty review removes the existing one.
type SetReviewRequest struct {
	Review string `json:"review"`
}

func (hs *HTTPServer) handleSetReview(w http.ResponseWriter, r *http.Request) {
	bookID, err := pathBookID(r)
	if err != nil {
		hs.writeError(w, err)
		return
	}
	var req SetReviewRequest
	if err := decodeRequest(r, &req); err != nil {
		hs.writeError(w, err)
		return
	}

	record, err := hs.bot.ledger.SetReview(r.Context(), requestUser(r).ID, bookID, req.Review)
	if err != nil {
		hs.writeError(w, err)
		return
	}
	hs.writeRecord(w, r, http.StatusOK, record)
}

func (hs *HTTPServer) handleRemove(w http.ResponseWriter, r *http.Request) {
	bookID, err := pathBookID(r)
	if err != nil {
		hs.writeError(w, err)
		return
	}
	if err := hs.bot.ledger.RemoveRecord(r.Context(), requestUser(r).ID, bookID); err != nil {
		hs.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (hs *HTTPServer) handleReport(w http.ResponseWriter, r *http.Request) {
	year := hs.bot.clock().UTC().Year()
	if y := r.URL.Query().Get("year"); y != "" {
		n, err := strconv.Atoi(y)
		if err != nil || n < 1 || n > 9999 {
			writeJSONError(w, http.StatusBadRequest, "year must be between 1 and 9999")
			return
		}
		year = n
	}

	rep, err := hs.bot.reports.AnnualReport(r.Context(), requestUser(r).ID, year)
	if err != nil {
		hs.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (hs *HTTPServer) handleProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := hs.bot.reports.Profile(r.Context(), requestUser(r).ID)
	if err != nil {
		hs.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
