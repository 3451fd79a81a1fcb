package bot

import (
	"fmt"
	"strings"

	"bookshelf/internal/models"
)

const dateLayout = "2006-01-02"

// FormatBook renders catalog details of a book
func FormatBook(book models.Book) string {
	var text strings.Builder
	text.WriteString(fmt.Sprintf("📖 %s\n", book.Title))
	if book.Author != "" {
		text.WriteString(fmt.Sprintf("✍️ %s\n", book.Author))
	}
	text.WriteString(fmt.Sprintf("📄 %d pages", book.Pages))
	if book.PublishingYear > 0 {
		text.WriteString(fmt.Sprintf(", %d", book.PublishingYear))
	}
	if len(book.Genres) > 0 {
		text.WriteString(fmt.Sprintf("\n🏷 %s", strings.Join(book.Genres, ", ")))
	}
	return text.String()
}

// FormatBooks renders one page of the catalog
func FormatBooks(books []models.Book, page int) string {
	if len(books) == 0 {
		return fmt.Sprintf("📚 Catalog, page %d\n\nNo more books.", page)
	}

	var text strings.Builder
	text.WriteString(fmt.Sprintf("📚 Catalog, page %d\n\n", page))
	for i, book := range books {
		line := fmt.Sprintf("%d. %s", i+1, book.Title)
		if book.Author != "" {
			line += " by " + book.Author
		}
		line += fmt.Sprintf(" (%d pages)", book.Pages)
		if len(book.Genres) > 0 {
			line += " [" + strings.Join(book.Genres, ", ") + "]"
		}
		text.WriteString(line + "\n")
	}
	return strings.TrimSuffix(text.String(), "\n")
}

// FormatEntry renders a single shelf record
func FormatEntry(e models.ShelfEntry) string {
	r := e.Record

	var text strings.Builder
	text.WriteString(fmt.Sprintf("📖 %s\n", e.Book.Title))
	text.WriteString(fmt.Sprintf("Status: %s\n", r.Status.DisplayName()))
	text.WriteString(fmt.Sprintf("Progress: %d/%d pages (%d%%)", r.PagesRead, e.Book.Pages, r.PercentComplete(e.Book)))
	if r.StartDate != nil {
		text.WriteString(fmt.Sprintf("\nStarted: %s", r.StartDate.Format(dateLayout)))
	}
	if r.FinishDate != nil {
		text.WriteString(fmt.Sprintf("\nFinished: %s", r.FinishDate.Format(dateLayout)))
	}
	if r.Rating != nil {
		text.WriteString(fmt.Sprintf("\nRating: %s", strings.Repeat("⭐", *r.Rating)))
	}
	if r.Review != nil {
		text.WriteString(fmt.Sprintf("\nReview: %s", *r.Review))
	}
	return text.String()
}

// FormatShelf renders the user's shelf grouped by status
func FormatShelf(entries []models.ShelfEntry) string {
	if len(entries) == 0 {
		return "Your shelf is empty. Use /add to put a book on it."
	}

	var text strings.Builder
	text.WriteString("📚 Your shelf\n")
	for _, status := range models.AllStatuses {
		var lines []string
		for _, e := range entries {
			if e.Record.Status != status {
				continue
			}
			line := fmt.Sprintf("• %s", e.Book.Title)
			switch status {
			case models.StatusReading:
				line += fmt.Sprintf(" (%d/%d, %d%%)", e.Record.PagesRead, e.Book.Pages, e.Record.PercentComplete(e.Book))
			case models.StatusFinished:
				if e.Record.Rating != nil {
					line += " " + strings.Repeat("⭐", *e.Record.Rating)
				}
			}
			lines = append(lines, line)
		}
		if len(lines) == 0 {
			continue
		}
		text.WriteString(fmt.Sprintf("\n%s (%d)\n", status.DisplayName(), len(lines)))
		text.WriteString(strings.Join(lines, "\n"))
		text.WriteString("\n")
	}
	return strings.TrimSuffix(text.String(), "\n")
}

// FormatReport renders an annual report
func FormatReport(rep models.AnnualReport) string {
	var text strings.Builder
	text.WriteString(fmt.Sprintf("📊 Your %d in books\n\n", rep.Year))
	text.WriteString(fmt.Sprintf("✅ Finished: %d\n", rep.TotalRead))
	text.WriteString(fmt.Sprintf("📖 Reading: %d\n", rep.TotalReading))
	text.WriteString(fmt.Sprintf("🔖 Want to read: %d\n", rep.TotalWantToRead))
	text.WriteString(fmt.Sprintf("📄 Pages read: %d\n", rep.TotalPagesRead))
	text.WriteString(fmt.Sprintf("⏱ Estimated reading time: %.2f h\n", rep.EstimatedReadingHours))
	if rep.AverageRating > 0 {
		text.WriteString(fmt.Sprintf("⭐ Average rating: %.2f\n", rep.AverageRating))
	}
	if rep.FavoriteGenre != nil {
		text.WriteString(fmt.Sprintf("🏷 Favorite genre: %s\n", *rep.FavoriteGenre))
	}
	if rep.MemberSince != "" {
		text.WriteString(fmt.Sprintf("\nMember since %s (%d minutes on the platform)", rep.MemberSince, rep.MinutesOnPlatform))
	}
	return strings.TrimSuffix(text.String(), "\n")
}

// FormatProfile renders a profile summary
func FormatProfile(p models.Profile) string {
	var text strings.Builder
	text.WriteString(fmt.Sprintf("👤 %s\n", p.Username))
	if p.MemberSince != "" {
		text.WriteString(fmt.Sprintf("Member since %s\n", p.MemberSince))
	}
	text.WriteString(fmt.Sprintf("Books on shelf: %d, finished: %d", p.TotalBooks, p.BooksRead))
	for _, book := range p.Books {
		text.WriteString(fmt.Sprintf("\n• %s: %s, %d%%", book.BookTitle, book.Status, book.PercentComplete))
	}
	return text.String()
}
