package books

import (
	"database/sql"
	"time"
)

const (
	StatusAvailable = "available"
	StatusBorrowed  = "borrowed"
)

// A borrowed book counts as overdue once the active loan is older than this.
// Display-only, recomputed on every read, never persisted.
const overdueAfter = 30 * 24 * time.Hour

// Domains a book can be filed under.
var knownDomains = map[string]struct{}{
	"Product":        {},
	"Engineering":    {},
	"Data":           {},
	"Product Design": {},
	"Marketing":      {},
	"People":         {},
	"Leadership":     {},
	"Strategy":       {},
	"AI":             {},
	"Other":          {},
}

// Book is one row of the books table.
type Book struct {
	ID            string
	ISBN          sql.NullString
	Title         string
	Author        string
	CoverURL      sql.NullString
	Synopsis      sql.NullString
	YearPublished sql.NullInt64
	PageCount     sql.NullInt64
	Domains       []string
	OwnerID       sql.NullString
	Status        string
	CreatedAt     time.Time
}

// BookView is the joined read model: book fields plus borrower/owner names
// from the single active loan (at most one exists per book).
type BookView struct {
	ID            string     `json:"id"`
	ISBN          *string    `json:"isbn"`
	Title         string     `json:"title"`
	Author        string     `json:"author"`
	CoverURL      *string    `json:"coverUrl"`
	Synopsis      *string    `json:"synopsis"`
	YearPublished *int       `json:"yearPublished"`
	PageCount     *int       `json:"pageCount"`
	Domains       []string   `json:"domains"`
	Status        string     `json:"status"`
	OwnerName     *string    `json:"ownerName"`
	BorrowerName  *string    `json:"borrowerName"`
	BorrowedAt    *time.Time `json:"borrowedAt"`
	Overdue       bool       `json:"overdue"`
}

// IsOverdue reports whether a loan taken out at borrowedAt has passed the
// overdue threshold as of now.
func IsOverdue(borrowedAt *time.Time, now time.Time) bool {
	return borrowedAt != nil && now.Sub(*borrowedAt) > overdueAfter
}
