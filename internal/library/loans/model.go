package loans

import (
	"database/sql"
	"time"
)

// Loan is one row of the loans ledger. Rows are append-mostly: a loan is
// written once at borrow time and mutated exactly once, when returned_at is
// set. Never deleted.
type Loan struct {
	ID          string
	BookID      string
	ColleagueID string
	BorrowedAt  time.Time
	ReturnedAt  sql.NullTime
}

// Active reports whether the loan is still open.
func (l *Loan) Active() bool { return !l.ReturnedAt.Valid }

// ColleagueRef is the slice of a colleague row the transition engine needs.
type ColleagueRef struct {
	ID   string
	Name string
}

// LoanFilter narrows the ledger history listing.
type LoanFilter struct {
	BookID      *string
	ColleagueID *string
	Returned    *bool
	Limit       int
	Offset      int
}
