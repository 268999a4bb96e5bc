package loans

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"time"

	mysql "github.com/go-sql-driver/mysql"
	"github.com/oklog/ulid/v2"

	"office-library-backend/internal/library/books"
)

// ===== Error model (same shape as books/colleagues) =====

type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeInternal        Code = "INTERNAL"
)

type APIError struct {
	Code    Code
	Message string
}

func (e *APIError) Error() string      { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func ErrInvalid(msg string) *APIError  { return &APIError{Code: CodeInvalidArgument, Message: msg} }
func ErrNotFound(msg string) *APIError { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrConflict(msg string) *APIError { return &APIError{Code: CodeConflict, Message: msg} }
func ErrInternal(msg string) *APIError { return &APIError{Code: CodeInternal, Message: msg} }

func toHTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) {
		switch api.Code {
		case CodeInvalidArgument, CodeConflict:
			return 400
		case CodeNotFound:
			return 404
		default:
			return 500
		}
	}
	return 500
}

// ===== Interfaces =====

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type IDGen interface {
	New() (string, error)
}

type ulidGen struct{}

func (ulidGen) New() (string, error) {
	t := time.Now().UTC()
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Ledger is the transactional surface of the loan ledger. Both writes of a
// transition (ledger row and denormalized book status) happen inside one
// InTx call, so they commit or roll back together.
type Ledger interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
	List(ctx context.Context, f LoanFilter) ([]Loan, error)
}

type LedgerTx interface {
	GetColleague(ctx context.Context, id string) (*ColleagueRef, error)
	// GetBookForUpdate locks the book row for the rest of the transaction.
	GetBookForUpdate(ctx context.Context, id string) (*books.Book, error)
	FindActiveLoan(ctx context.Context, bookID string) (*Loan, error)
	FindActiveLoanFor(ctx context.Context, bookID, colleagueID string) (*Loan, error)
	InsertLoan(ctx context.Context, l *Loan) error
	MarkReturned(ctx context.Context, loanID string, at time.Time) error
	SetBookStatus(ctx context.Context, bookID, status string) error
}

// ===== Service =====

type Service struct {
	ledger Ledger
	clock  Clock
	id     IDGen
}

func NewService(sqldb *sql.DB) *Service {
	return newService(NewStore(sqldb), realClock{}, ulidGen{})
}

func newService(ledger Ledger, clock Clock, id IDGen) *Service {
	return &Service{ledger: ledger, clock: clock, id: id}
}

// isDuplicateKey detects the unique-key violation raised when a second
// borrow races past the pre-checks and hits uq_loans_active_book.
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

// Borrow moves a book from available to borrowed, appending a ledger row and
// flipping the denormalized status in one transaction. Precondition order:
// colleague, book, status, active loan.
func (s *Service) Borrow(ctx context.Context, req LoanActionRequest) (books.BookView, error) {
	if req.BookID == "" || req.ColleagueID == "" {
		return books.BookView{}, ErrInvalid("Missing bookId or colleagueId")
	}

	var view books.BookView
	err := s.ledger.InTx(ctx, func(ctx context.Context, tx LedgerTx) error {
		colleague, err := tx.GetColleague(ctx, req.ColleagueID)
		if err != nil {
			return err
		}
		if colleague == nil {
			return ErrNotFound("Colleague not found.")
		}

		book, err := tx.GetBookForUpdate(ctx, req.BookID)
		if err != nil {
			return err
		}
		if book == nil {
			return ErrNotFound("Book not found.")
		}
		// The status field is a cache; the ledger decides who, if anyone,
		// holds the book. With the book row locked this check is
		// authoritative, and uq_loans_active_book backs it up against
		// anything that slipped past the lock.
		active, err := tx.FindActiveLoan(ctx, req.BookID)
		if err != nil {
			return err
		}
		if active != nil {
			if active.ColleagueID == colleague.ID {
				return ErrConflict("You already have this book checked out. Please return it before borrowing again.")
			}
			return ErrConflict("This book is already borrowed by someone else. Please choose another.")
		}
		if book.Status == books.StatusBorrowed {
			// stale cache: status says borrowed but the ledger has no open loan
			return ErrConflict("This book is already marked as borrowed. Please refresh or choose another book.")
		}

		id, err := s.id.New()
		if err != nil {
			return err
		}
		loan := &Loan{
			ID:          id,
			BookID:      book.ID,
			ColleagueID: colleague.ID,
			BorrowedAt:  s.clock.Now(),
		}
		if err := tx.InsertLoan(ctx, loan); err != nil {
			if isDuplicateKey(err) {
				return ErrConflict("This book is already borrowed by someone else. Please choose another.")
			}
			return ErrInternal("Unable to create loan. Please try again.")
		}

		if err := tx.SetBookStatus(ctx, book.ID, books.StatusBorrowed); err != nil {
			// rolls back the loan insert with it
			return ErrInternal("Loan created but failed to update book status.")
		}

		view, err = buildView(ctx, tx, book, books.StatusBorrowed, &colleague.Name, &loan.BorrowedAt, s.clock.Now())
		return err
	})
	if err != nil {
		return books.BookView{}, err
	}
	return view, nil
}

// Return closes the active loan held by the requesting colleague. A return
// naming the wrong colleague for a correctly-borrowed book is rejected, not
// redirected.
func (s *Service) Return(ctx context.Context, req LoanActionRequest) (books.BookView, error) {
	if req.BookID == "" || req.ColleagueID == "" {
		return books.BookView{}, ErrInvalid("Missing bookId or colleagueId")
	}

	var view books.BookView
	err := s.ledger.InTx(ctx, func(ctx context.Context, tx LedgerTx) error {
		colleague, err := tx.GetColleague(ctx, req.ColleagueID)
		if err != nil {
			return err
		}
		if colleague == nil {
			return ErrNotFound("Colleague not found.")
		}

		// lock the book row first, the same order Borrow takes locks in
		book, err := tx.GetBookForUpdate(ctx, req.BookID)
		if err != nil {
			return err
		}
		if book == nil {
			return ErrNotFound("Book not found.")
		}

		loan, err := tx.FindActiveLoanFor(ctx, req.BookID, colleague.ID)
		if err != nil {
			return err
		}
		if loan == nil {
			return ErrInvalid("You don't have this book checked out, so it can't be returned.")
		}

		if err := tx.MarkReturned(ctx, loan.ID, s.clock.Now()); err != nil {
			return ErrInternal("Unable to mark this loan as returned. Please try again.")
		}
		if err := tx.SetBookStatus(ctx, book.ID, books.StatusAvailable); err != nil {
			return ErrInternal("Book return recorded, but failed to update book status. Please refresh.")
		}

		view, err = buildView(ctx, tx, book, books.StatusAvailable, nil, nil, s.clock.Now())
		return err
	})
	if err != nil {
		return books.BookView{}, err
	}
	return view, nil
}

// List returns ledger history, newest first.
func (s *Service) List(ctx context.Context, f LoanFilter) ([]LoanResponse, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	items, err := s.ledger.List(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]LoanResponse, 0, len(items))
	for i := range items {
		out = append(out, toResponse(&items[i]))
	}
	return out, nil
}

// buildView assembles the response view from rows already read inside the
// transaction, instead of re-querying the projector after commit.
func buildView(ctx context.Context, tx LedgerTx, b *books.Book, status string, borrowerName *string, borrowedAt *time.Time, now time.Time) (books.BookView, error) {
	v := books.BookView{
		ID:           b.ID,
		Title:        b.Title,
		Author:       b.Author,
		Domains:      b.Domains,
		Status:       status,
		BorrowerName: borrowerName,
		BorrowedAt:   borrowedAt,
		Overdue:      books.IsOverdue(borrowedAt, now),
	}
	if v.Domains == nil {
		v.Domains = []string{}
	}
	if b.ISBN.Valid {
		val := b.ISBN.String
		v.ISBN = &val
	}
	if b.CoverURL.Valid {
		val := b.CoverURL.String
		v.CoverURL = &val
	}
	if b.Synopsis.Valid {
		val := b.Synopsis.String
		v.Synopsis = &val
	}
	if b.YearPublished.Valid {
		val := int(b.YearPublished.Int64)
		v.YearPublished = &val
	}
	if b.PageCount.Valid {
		val := int(b.PageCount.Int64)
		v.PageCount = &val
	}
	if b.OwnerID.Valid {
		owner, err := tx.GetColleague(ctx, b.OwnerID.String)
		if err != nil {
			return books.BookView{}, err
		}
		if owner != nil {
			name := owner.Name
			v.OwnerName = &name
		}
	}
	return v, nil
}
