package loans

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"office-library-backend/internal/library/books"
	"office-library-backend/internal/platform/db"
)

type Store struct {
	db *sql.DB
}

func NewStore(sqldb *sql.DB) *Store { return &Store{db: sqldb} }

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error {
	return db.RunInTx(ctx, s.db, nil, func(ctx context.Context, q db.DBTX) error {
		return fn(ctx, &txStore{q: q})
	})
}

func (s *Store) List(ctx context.Context, f LoanFilter) ([]Loan, error) {
	sb := strings.Builder{}
	sb.WriteString(`SELECT id, book_id, colleague_id, borrowed_at, returned_at FROM loans WHERE 1=1`)

	args := []any{}
	if f.BookID != nil {
		sb.WriteString(` AND book_id = ?`)
		args = append(args, *f.BookID)
	}
	if f.ColleagueID != nil {
		sb.WriteString(` AND colleague_id = ?`)
		args = append(args, *f.ColleagueID)
	}
	if f.Returned != nil {
		if *f.Returned {
			sb.WriteString(` AND returned_at IS NOT NULL`)
		} else {
			sb.WriteString(` AND returned_at IS NULL`)
		}
	}
	sb.WriteString(` ORDER BY borrowed_at DESC LIMIT ? OFFSET ?`)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Loan
	for rows.Next() {
		var l Loan
		if err := rows.Scan(&l.ID, &l.BookID, &l.ColleagueID, &l.BorrowedAt, &l.ReturnedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// txStore runs the ledger queries against an open transaction.
type txStore struct {
	q db.DBTX
}

func (t *txStore) GetColleague(ctx context.Context, id string) (*ColleagueRef, error) {
	const q = `SELECT id, name FROM colleagues WHERE id = ?`
	var c ColleagueRef
	if err := t.q.QueryRowContext(ctx, q, id).Scan(&c.ID, &c.Name); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (t *txStore) GetBookForUpdate(ctx context.Context, id string) (*books.Book, error) {
	const q = `
	SELECT id, isbn, title, author, cover_url, synopsis, year_published, page_count, domains, owner_id, status, created_at
	FROM books WHERE id = ? FOR UPDATE`
	var b books.Book
	var domains []byte
	err := t.q.QueryRowContext(ctx, q, id).Scan(
		&b.ID, &b.ISBN, &b.Title, &b.Author, &b.CoverURL, &b.Synopsis,
		&b.YearPublished, &b.PageCount, &domains, &b.OwnerID, &b.Status, &b.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(domains, &b.Domains); err != nil {
		return nil, err
	}
	return &b, nil
}

func scanLoan(row *sql.Row) (*Loan, error) {
	var l Loan
	err := row.Scan(&l.ID, &l.BookID, &l.ColleagueID, &l.BorrowedAt, &l.ReturnedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (t *txStore) FindActiveLoan(ctx context.Context, bookID string) (*Loan, error) {
	const q = `
	SELECT id, book_id, colleague_id, borrowed_at, returned_at
	FROM loans WHERE book_id = ? AND returned_at IS NULL LIMIT 1`
	return scanLoan(t.q.QueryRowContext(ctx, q, bookID))
}

func (t *txStore) FindActiveLoanFor(ctx context.Context, bookID, colleagueID string) (*Loan, error) {
	const q = `
	SELECT id, book_id, colleague_id, borrowed_at, returned_at
	FROM loans WHERE book_id = ? AND colleague_id = ? AND returned_at IS NULL LIMIT 1`
	return scanLoan(t.q.QueryRowContext(ctx, q, bookID, colleagueID))
}

func (t *txStore) InsertLoan(ctx context.Context, l *Loan) error {
	const q = `INSERT INTO loans (id, book_id, colleague_id, borrowed_at) VALUES (?, ?, ?, ?)`
	_, err := t.q.ExecContext(ctx, q, l.ID, l.BookID, l.ColleagueID, l.BorrowedAt)
	return err
}

func (t *txStore) MarkReturned(ctx context.Context, loanID string, at time.Time) error {
	// returned_at IS NULL guards immutability: a closed loan is never reopened
	// or re-closed
	const q = `UPDATE loans SET returned_at = ? WHERE id = ? AND returned_at IS NULL`
	res, err := t.q.ExecContext(ctx, q, at, loanID)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff != 1 {
		return fmt.Errorf("loan %s already returned", loanID)
	}
	return nil
}

func (t *txStore) SetBookStatus(ctx context.Context, bookID, status string) error {
	const q = `UPDATE books SET status = ? WHERE id = ?`
	res, err := t.q.ExecContext(ctx, q, status, bookID)
	if err != nil {
		return err
	}
	_, _ = res.RowsAffected()
	return nil
}
