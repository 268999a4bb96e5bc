package books

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"office-library-backend/internal/platform/db"
)

// errStillBorrowed is returned by Delete when the locked row shows the book
// is still out.
var errStillBorrowed = errors.New("book is borrowed")

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Insert(ctx context.Context, b *Book) error {
	domains, err := json.Marshal(b.Domains)
	if err != nil {
		return err
	}
	const q = `
	INSERT INTO books
	(id, isbn, title, author, cover_url, synopsis, year_published, page_count, domains, owner_id, status)
	VALUES
	(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		b.ID, b.ISBN, b.Title, b.Author, b.CoverURL, b.Synopsis,
		b.YearPublished, b.PageCount, domains, b.OwnerID, b.Status,
	)
	return err
}

func (s *Store) GetByID(ctx context.Context, id string) (*Book, error) {
	const q = `
	SELECT id, isbn, title, author, cover_url, synopsis, year_published, page_count, domains, owner_id, status, created_at
	FROM books WHERE id = ?`
	var b Book
	var domains []byte
	err := s.db.QueryRowContext(ctx, q, id).Scan(
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

// viewQuery joins each book with its single active loan (zero or one by the
// uq_loans_active_book constraint) and with colleague names for borrower and
// owner.
const viewQuery = `
	SELECT
	b.id, b.isbn, b.title, b.author, b.cover_url, b.synopsis,
	b.year_published, b.page_count, b.domains, b.status,
	o.name AS owner_name, br.name AS borrower_name, l.borrowed_at
	FROM books b
	LEFT JOIN loans l ON l.book_id = b.id AND l.returned_at IS NULL
	LEFT JOIN colleagues br ON br.id = l.colleague_id
	LEFT JOIN colleagues o ON o.id = b.owner_id`

func scanView(row interface{ Scan(dest ...any) error }) (*BookView, error) {
	var v BookView
	var isbn, coverURL, synopsis, ownerName, borrowerName sql.NullString
	var yearPublished, pageCount sql.NullInt64
	var borrowedAt sql.NullTime
	var domains []byte

	err := row.Scan(
		&v.ID, &isbn, &v.Title, &v.Author, &coverURL, &synopsis,
		&yearPublished, &pageCount, &domains, &v.Status,
		&ownerName, &borrowerName, &borrowedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(domains, &v.Domains); err != nil {
		return nil, err
	}
	if v.Domains == nil {
		v.Domains = []string{}
	}
	v.ISBN = strPtr(isbn)
	v.CoverURL = strPtr(coverURL)
	v.Synopsis = strPtr(synopsis)
	v.OwnerName = strPtr(ownerName)
	v.BorrowerName = strPtr(borrowerName)
	v.YearPublished = intPtr(yearPublished)
	v.PageCount = intPtr(pageCount)
	if borrowedAt.Valid {
		t := borrowedAt.Time
		v.BorrowedAt = &t
	}
	return &v, nil
}

func (s *Store) ListViews(ctx context.Context) ([]BookView, error) {
	rows, err := s.db.QueryContext(ctx, viewQuery+` ORDER BY b.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []BookView{}
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (s *Store) GetView(ctx context.Context, id string) (*BookView, error) {
	v, err := scanView(s.db.QueryRowContext(ctx, viewQuery+` WHERE b.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

func (s *Store) Update(ctx context.Context, id string, in UpdateBookRequest) error {
	sets := []string{}
	args := []any{}
	if in.Synopsis != nil {
		sets = append(sets, "synopsis = ?")
		args = append(args, *in.Synopsis)
	}
	if in.YearPublished != nil {
		sets = append(sets, "year_published = ?")
		args = append(args, *in.YearPublished)
	}
	if in.PageCount != nil {
		sets = append(sets, "page_count = ?")
		args = append(args, *in.PageCount)
	}
	if in.Domains != nil {
		domains, err := json.Marshal(*in.Domains)
		if err != nil {
			return err
		}
		sets = append(sets, "domains = ?")
		args = append(args, domains)
	}
	if in.OwnerID != nil {
		sets = append(sets, "owner_id = ?")
		if *in.OwnerID == "" {
			args = append(args, nil)
		} else {
			args = append(args, *in.OwnerID)
		}
	}
	args = append(args, id)

	q := `UPDATE books SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	_, err := s.db.ExecContext(ctx, q, args...)
	return err
}

// Delete removes the book together with its loan history in one transaction.
// The loans rows must go first because fk_loans_book blocks deleting a
// referenced book, and the FOR UPDATE lock keeps a concurrent borrow from
// landing between the status check and the delete.
func (s *Store) Delete(ctx context.Context, id string) error {
	return db.RunInTx(ctx, s.db, nil, func(ctx context.Context, q db.DBTX) error {
		var status string
		err := q.QueryRowContext(ctx, `SELECT status FROM books WHERE id = ? FOR UPDATE`, id).Scan(&status)
		if err != nil {
			return err
		}
		if status == StatusBorrowed {
			return errStillBorrowed
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM loans WHERE book_id = ?`, id); err != nil {
			return err
		}
		_, err = q.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id)
		return err
	})
}

func (s *Store) OwnerExists(ctx context.Context, id string) (bool, error) {
	const q = `SELECT 1 FROM colleagues WHERE id = ?`
	var one int
	err := s.db.QueryRowContext(ctx, q, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	val := ns.String
	return &val
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	val := int(ni.Int64)
	return &val
}
