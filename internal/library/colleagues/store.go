package colleagues

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"office-library-backend/internal/platform/db"
)

// errHasActiveLoans is returned by Delete while the colleague still holds a
// book.
var errHasActiveLoans = errors.New("colleague has active loans")

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

const colleagueCols = `id, name, email, avatar_url, created_at`

func scanColleague(row interface{ Scan(dest ...any) error }) (*Colleague, error) {
	var c Colleague
	if err := row.Scan(&c.ID, &c.Name, &c.Email, &c.AvatarURL, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) Insert(ctx context.Context, c *Colleague) error {
	const q = `
	INSERT INTO colleagues (id, name, email, email_fold, name_fold, avatar_url)
	VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q, c.ID, c.Name, c.Email, fold(c.Email), fold(c.Name), c.AvatarURL)
	return err
}

func (s *Store) GetByID(ctx context.Context, id string) (*Colleague, error) {
	const q = `SELECT ` + colleagueCols + ` FROM colleagues WHERE id = ?`
	c, err := scanColleague(s.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *Store) FindByDedupKey(ctx context.Context, emailFold, nameFold string) (*Colleague, error) {
	// matches the fold columns written by Insert/Update, so the comparison
	// uses the same folding on both sides
	const q = `SELECT ` + colleagueCols + ` FROM colleagues
	WHERE email_fold = ? OR name_fold = ?
	ORDER BY created_at LIMIT 1`
	c, err := scanColleague(s.db.QueryRowContext(ctx, q, emailFold, nameFold))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *Store) List(ctx context.Context) ([]Colleague, error) {
	const q = `SELECT ` + colleagueCols + ` FROM colleagues ORDER BY name ASC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Colleague
	for rows.Next() {
		var c Colleague
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.AvatarURL, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) Update(ctx context.Context, id string, in UpdateColleagueRequest) (*Colleague, error) {
	sets := []string{}
	args := []any{}
	if in.Name != nil {
		sets = append(sets, "name = ?", "name_fold = ?")
		args = append(args, *in.Name, fold(*in.Name))
	}
	if in.Email != nil {
		sets = append(sets, "email = ?", "email_fold = ?")
		args = append(args, *in.Email, fold(*in.Email))
	}
	if in.AvatarURL != nil {
		sets = append(sets, "avatar_url = ?")
		args = append(args, *in.AvatarURL)
	}
	args = append(args, id)

	q := `UPDATE colleagues SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		// aff can also be 0 on a no-change update, so confirm existence
		if c, err := s.GetByID(ctx, id); err != nil || c != nil {
			return c, err
		}
		return nil, sql.ErrNoRows
	}
	return s.GetByID(ctx, id)
}

// Delete removes the colleague. The open-loan check runs under the same
// transaction as the delete, so a borrow cannot land in between and get
// cascaded away with the row; returned history goes with the colleague via
// fk_loans_colleague, and owned books fall back to no owner via
// fk_books_owner.
func (s *Store) Delete(ctx context.Context, id string) error {
	return db.RunInTx(ctx, s.db, nil, func(ctx context.Context, q db.DBTX) error {
		const check = `SELECT COUNT(*) FROM loans WHERE colleague_id = ? AND returned_at IS NULL FOR UPDATE`
		var n int
		if err := q.QueryRowContext(ctx, check, id).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return errHasActiveLoans
		}
		res, err := q.ExecContext(ctx, `DELETE FROM colleagues WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if aff, _ := res.RowsAffected(); aff == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}
