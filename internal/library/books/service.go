package books

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// ===== Error model (same shape as colleagues/loans) =====

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

type CatalogStore interface {
	Insert(ctx context.Context, b *Book) error
	GetByID(ctx context.Context, id string) (*Book, error)
	// ListViews returns one view per book, creation-time descending, with
	// Overdue left unset.
	ListViews(ctx context.Context) ([]BookView, error)
	GetView(ctx context.Context, id string) (*BookView, error)
	Update(ctx context.Context, id string, in UpdateBookRequest) error
	Delete(ctx context.Context, id string) error
	OwnerExists(ctx context.Context, id string) (bool, error)
}

// ===== Service =====

type Service struct {
	store CatalogStore
	clock Clock
	id    IDGen
}

func NewService(db *sql.DB) *Service {
	return newService(NewStore(db), realClock{}, ulidGen{})
}

func newService(store CatalogStore, clock Clock, id IDGen) *Service {
	return &Service{store: store, clock: clock, id: id}
}

func validDomains(domains []string) ([]string, error) {
	out := make([]string, 0, len(domains))
	seen := map[string]struct{}{}
	for _, d := range domains {
		if _, ok := knownDomains[d]; !ok {
			return nil, ErrInvalid(fmt.Sprintf("Unknown domain: %s", d))
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out, nil
}

func (s *Service) Create(ctx context.Context, in CreateBookRequest) (BookView, error) {
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Author) == "" {
		return BookView{}, ErrInvalid("Missing required fields: title, author")
	}
	domains, err := validDomains(in.Domains)
	if err != nil {
		return BookView{}, err
	}
	if in.OwnerID != nil && *in.OwnerID != "" {
		ok, err := s.store.OwnerExists(ctx, *in.OwnerID)
		if err != nil {
			return BookView{}, err
		}
		if !ok {
			return BookView{}, ErrInvalid(fmt.Sprintf("Invalid owner ID: The colleague with ID %s does not exist.", *in.OwnerID))
		}
	}

	id, err := s.id.New()
	if err != nil {
		return BookView{}, err
	}

	b := &Book{
		ID:      id,
		Title:   strings.TrimSpace(in.Title),
		Author:  strings.TrimSpace(in.Author),
		Domains: domains,
		Status:  StatusAvailable,
	}
	if in.ISBN != nil && *in.ISBN != "" {
		b.ISBN = sql.NullString{String: *in.ISBN, Valid: true}
	}
	if in.CoverURL != nil && *in.CoverURL != "" {
		b.CoverURL = sql.NullString{String: *in.CoverURL, Valid: true}
	}
	if in.Synopsis != nil && *in.Synopsis != "" {
		b.Synopsis = sql.NullString{String: *in.Synopsis, Valid: true}
	}
	if in.YearPublished != nil {
		b.YearPublished = sql.NullInt64{Int64: int64(*in.YearPublished), Valid: true}
	}
	if in.PageCount != nil {
		b.PageCount = sql.NullInt64{Int64: int64(*in.PageCount), Valid: true}
	}
	if in.OwnerID != nil && *in.OwnerID != "" {
		b.OwnerID = sql.NullString{String: *in.OwnerID, Valid: true}
	}

	if err := s.store.Insert(ctx, b); err != nil {
		return BookView{}, err
	}
	return s.GetView(ctx, id)
}

// ListWithState is the projector read path: every book joined with its
// active loan and the relevant colleague names. Pure read, safe to run
// concurrently with anything.
func (s *Service) ListWithState(ctx context.Context) ([]BookView, error) {
	views, err := s.store.ListViews(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	for i := range views {
		views[i].Overdue = IsOverdue(views[i].BorrowedAt, now)
	}
	return views, nil
}

func (s *Service) GetView(ctx context.Context, id string) (BookView, error) {
	v, err := s.store.GetView(ctx, id)
	if err != nil {
		return BookView{}, err
	}
	if v == nil {
		return BookView{}, ErrNotFound("Book not found.")
	}
	v.Overdue = IsOverdue(v.BorrowedAt, s.clock.Now())
	return *v, nil
}

func (s *Service) Update(ctx context.Context, id string, in UpdateBookRequest) (BookView, error) {
	if id == "" {
		return BookView{}, ErrInvalid("Missing book id.")
	}
	if in.empty() {
		return BookView{}, ErrInvalid("No fields to update.")
	}
	if in.Domains != nil {
		domains, err := validDomains(*in.Domains)
		if err != nil {
			return BookView{}, err
		}
		in.Domains = &domains
	}
	if in.OwnerID != nil && *in.OwnerID != "" {
		ok, err := s.store.OwnerExists(ctx, *in.OwnerID)
		if err != nil {
			return BookView{}, err
		}
		if !ok {
			return BookView{}, ErrInvalid(fmt.Sprintf("Invalid owner ID: The colleague with ID %s does not exist.", *in.OwnerID))
		}
	}

	b, err := s.store.GetByID(ctx, id)
	if err != nil {
		return BookView{}, err
	}
	if b == nil {
		return BookView{}, ErrNotFound("Book not found.")
	}

	if err := s.store.Update(ctx, id, in); err != nil {
		return BookView{}, err
	}
	return s.GetView(ctx, id)
}

// Delete removes a book from the catalog along with its loan history.
// Rejected while the book is out; the store runs the check and the delete
// under one row lock.
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalid("Missing book id.")
	}
	err := s.store.Delete(ctx, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound("Book not found.")
	case errors.Is(err, errStillBorrowed):
		return ErrConflict("This book is currently borrowed and can't be removed yet.")
	}
	return err
}
