package colleagues

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/cases"
)

// ===== Error model (same shape as books/loans) =====

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

// ===== Store interface =====

type ColleagueStore interface {
	Insert(ctx context.Context, c *Colleague) error
	GetByID(ctx context.Context, id string) (*Colleague, error)
	// FindByDedupKey matches an existing colleague by folded email or folded
	// name. Both arguments must already be case-folded.
	FindByDedupKey(ctx context.Context, emailFold, nameFold string) (*Colleague, error)
	List(ctx context.Context) ([]Colleague, error)
	Update(ctx context.Context, id string, in UpdateColleagueRequest) (*Colleague, error)
	// Delete fails with an error matching errHasActiveLoans while the
	// colleague still holds a book.
	Delete(ctx context.Context, id string) error
}

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

// ===== Service =====

type Service struct {
	store ColleagueStore
	id    IDGen
}

func NewService(db *sql.DB) *Service {
	return newService(NewStore(db), ulidGen{})
}

func newService(store ColleagueStore, id IDGen) *Service {
	return &Service{store: store, id: id}
}

// fold builds the case-insensitive dedup key. A Caser is stateful, so a fresh
// one per call keeps this safe under concurrent requests.
func fold(s string) string {
	return cases.Fold().String(s)
}

// Create registers a colleague, deduplicating by case-folded email or name.
// Uniqueness is best effort: the lookup decides, storage does not enforce it.
func (s *Service) Create(ctx context.Context, in CreateColleagueRequest) (ColleagueResponse, bool, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.TrimSpace(in.Email)
	if name == "" || email == "" {
		return ColleagueResponse{}, false, ErrInvalid("Missing required fields: name, email")
	}

	existing, err := s.store.FindByDedupKey(ctx, fold(email), fold(name))
	if err != nil {
		return ColleagueResponse{}, false, err
	}
	if existing != nil {
		return toResponse(existing), false, nil
	}

	id, err := s.id.New()
	if err != nil {
		return ColleagueResponse{}, false, err
	}
	c := &Colleague{ID: id, Name: name, Email: email}
	if in.AvatarURL != nil && *in.AvatarURL != "" {
		c.AvatarURL = sql.NullString{String: *in.AvatarURL, Valid: true}
	}
	if err := s.store.Insert(ctx, c); err != nil {
		return ColleagueResponse{}, false, err
	}
	return toResponse(c), true, nil
}

func (s *Service) Get(ctx context.Context, id string) (ColleagueResponse, error) {
	c, err := s.store.GetByID(ctx, id)
	if err != nil {
		return ColleagueResponse{}, err
	}
	if c == nil {
		return ColleagueResponse{}, ErrNotFound("Colleague not found.")
	}
	return toResponse(c), nil
}

func (s *Service) List(ctx context.Context) ([]ColleagueResponse, error) {
	items, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ColleagueResponse, 0, len(items))
	for i := range items {
		out = append(out, toResponse(&items[i]))
	}
	return out, nil
}

func (s *Service) Update(ctx context.Context, id string, in UpdateColleagueRequest) (ColleagueResponse, error) {
	if id == "" {
		return ColleagueResponse{}, ErrInvalid("Missing colleague id.")
	}
	if in.Name == nil && in.Email == nil && in.AvatarURL == nil {
		return ColleagueResponse{}, ErrInvalid("No fields to update.")
	}
	c, err := s.store.Update(ctx, id, in)
	if err != nil {
		if err == sql.ErrNoRows {
			return ColleagueResponse{}, ErrNotFound("Colleague not found.")
		}
		return ColleagueResponse{}, err
	}
	return toResponse(c), nil
}

// Delete is rejected while the colleague still holds an active loan.
// Returned loan history and book ownership do not block it.
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalid("Missing colleague id.")
	}
	err := s.store.Delete(ctx, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound("Colleague not found.")
	case errors.Is(err, errHasActiveLoans):
		return ErrConflict("Cannot delete colleague with active book loans. Please return all books first.")
	}
	return err
}
