package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"

	tokenTTL = 24 * time.Hour
)

var (
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("authentication failed")
	ErrForbidden     = errors.New("forbidden")
)

type Service struct {
	store  AccountStore
	secret []byte
}

func NewService(db *sql.DB, secret []byte) *Service {
	return &Service{store: NewStore(db), secret: secret}
}

func (s *Service) Login(ctx context.Context, id, password string) (string, error) {
	acct, err := s.store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if acct == nil || acct.IsDisabled {
		return "", ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return "", ErrUnauthorized
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  acct.ID,
		"role": acct.Role,
		"exp":  time.Now().Add(tokenTTL).Unix(),
	})
	return token.SignedString(s.secret)
}

// Register creates an account. Open only for the very first account (the
// bootstrap admin); after that the caller must already hold the admin role.
func (s *Service) Register(ctx context.Context, id, password, role string, callerRole string) error {
	n, err := s.store.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 && callerRole != RoleAdmin {
		return ErrForbidden
	}
	if n == 0 {
		// first account runs the place
		role = RoleAdmin
	}

	exists, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if exists != nil {
		return ErrAlreadyExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.store.Create(ctx, &Account{
		ID:           id,
		PasswordHash: string(hash),
		Role:         role,
	})
}
