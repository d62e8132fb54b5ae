package identity

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/nats-io/nuid"
	"github.com/taskflow/taskflow/internal/platform/auth"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

var (
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
	ErrEmailInUse         = errors.New("email already in use")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Account is an authenticated user together with its session token.
type Account struct {
	UserID string
	Email  string
	Token  string
}

type Service struct {
	Repo      Repository
	AuthToken auth.Manager
	NewID     func() string
	HashCost  int
}

func NewService(repo Repository, tokenManager auth.Manager) *Service {
	return &Service{
		Repo:      repo,
		AuthToken: tokenManager,
		NewID:     nuid.Next,
		HashCost:  bcrypt.DefaultCost,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}
	return nil
}

func (s *Service) SignUp(ctx context.Context, email, password string) (Account, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return Account{}, err
	}
	if len(password) < minPasswordLength {
		return Account{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.HashCost)
	if err != nil {
		return Account{}, err
	}

	u := User{
		ID:           s.NewID(),
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.Repo.CreateUser(ctx, u); err != nil {
		return Account{}, err
	}
	return s.issue(u)
}

func (s *Service) LogIn(ctx context.Context, email, password string) (Account, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Account{}, ErrInvalidCredentials
	}
	if err := validateEmail(email); err != nil {
		return Account{}, err
	}

	u, err := s.Repo.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Account{}, ErrInvalidCredentials
		}
		return Account{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return Account{}, ErrInvalidCredentials
	}
	return s.issue(u)
}

// Resume restores an account from a session token issued earlier. The user
// must still exist.
func (s *Service) Resume(ctx context.Context, token string) (Account, error) {
	claims, err := s.AuthToken.Parse(strings.TrimSpace(token))
	if err != nil {
		return Account{}, err
	}
	u, err := s.Repo.FindUserByID(ctx, claims.Subject)
	if err != nil {
		return Account{}, err
	}
	return Account{UserID: u.ID, Email: u.Email, Token: token}, nil
}

func (s *Service) issue(u User) (Account, error) {
	token, err := s.AuthToken.Sign(u.ID, u.Email)
	if err != nil {
		return Account{}, err
	}
	return Account{UserID: u.ID, Email: u.Email, Token: token}, nil
}
