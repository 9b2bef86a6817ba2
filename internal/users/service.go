// Package users manages registered identities and verifies their credentials.
package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/errorhub/internal/apperror"
	"github.com/kiranshivaraju/errorhub/internal/store"
	"github.com/kiranshivaraju/errorhub/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	// bcrypt ignores input past 72 bytes.
	maxPasswordLength = 72
	maxNameLength     = 100
)

// ErrInvalidCredentials is returned by Authenticate for an unknown email or a
// wrong password. The two cases are deliberately indistinguishable.
var ErrInvalidCredentials = errors.New("invalid email or password")

// Principal is an authenticated caller.
type Principal struct {
	UserID uuid.UUID
	Email  string
	Admin  bool
}

// RegisterParams holds the fields accepted on registration.
type RegisterParams struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// UpdateParams holds the profile fields a user may change. Nil fields are left
// unchanged.
type UpdateParams struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Email     *string `json:"email"`
	Password  *string `json:"password"`
}

// Service is the identity store.
type Service struct {
	store  store.Store
	admins map[string]struct{}
	cost   int
	now    func() time.Time
	// dummyHash is compared against when the email is unknown so that both
	// failure paths take a bcrypt comparison.
	dummyHash []byte
}

// Option configures a Service.
type Option func(*Service)

// WithBcryptCost sets the hashing cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// NewService creates a new users Service. Emails in adminEmails are granted
// admin scope on authentication.
func NewService(st store.Store, adminEmails []string, opts ...Option) *Service {
	s := &Service{
		store:  st,
		admins: make(map[string]struct{}, len(adminEmails)),
		cost:   bcrypt.DefaultCost,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, e := range adminEmails {
		s.admins[normalizeEmail(e)] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}
	s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("errorhub-dummy-password"), s.cost)
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return apperror.Validation("is required", "email")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return apperror.Validation("must be a valid email address", "email")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperror.Validation(fmt.Sprintf("must be at least %d characters", minPasswordLength), "password")
	}
	if len(password) > maxPasswordLength {
		return apperror.Validation(fmt.Sprintf("must be at most %d bytes", maxPasswordLength), "password")
	}
	return nil
}

func validateName(field, name string) error {
	if len(name) > maxNameLength {
		return apperror.Validation(fmt.Sprintf("must be at most %d characters", maxNameLength), field)
	}
	return nil
}

func (s *Service) hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// Register creates a user. Emails are unique regardless of case.
func (s *Service) Register(ctx context.Context, params RegisterParams) (*models.User, error) {
	email := normalizeEmail(params.Email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(params.Password); err != nil {
		return nil, err
	}
	firstName := strings.TrimSpace(params.FirstName)
	lastName := strings.TrimSpace(params.LastName)
	if err := validateName("first_name", firstName); err != nil {
		return nil, err
	}
	if err := validateName("last_name", lastName); err != nil {
		return nil, err
	}

	hash, err := s.hash(params.Password)
	if err != nil {
		return nil, err
	}
	now := s.now()
	u := &models.User{
		ID:           uuid.New(),
		FirstName:    firstName,
		LastName:     lastName,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, apperror.Validation("is already registered", "email")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *Service) Find(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperror.NotFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

func (s *Service) List(ctx context.Context, page store.Page) ([]*models.User, int, error) {
	users, total, err := s.store.ListUsers(ctx, page)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return users, total, nil
}

// Update applies the non-nil fields of params to the user.
func (s *Service) Update(ctx context.Context, id uuid.UUID, params UpdateParams) (*models.User, error) {
	u, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	if params.FirstName != nil {
		name := strings.TrimSpace(*params.FirstName)
		if err := validateName("first_name", name); err != nil {
			return nil, err
		}
		u.FirstName = name
	}
	if params.LastName != nil {
		name := strings.TrimSpace(*params.LastName)
		if err := validateName("last_name", name); err != nil {
			return nil, err
		}
		u.LastName = name
	}
	if params.Email != nil {
		email := normalizeEmail(*params.Email)
		if err := validateEmail(email); err != nil {
			return nil, err
		}
		u.Email = email
	}
	if params.Password != nil {
		if err := validatePassword(*params.Password); err != nil {
			return nil, err
		}
		hash, err := s.hash(*params.Password)
		if err != nil {
			return nil, err
		}
		u.PasswordHash = hash
	}
	u.UpdatedAt = s.now()

	if err := s.store.UpdateUser(ctx, u); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateKey):
			return nil, apperror.Validation("is already registered", "email")
		case errors.Is(err, store.ErrNotFound):
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	return u, nil
}

// Authenticate verifies an email and password pair.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Principal, error) {
	email = normalizeEmail(email)
	u, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &Principal{UserID: u.ID, Email: u.Email, Admin: s.IsAdmin(u.Email)}, nil
}

// IsAdmin reports whether email is configured as an administrator.
func (s *Service) IsAdmin(email string) bool {
	_, ok := s.admins[normalizeEmail(email)]
	return ok
}
