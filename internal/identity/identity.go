// Package identity implements the Identity Store (IS): the authoritative
// record of subscribers, credentials, verification state, and the premium
// cache flag.
package identity

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/ahmadjamalnasir/VPN-backend/internal/apperr"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Subscriber is the core subscriber entity.
type Subscriber struct {
	ID           uuid.UUID
	Handle       int64
	Email        string
	PasswordHash string
	DisplayName  string
	Phone        string
	Country      string
	Verified     bool
	Active       bool
	Premium      bool
	Superuser    bool
	CreatedAt    time.Time
}

type registerInput struct {
	Name     string `validate:"required,min=1,max=120"`
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8"`
	Phone    string `validate:"omitempty,max=32"`
	Country  string `validate:"omitempty,max=2"`
}

var validate = validator.New()

// Repository is the persistence contract the Identity Store depends on.
// A pgx-backed implementation lives in postgres.go.
type Repository interface {
	Create(ctx context.Context, s *Subscriber) error
	GetByEmail(ctx context.Context, emailLower string) (*Subscriber, error)
	GetByHandle(ctx context.Context, handle int64) (*Subscriber, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Subscriber, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, displayName, phone, country string) error
	UpdateStatus(ctx context.Context, id uuid.UUID, active, premium, superuser *bool) error
	SetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	SetVerified(ctx context.Context, id uuid.UUID, verified bool) error
	// CountActive returns the number of subscribers with an active
	// account, for the operator aggregate feed.
	CountActive(ctx context.Context) (int, error)
}

// Store is the Identity Store service.
type Store struct {
	repo Repository
	cost int
}

// New constructs an Identity Store. cost is the bcrypt work factor; 0
// selects the package default (12).
func New(repo Repository, cost int) *Store {
	if cost <= 0 {
		cost = 12
	}
	return &Store{repo: repo, cost: cost}
}

// Register creates a new subscriber. Fails AlreadyExists if the email
// collides, InvalidInput on malformed fields.
func (s *Store) Register(ctx context.Context, name, email, password, phone, country string) (*Subscriber, error) {
	input := registerInput{Name: name, Email: email, Password: password, Phone: phone, Country: country}
	if err := validate.Struct(input); err != nil {
		return nil, apperr.Wrap(apperr.InvalidInput, err, "registration input failed validation")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperr.New(apperr.InvalidInput, "malformed email address")
	}

	lower := strings.ToLower(strings.TrimSpace(email))
	if existing, err := s.repo.GetByEmail(ctx, lower); err == nil && existing != nil {
		return nil, apperr.New(apperr.AlreadyExists, "email already registered")
	}

	hash, err := s.hashPassword(password)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to hash password")
	}

	sub := &Subscriber{
		ID:           uuid.New(),
		Email:        lower,
		PasswordHash: hash,
		DisplayName:  name,
		Phone:        phone,
		Country:      country,
		Verified:     false,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to persist subscriber")
	}
	return sub, nil
}

// Authenticate validates credentials, collapsing unknown-email and
// bad-password into a single Unauthenticated result to avoid user
// enumeration.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*Subscriber, error) {
	lower := strings.ToLower(strings.TrimSpace(email))
	sub, err := s.repo.GetByEmail(ctx, lower)
	if err != nil || sub == nil {
		// constant-ish work to avoid timing leaks between unknown-email
		// and bad-password branches.
		_ = s.compareAgainstDummyHash(password)
		return nil, apperr.New(apperr.Unauthenticated, "invalid credentials")
	}
	if !s.comparePassword(sub.PasswordHash, password) {
		return nil, apperr.New(apperr.Unauthenticated, "invalid credentials")
	}
	if !sub.Verified {
		return nil, apperr.New(apperr.Unverified, "email not verified")
	}
	if !sub.Active {
		return nil, apperr.New(apperr.Disabled, "account disabled")
	}
	return sub, nil
}

// GetByHandle, GetByEmail, GetByID expose lookups for callers (EE, SM,
// MP) that already hold one of these keys.
func (s *Store) GetByHandle(ctx context.Context, handle int64) (*Subscriber, error) {
	sub, err := s.repo.GetByHandle(ctx, handle)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, err, "subscriber not found")
	}
	return sub, nil
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*Subscriber, error) {
	sub, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, err, "subscriber not found")
	}
	return sub, nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Subscriber, error) {
	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, err, "subscriber not found")
	}
	return sub, nil
}

// UpdateProfile updates mutable profile fields.
func (s *Store) UpdateProfile(ctx context.Context, id uuid.UUID, displayName, phone, country string) error {
	if err := s.repo.UpdateProfile(ctx, id, displayName, phone, country); err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to update profile")
	}
	return nil
}

// UpdateStatus sets the administrative active/premium/superuser bits. Any
// nil pointer leaves that field unchanged.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, active, premium, superuser *bool) error {
	if err := s.repo.UpdateStatus(ctx, id, active, premium, superuser); err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to update status")
	}
	return nil
}

// SetPassword re-hashes and stores a new password.
func (s *Store) SetPassword(ctx context.Context, id uuid.UUID, newPassword string) error {
	if len(newPassword) < 8 {
		return apperr.New(apperr.InvalidInput, "password must be at least 8 characters")
	}
	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to hash password")
	}
	if err := s.repo.SetPassword(ctx, id, hash); err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to persist password")
	}
	return nil
}

// SetVerified flips the verified flag, called by the verify-email HTTP
// handler once VRC accepts an email-verify code.
func (s *Store) SetVerified(ctx context.Context, id uuid.UUID, verified bool) error {
	if err := s.repo.SetVerified(ctx, id, verified); err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to set verified flag")
	}
	return nil
}

// CountActive returns the number of subscribers with an active account,
// sampled by the operator aggregate feed.
func (s *Store) CountActive(ctx context.Context) (int, error) {
	count, err := s.repo.CountActive(ctx)
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, err, "failed to count active subscribers")
	}
	return count, nil
}

// hashPassword SHA-256 pre-hashes the password before handing it to
// bcrypt, sidestepping bcrypt's 72-byte input cap.
func (s *Store) hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword(preHash(password), s.cost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func (s *Store) comparePassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), preHash(password)) == nil
}

// dummyHash is a precomputed bcrypt hash of a fixed placeholder password,
// compared against on unknown-email lookups so that authenticate takes
// comparable time regardless of whether the email exists.
var dummyHash, _ = bcrypt.GenerateFromPassword(preHash("unknown-subscriber-placeholder"), 12)

func (s *Store) compareAgainstDummyHash(password string) bool {
	return bcrypt.CompareHashAndPassword(dummyHash, preHash(password)) == nil
}
