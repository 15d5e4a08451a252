// Package verification implements the Verification/Reset Codes module
// (VRC): short-lived six-digit codes for email verification and password
// reset, delivered through the notify collaborator.
package verification

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"github.com/ahmadjamalnasir/VPN-backend/internal/apperr"
	"github.com/ahmadjamalnasir/VPN-backend/internal/notify"
)

// Purpose distinguishes the two code flows this service issues codes for.
type Purpose string

const (
	PurposeEmailVerify  Purpose = "email_verify"
	PurposePasswordReset Purpose = "password_reset"
)

const maxAttempts = 3

// Code is a verification-code record.
type Code struct {
	ID          string
	Email       string
	Purpose     Purpose
	CodeHash    string
	Attempts    int
	Consumed    bool
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Result is Verify's three-valued outcome.
type Result string

const (
	ResultOK      Result = "ok"
	ResultExpired Result = "expired"
	ResultBad     Result = "bad"
)

// Repository is the persistence contract VRC depends on.
type Repository interface {
	// InvalidatePrior marks any unconsumed code for (email, purpose) as
	// consumed, so issue() never leaves two live codes outstanding.
	InvalidatePrior(ctx context.Context, email string, purpose Purpose) error
	Create(ctx context.Context, c *Code) error
	GetActive(ctx context.Context, email string, purpose Purpose) (*Code, error)
	IncrementAttempts(ctx context.Context, id string) (int, error)
	MarkConsumed(ctx context.Context, id string) error
	Invalidate(ctx context.Context, id string) error
}

// Service is the VRC component.
type Service struct {
	repo      Repository
	publisher notify.Publisher
	ttl       time.Duration
	clock     func() time.Time
}

// New constructs a Service. ttl is the code's lifetime (10 minutes by
// default).
func New(repo Repository, publisher notify.Publisher, ttl time.Duration) *Service {
	return &Service{repo: repo, publisher: publisher, ttl: ttl, clock: time.Now}
}

// Issue invalidates any prior unconsumed code for (email, purpose),
// generates a new six-digit code, and hands it to the notify
// collaborator.
func (s *Service) Issue(ctx context.Context, email string, purpose Purpose) error {
	if err := s.repo.InvalidatePrior(ctx, email, purpose); err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to invalidate prior code")
	}

	code, err := generateCode()
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to generate code")
	}

	now := s.clock()
	record := &Code{
		Email:     email,
		Purpose:   purpose,
		CodeHash:  hashCode(code),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to persist verification code")
	}

	if err := s.publisher.Publish(ctx, notify.Event{
		Kind:   string(purpose),
		Email:  email,
		Code:   code,
		SentAt: now,
	}); err != nil {
		return err
	}
	return nil
}

// Verify checks expiry, compares the supplied code in constant time
// against the stored hash, and marks the code consumed on match. Three
// failed attempts invalidate the code entirely.
func (s *Service) Verify(ctx context.Context, email string, purpose Purpose, suppliedCode string) (Result, error) {
	record, err := s.repo.GetActive(ctx, email, purpose)
	if err != nil {
		return ResultBad, apperr.Wrap(apperr.Internal, err, "failed to load verification code")
	}
	if record == nil {
		return ResultBad, nil
	}
	if s.clock().After(record.ExpiresAt) {
		return ResultExpired, nil
	}

	if subtle.ConstantTimeCompare([]byte(hashCode(suppliedCode)), []byte(record.CodeHash)) == 1 {
		if err := s.repo.MarkConsumed(ctx, record.ID); err != nil {
			return ResultBad, apperr.Wrap(apperr.Internal, err, "failed to mark code consumed")
		}
		return ResultOK, nil
	}

	attempts, err := s.repo.IncrementAttempts(ctx, record.ID)
	if err != nil {
		return ResultBad, apperr.Wrap(apperr.Internal, err, "failed to record failed attempt")
	}
	if attempts >= maxAttempts {
		if err := s.repo.Invalidate(ctx, record.ID); err != nil {
			return ResultBad, apperr.Wrap(apperr.Internal, err, "failed to invalidate exhausted code")
		}
	}
	return ResultBad, nil
}

// generateCode produces a CSPRNG six-digit code: a code that gates
// account access should not be predictable.
func generateCode() (string, error) {
	max := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// hashCode stores a comparison hash rather than the code itself, so a
// database read does not leak live codes; verify still runs in constant
// time over the hash.
func hashCode(code string) string {
	sum := sha256Sum(code)
	return sum
}
