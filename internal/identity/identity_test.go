package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/ahmadjamalnasir/VPN-backend/internal/apperr"
	"github.com/google/uuid"
)

type fakeRepo struct {
	byEmail map[string]*Subscriber
	byID    map[uuid.UUID]*Subscriber
	byHandle map[int64]*Subscriber
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		byEmail:  map[string]*Subscriber{},
		byID:     map[uuid.UUID]*Subscriber{},
		byHandle: map[int64]*Subscriber{},
	}
}

func (r *fakeRepo) Create(ctx context.Context, s *Subscriber) error {
	r.byEmail[s.Email] = s
	r.byID[s.ID] = s
	r.byHandle[s.Handle] = s
	return nil
}

func (r *fakeRepo) GetByEmail(ctx context.Context, emailLower string) (*Subscriber, error) {
	return r.byEmail[emailLower], nil
}

func (r *fakeRepo) GetByHandle(ctx context.Context, handle int64) (*Subscriber, error) {
	sub, ok := r.byHandle[handle]
	if !ok {
		return nil, errors.New("not found")
	}
	return sub, nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id uuid.UUID) (*Subscriber, error) {
	sub, ok := r.byID[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return sub, nil
}

func (r *fakeRepo) UpdateProfile(ctx context.Context, id uuid.UUID, displayName, phone, country string) error {
	sub, ok := r.byID[id]
	if !ok {
		return errors.New("not found")
	}
	sub.DisplayName, sub.Phone, sub.Country = displayName, phone, country
	return nil
}

func (r *fakeRepo) UpdateStatus(ctx context.Context, id uuid.UUID, active, premium, superuser *bool) error {
	sub, ok := r.byID[id]
	if !ok {
		return errors.New("not found")
	}
	if active != nil {
		sub.Active = *active
	}
	if premium != nil {
		sub.Premium = *premium
	}
	if superuser != nil {
		sub.Superuser = *superuser
	}
	return nil
}

func (r *fakeRepo) SetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	sub, ok := r.byID[id]
	if !ok {
		return errors.New("not found")
	}
	sub.PasswordHash = passwordHash
	return nil
}

func (r *fakeRepo) SetVerified(ctx context.Context, id uuid.UUID, verified bool) error {
	sub, ok := r.byID[id]
	if !ok {
		return errors.New("not found")
	}
	sub.Verified = verified
	return nil
}

func (r *fakeRepo) CountActive(ctx context.Context) (int, error) {
	count := 0
	for _, sub := range r.byID {
		if sub.Active {
			count++
		}
	}
	return count, nil
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	store := New(newFakeRepo(), 4)
	tests := []struct {
		name, email, password string
	}{
		{"short password", "a@example.com", "short"},
		{"malformed email", "not-an-email", "longenoughpassword"},
		{"empty name", "a@example.com", "longenoughpassword"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name := "Someone"
			if tt.name == "empty name" {
				name = ""
			}
			_, err := store.Register(context.Background(), name, tt.email, tt.password, "", "")
			if !apperr.Is(err, apperr.InvalidInput) {
				t.Fatalf("expected InvalidInput, got %v", err)
			}
		})
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	store := New(newFakeRepo(), 4)
	ctx := context.Background()
	if _, err := store.Register(ctx, "Ada", "ada@example.com", "longenoughpassword", "", ""); err != nil {
		t.Fatalf("unexpected error on first registration: %v", err)
	}
	_, err := store.Register(ctx, "Ada", "ADA@example.com", "longenoughpassword", "", "")
	if !apperr.Is(err, apperr.AlreadyExists) {
		t.Fatalf("expected AlreadyExists for a case-insensitive duplicate, got %v", err)
	}
}

func TestAuthenticateFlow(t *testing.T) {
	store := New(newFakeRepo(), 4)
	ctx := context.Background()
	sub, err := store.Register(ctx, "Ada", "ada@example.com", "correct-password", "", "")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	t.Run("unverified rejected", func(t *testing.T) {
		_, err := store.Authenticate(ctx, "ada@example.com", "correct-password")
		if !apperr.Is(err, apperr.Unverified) {
			t.Fatalf("expected Unverified, got %v", err)
		}
	})

	if err := store.SetVerified(ctx, sub.ID, true); err != nil {
		t.Fatalf("setup: %v", err)
	}

	t.Run("wrong password rejected", func(t *testing.T) {
		_, err := store.Authenticate(ctx, "ada@example.com", "wrong-password")
		if !apperr.Is(err, apperr.Unauthenticated) {
			t.Fatalf("expected Unauthenticated, got %v", err)
		}
	})

	t.Run("unknown email rejected the same way", func(t *testing.T) {
		_, err := store.Authenticate(ctx, "nobody@example.com", "correct-password")
		if !apperr.Is(err, apperr.Unauthenticated) {
			t.Fatalf("expected Unauthenticated, got %v", err)
		}
	})

	t.Run("disabled account rejected", func(t *testing.T) {
		disabled := false
		if err := store.UpdateStatus(ctx, sub.ID, &disabled, nil, nil); err != nil {
			t.Fatalf("setup: %v", err)
		}
		_, err := store.Authenticate(ctx, "ada@example.com", "correct-password")
		if !apperr.Is(err, apperr.Disabled) {
			t.Fatalf("expected Disabled, got %v", err)
		}
		enabled := true
		_ = store.UpdateStatus(ctx, sub.ID, &enabled, nil, nil)
	})

	t.Run("correct credentials succeed", func(t *testing.T) {
		got, err := store.Authenticate(ctx, "ada@example.com", "correct-password")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.ID != sub.ID {
			t.Errorf("expected to authenticate the registered subscriber")
		}
	})
}

func TestSetPasswordRejectsShortPassword(t *testing.T) {
	store := New(newFakeRepo(), 4)
	ctx := context.Background()
	sub, err := store.Register(ctx, "Ada", "ada@example.com", "longenoughpassword", "", "")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	err = store.SetPassword(ctx, sub.ID, "short")
	if !apperr.Is(err, apperr.InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestGetByHandleWrapsRepoErrorAsNotFound(t *testing.T) {
	store := New(newFakeRepo(), 4)
	_, err := store.GetByHandle(context.Background(), 9999)
	if !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
