package verification

import (
	"context"
	"testing"
	"time"

	"github.com/ahmadjamalnasir/VPN-backend/internal/notify"
)

type fakeRepo struct {
	codes       map[string]*Code
	invalidated int
}

func newFakeRepo() *fakeRepo { return &fakeRepo{codes: make(map[string]*Code)} }

func (f *fakeRepo) InvalidatePrior(ctx context.Context, email string, purpose Purpose) error {
	for _, c := range f.codes {
		if c.Email == email && c.Purpose == purpose && !c.Consumed {
			c.Consumed = true
		}
	}
	return nil
}
func (f *fakeRepo) Create(ctx context.Context, c *Code) error {
	c.ID = fakeCodeID(len(f.codes))
	f.codes[c.ID] = c
	return nil
}
func (f *fakeRepo) GetActive(ctx context.Context, emailAddr string, purpose Purpose) (*Code, error) {
	var latest *Code
	for _, c := range f.codes {
		if c.Email != emailAddr || c.Purpose != purpose || c.Consumed {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	return latest, nil
}
func (f *fakeRepo) IncrementAttempts(ctx context.Context, id string) (int, error) {
	f.codes[id].Attempts++
	return f.codes[id].Attempts, nil
}
func (f *fakeRepo) MarkConsumed(ctx context.Context, id string) error {
	f.codes[id].Consumed = true
	return nil
}
func (f *fakeRepo) Invalidate(ctx context.Context, id string) error {
	f.invalidated++
	f.codes[id].Consumed = true
	return nil
}

func fakeCodeID(n int) string {
	return "code-" + string(rune('a'+n))
}

type fakePublisher struct {
	events []notify.Event
}

func (f *fakePublisher) Publish(ctx context.Context, event notify.Event) error {
	f.events = append(f.events, event)
	return nil
}
func (f *fakePublisher) Close() error { return nil }

func TestIssueThenVerifySucceeds(t *testing.T) {
	repo := newFakeRepo()
	pub := &fakePublisher{}
	svc := New(repo, pub, 10*time.Minute)

	if err := svc.Issue(context.Background(), "a@example.com", PurposeEmailVerify); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected one published event, got %d", len(pub.events))
	}
	code := pub.events[0].Code

	result, err := svc.Verify(context.Background(), "a@example.com", PurposeEmailVerify, code)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != ResultOK {
		t.Fatalf("expected ResultOK, got %s", result)
	}
}

func TestVerifyWrongCodeReturnsBad(t *testing.T) {
	repo := newFakeRepo()
	pub := &fakePublisher{}
	svc := New(repo, pub, 10*time.Minute)

	if err := svc.Issue(context.Background(), "a@example.com", PurposeEmailVerify); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := svc.Verify(context.Background(), "a@example.com", PurposeEmailVerify, "000000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != ResultBad {
		t.Fatalf("expected ResultBad, got %s", result)
	}
}

func TestVerifyExpiredReturnsExpired(t *testing.T) {
	repo := newFakeRepo()
	pub := &fakePublisher{}
	svc := New(repo, pub, -time.Minute) // already-expired TTL

	if err := svc.Issue(context.Background(), "a@example.com", PurposeEmailVerify); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	code := pub.events[0].Code

	result, err := svc.Verify(context.Background(), "a@example.com", PurposeEmailVerify, code)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != ResultExpired {
		t.Fatalf("expected ResultExpired, got %s", result)
	}
}

func TestThreeFailedAttemptsInvalidatesCode(t *testing.T) {
	repo := newFakeRepo()
	pub := &fakePublisher{}
	svc := New(repo, pub, 10*time.Minute)

	if err := svc.Issue(context.Background(), "a@example.com", PurposeEmailVerify); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := svc.Verify(context.Background(), "a@example.com", PurposeEmailVerify, "000000"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if repo.invalidated != 1 {
		t.Fatalf("expected code to be invalidated after 3 failed attempts, got %d invalidations", repo.invalidated)
	}

	result, err := svc.Verify(context.Background(), "a@example.com", PurposeEmailVerify, pub.events[0].Code)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != ResultBad {
		t.Fatalf("expected ResultBad once the code is invalidated, got %s", result)
	}
}

func TestIssueInvalidatesPriorUnconsumedCode(t *testing.T) {
	repo := newFakeRepo()
	pub := &fakePublisher{}
	svc := New(repo, pub, 10*time.Minute)

	if err := svc.Issue(context.Background(), "a@example.com", PurposeEmailVerify); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	firstCode := pub.events[0].Code

	if err := svc.Issue(context.Background(), "a@example.com", PurposeEmailVerify); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := svc.Verify(context.Background(), "a@example.com", PurposeEmailVerify, firstCode)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != ResultBad {
		t.Fatalf("expected the prior code to no longer verify, got %s", result)
	}
}
