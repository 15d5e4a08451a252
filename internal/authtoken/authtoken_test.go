package authtoken

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestIssueThenVerifyRoundTrips(t *testing.T) {
	issuer := New("test-secret", 30*time.Minute)
	subscriberID := uuid.New()

	token, expiry, err := issuer.Issue(subscriberID, 42, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expiry.Before(time.Now()) {
		t.Fatalf("expected expiry in the future")
	}

	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.SubscriberID != subscriberID || claims.Handle != 42 || !claims.Superuser {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := New("secret-a", time.Hour)
	token, _, err := issuer.Issue(uuid.New(), 1, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	other := New("secret-b", time.Hour)
	if _, err := other.Verify(token); err == nil {
		t.Fatalf("expected verification to fail with a different secret")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	issuer := New("test-secret", -time.Minute)
	token, _, err := issuer.Issue(uuid.New(), 1, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := issuer.Verify(token); err == nil {
		t.Fatalf("expected verification to fail on an already-expired token")
	}
}
