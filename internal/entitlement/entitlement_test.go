package entitlement

import (
	"context"
	"testing"
	"time"

	"github.com/ahmadjamalnasir/VPN-backend/internal/apperr"
	"github.com/google/uuid"
)

type fakeRepo struct {
	subs          map[uuid.UUID]*Subscription
	plans         map[uuid.UUID]*Plan
	payments      map[string]*Payment
	premiumFlags  map[uuid.UUID]bool
	expireCalls   int
	activateCalls int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		subs:         make(map[uuid.UUID]*Subscription),
		plans:        make(map[uuid.UUID]*Plan),
		payments:     make(map[string]*Payment),
		premiumFlags: make(map[uuid.UUID]bool),
	}
}

func (f *fakeRepo) GetMostRecentSubscription(ctx context.Context, subscriberID uuid.UUID) (*Subscription, error) {
	return f.subs[subscriberID], nil
}
func (f *fakeRepo) GetSubscriptionByID(ctx context.Context, subscriptionID uuid.UUID) (*Subscription, error) {
	for _, s := range f.subs {
		if s.ID == subscriptionID {
			return s, nil
		}
	}
	return nil, nil
}
func (f *fakeRepo) GetPlan(ctx context.Context, planID uuid.UUID) (*Plan, error) {
	return f.plans[planID], nil
}
func (f *fakeRepo) CreatePendingSubscriptionAndPayment(ctx context.Context, sub *Subscription, pay *Payment) error {
	f.subs[sub.SubscriberID] = sub
	pay.SubscriptionID = sub.ID
	f.payments[pay.ID.String()] = pay
	return nil
}
func (f *fakeRepo) ActivateSubscription(ctx context.Context, subscriptionID uuid.UUID, start, end time.Time) error {
	f.activateCalls++
	for _, s := range f.subs {
		if s.ID == subscriptionID {
			s.Status = SubscriptionActive
			s.StartTime = start
			s.EndTime = end
		}
	}
	return nil
}
func (f *fakeRepo) MarkPaymentStatus(ctx context.Context, paymentRef string, status PaymentStatus, externalRef string) error {
	pay, ok := f.payments[paymentRef]
	if !ok {
		return nil
	}
	pay.Status = status
	pay.ExternalRef = externalRef
	return nil
}
func (f *fakeRepo) GetPaymentByRef(ctx context.Context, paymentRef string) (*Payment, error) {
	return f.payments[paymentRef], nil
}
func (f *fakeRepo) SetAutoRenew(ctx context.Context, subscriptionID uuid.UUID, autoRenew bool) error {
	for _, s := range f.subs {
		if s.ID == subscriptionID {
			s.AutoRenew = autoRenew
		}
	}
	return nil
}
func (f *fakeRepo) ExpireSubscription(ctx context.Context, subscriptionID uuid.UUID) error {
	f.expireCalls++
	for _, s := range f.subs {
		if s.ID == subscriptionID {
			s.Status = SubscriptionExpired
		}
	}
	return nil
}
func (f *fakeRepo) ReconcilePremiumFlag(ctx context.Context, subscriberID uuid.UUID, premium bool) error {
	f.premiumFlags[subscriberID] = premium
	return nil
}

func (f *fakeRepo) WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	return fn(ctx, f)
}

func TestResolveNoSubscriptionIsFree(t *testing.T) {
	repo := newFakeRepo()
	e := New(repo)
	subscriberID := uuid.New()

	decision, err := e.Resolve(context.Background(), subscriberID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Tier != TierFree || !decision.Active {
		t.Fatalf("expected free/active, got %+v", decision)
	}
	if repo.premiumFlags[subscriberID] {
		t.Fatalf("expected premium flag to be reconciled to false")
	}
}

func TestResolveActiveUnexpiredSubscriptionIsPaid(t *testing.T) {
	repo := newFakeRepo()
	e := New(repo)
	subscriberID := uuid.New()
	planID := uuid.New()
	repo.plans[planID] = &Plan{ID: planID, Tier: TierPaid, DurationDays: 30}
	repo.subs[subscriberID] = &Subscription{
		ID:           uuid.New(),
		SubscriberID: subscriberID,
		PlanID:       planID,
		Status:       SubscriptionActive,
		EndTime:      time.Now().Add(24 * time.Hour),
	}

	decision, err := e.Resolve(context.Background(), subscriberID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Tier != TierPaid || decision.PlanID != planID {
		t.Fatalf("expected paid tier on plan %s, got %+v", planID, decision)
	}
	if !repo.premiumFlags[subscriberID] {
		t.Fatalf("expected premium flag to be reconciled to true")
	}
}

func TestResolveExpiredActiveSubscriptionLazilyExpires(t *testing.T) {
	repo := newFakeRepo()
	e := New(repo)
	subscriberID := uuid.New()
	planID := uuid.New()
	repo.plans[planID] = &Plan{ID: planID, Tier: TierPaid}
	subID := uuid.New()
	repo.subs[subscriberID] = &Subscription{
		ID:           subID,
		SubscriberID: subscriberID,
		PlanID:       planID,
		Status:       SubscriptionActive,
		EndTime:      time.Now().Add(-time.Hour),
	}

	decision, err := e.Resolve(context.Background(), subscriberID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Tier != TierFree {
		t.Fatalf("expected free tier after lazy expiry, got %+v", decision)
	}
	if repo.expireCalls != 1 {
		t.Fatalf("expected ExpireSubscription to be called once, got %d", repo.expireCalls)
	}
}

func TestAssignZeroPricedPlanSynthesizesConfirmation(t *testing.T) {
	repo := newFakeRepo()
	e := New(repo)
	subscriberID := uuid.New()
	planID := uuid.New()
	repo.plans[planID] = &Plan{ID: planID, Tier: TierFree, PriceCents: 0, DurationDays: 365}

	sub, err := e.Assign(context.Background(), subscriberID, planID, false, MethodInApp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.Status != SubscriptionActive {
		t.Fatalf("expected zero-priced plan to auto-activate, got status %s", sub.Status)
	}
	if repo.activateCalls != 1 {
		t.Fatalf("expected one activation call, got %d", repo.activateCalls)
	}
}

func TestAssignRetiredPlanRejected(t *testing.T) {
	repo := newFakeRepo()
	e := New(repo)
	planID := uuid.New()
	repo.plans[planID] = &Plan{ID: planID, Tier: TierPaid, Retired: true}

	_, err := e.Assign(context.Background(), uuid.New(), planID, false, MethodCard)
	if apperr.KindOf(err) != apperr.InvalidInput {
		t.Fatalf("expected InvalidInput for retired plan, got %v", err)
	}
}

func TestConfirmPaymentFailureDoesNotActivate(t *testing.T) {
	repo := newFakeRepo()
	e := New(repo)
	subscriberID := uuid.New()
	planID := uuid.New()
	repo.plans[planID] = &Plan{ID: planID, Tier: TierPaid, PriceCents: 999, DurationDays: 30}

	sub, err := e.Assign(context.Background(), subscriberID, planID, true, MethodCard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.Status != SubscriptionPending {
		t.Fatalf("expected pending subscription before payment confirmation, got %s", sub.Status)
	}

	var ref string
	for k := range repo.payments {
		ref = k
	}
	err = e.ConfirmPayment(context.Background(), ref, "declined")
	if apperr.KindOf(err) != apperr.PaymentFailed {
		t.Fatalf("expected PaymentFailed, got %v", err)
	}
	if repo.activateCalls != 0 {
		t.Fatalf("expected no activation on failed payment")
	}
}

func TestCancelPreservesAccessUntilEndTime(t *testing.T) {
	repo := newFakeRepo()
	e := New(repo)
	subID := uuid.New()
	repo.subs[uuid.New()] = &Subscription{ID: subID, Status: SubscriptionActive, AutoRenew: true, EndTime: time.Now().Add(time.Hour)}

	if err := e.Cancel(context.Background(), subID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, s := range repo.subs {
		if s.ID == subID && s.AutoRenew {
			t.Fatalf("expected auto_renew to be cleared")
		}
		if s.ID == subID && s.Status != SubscriptionActive {
			t.Fatalf("expected status to remain active until end_time, got %s", s.Status)
		}
	}
}
