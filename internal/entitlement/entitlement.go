// Package entitlement implements the Entitlement Engine (EE): resolves a
// subscriber's effective plan tier, and manages the subscription/payment
// lifecycle that backs it.
package entitlement

import (
	"context"
	"time"

	"github.com/ahmadjamalnasir/VPN-backend/internal/apperr"
	"github.com/google/uuid"
)

// Tier is the two-valued access label: free or paid.
type Tier string

const (
	TierFree Tier = "free"
	TierPaid Tier = "paid"
)

// Plan is a purchasable subscription offering.
type Plan struct {
	ID            uuid.UUID
	Name          string
	Tier          Tier
	PriceCents    int64
	DurationDays  int
	Features      map[string]any
	Retired       bool
}

// SubscriptionStatus enumerates a subscription's lifecycle states.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionExpired  SubscriptionStatus = "expired"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionPending  SubscriptionStatus = "pending"
)

// Subscription is a subscriber's binding to a plan for a time window.
type Subscription struct {
	ID           uuid.UUID
	SubscriberID uuid.UUID
	PlanID       uuid.UUID
	StartTime    time.Time
	EndTime      time.Time
	Status       SubscriptionStatus
	AutoRenew    bool
}

// PaymentStatus enumerates a payment's possible outcomes.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

// PaymentMethod enumerates the supported payment rails.
type PaymentMethod string

const (
	MethodCard   PaymentMethod = "card"
	MethodWallet PaymentMethod = "wallet"
	MethodInApp  PaymentMethod = "in-app"
	MethodCrypto PaymentMethod = "crypto"
)

// Payment is a single payment attempt backing a subscription.
type Payment struct {
	ID             uuid.UUID
	SubscriberID   uuid.UUID
	SubscriptionID uuid.UUID
	AmountCents    int64
	Method         PaymentMethod
	Status         PaymentStatus
	ExternalRef    string
}

// Decision is EE's answer to "what is this subscriber entitled to right
// now", returned by Resolve.
type Decision struct {
	Tier    Tier
	Active  bool
	PlanID  uuid.UUID
	Expiry  *time.Time
}

// Repository is the persistence contract EE depends on.
type Repository interface {
	GetMostRecentSubscription(ctx context.Context, subscriberID uuid.UUID) (*Subscription, error)
	GetSubscriptionByID(ctx context.Context, subscriptionID uuid.UUID) (*Subscription, error)
	GetPlan(ctx context.Context, planID uuid.UUID) (*Plan, error)
	CreatePendingSubscriptionAndPayment(ctx context.Context, sub *Subscription, pay *Payment) error
	ActivateSubscription(ctx context.Context, subscriptionID uuid.UUID, start, end time.Time) error
	MarkPaymentStatus(ctx context.Context, paymentRef string, status PaymentStatus, externalRef string) error
	GetPaymentByRef(ctx context.Context, paymentRef string) (*Payment, error)
	SetAutoRenew(ctx context.Context, subscriptionID uuid.UUID, autoRenew bool) error
	ExpireSubscription(ctx context.Context, subscriptionID uuid.UUID) error
	// ReconcilePremiumFlag updates the subscriber's cached premium bit in
	// the same transaction as the subscription read that produced the
	// decision.
	ReconcilePremiumFlag(ctx context.Context, subscriberID uuid.UUID, premium bool) error
	// WithTx scopes the repository calls made inside fn to a single
	// transaction, committing on success and rolling back otherwise.
	// Resolve uses it so the subscription read, the lazy expiry, and the
	// premium-flag reconcile land atomically.
	WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}

// Engine is the Entitlement Engine.
type Engine struct {
	repo  Repository
	clock func() time.Time
}

// New constructs an Engine.
func New(repo Repository) *Engine {
	return &Engine{repo: repo, clock: time.Now}
}

// Resolve computes the subscriber's currently effective tier: selects
// the most recent subscription; if active and not expired, entitlement
// is that plan's tier; otherwise free with no expiry. The subscriber's
// cached premium flag is reconciled in the same call.
func (e *Engine) Resolve(ctx context.Context, subscriberID uuid.UUID) (Decision, error) {
	now := e.clock()
	decision := Decision{Tier: TierFree, Active: true}

	err := e.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		sub, err := repo.GetMostRecentSubscription(ctx, subscriberID)
		if err != nil {
			return apperr.Wrap(apperr.Internal, err, "failed to load subscription")
		}

		if sub != nil && sub.Status == SubscriptionActive && sub.EndTime.After(now) {
			plan, err := repo.GetPlan(ctx, sub.PlanID)
			if err != nil {
				return apperr.Wrap(apperr.Internal, err, "failed to load plan")
			}
			if plan != nil {
				expiry := sub.EndTime
				decision = Decision{Tier: plan.Tier, Active: true, PlanID: plan.ID, Expiry: &expiry}
			}
		} else if sub != nil && sub.Status == SubscriptionActive && !sub.EndTime.After(now) {
			// lazily expire: the subscription's window has elapsed but no
			// background job has flipped its status yet.
			if err := repo.ExpireSubscription(ctx, sub.ID); err != nil {
				return apperr.Wrap(apperr.Internal, err, "failed to expire subscription")
			}
		}

		premiumNow := decision.Tier == TierPaid
		if err := repo.ReconcilePremiumFlag(ctx, subscriberID, premiumNow); err != nil {
			return apperr.Wrap(apperr.Internal, err, "failed to reconcile premium flag")
		}
		return nil
	})
	if err != nil {
		return Decision{}, err
	}

	return decision, nil
}

// Assign creates a pending subscription and a pending payment for the
// given plan. For a zero-priced plan the payment-success callback is
// synthesized immediately.
func (e *Engine) Assign(ctx context.Context, subscriberID, planID uuid.UUID, autoRenew bool, method PaymentMethod) (*Subscription, error) {
	plan, err := e.repo.GetPlan(ctx, planID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to load plan")
	}
	if plan == nil {
		return nil, apperr.New(apperr.NotFound, "plan not found")
	}
	if plan.Retired {
		return nil, apperr.New(apperr.InvalidInput, "plan is retired and cannot be newly assigned")
	}

	sub := &Subscription{
		ID:           uuid.New(),
		SubscriberID: subscriberID,
		PlanID:       planID,
		Status:       SubscriptionPending,
		AutoRenew:    autoRenew,
	}
	pay := &Payment{
		ID:           uuid.New(),
		SubscriberID: subscriberID,
		AmountCents:  plan.PriceCents,
		Method:       method,
		Status:       PaymentPending,
	}
	if err := e.repo.CreatePendingSubscriptionAndPayment(ctx, sub, pay); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to create pending subscription")
	}

	if plan.PriceCents == 0 {
		if err := e.ConfirmPayment(ctx, pay.ID.String(), "success"); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

// ConfirmPayment flips the subscription to active on a successful
// payment callback.
func (e *Engine) ConfirmPayment(ctx context.Context, paymentRef, externalStatus string) error {
	pay, err := e.repo.GetPaymentByRef(ctx, paymentRef)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to load payment")
	}
	if pay == nil {
		return apperr.New(apperr.NotFound, "payment not found")
	}

	status := PaymentFailed
	if externalStatus == "success" {
		status = PaymentSuccess
	}
	if err := e.repo.MarkPaymentStatus(ctx, paymentRef, status, externalStatus); err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to update payment status")
	}
	if status != PaymentSuccess {
		return apperr.New(apperr.PaymentFailed, "payment was not successful")
	}

	sub, err := e.repo.GetSubscriptionByID(ctx, pay.SubscriptionID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to load subscription")
	}
	if sub == nil {
		return apperr.New(apperr.NotFound, "subscription not found")
	}
	plan, err := e.repo.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to load plan")
	}
	if plan == nil {
		return apperr.New(apperr.NotFound, "plan not found")
	}
	now := e.clock()
	end := now.AddDate(0, 0, plan.DurationDays)
	if err := e.repo.ActivateSubscription(ctx, pay.SubscriptionID, now, end); err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to activate subscription")
	}
	return nil
}

// Cancel sets auto_renew=false; access is preserved until end_time, and
// status only becomes canceled at expiry.
func (e *Engine) Cancel(ctx context.Context, subscriptionID uuid.UUID) error {
	if err := e.repo.SetAutoRenew(ctx, subscriptionID, false); err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to cancel auto-renew")
	}
	return nil
}
