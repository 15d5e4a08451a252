package entitlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting
// PostgresRepository's query methods run unmodified against either a
// pool connection or a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository implements Repository via direct SQL over pgx,
// following the same no-ORM discipline as identity's repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
	q    querier
}

// NewPostgresRepository wraps an existing pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool, q: pool}
}

// WithTx begins a transaction, runs fn against a repository bound to
// it, and commits on success or rolls back otherwise. Resolve uses
// this so the subscription read, the lazy expiry, and the premium-flag
// reconcile it drives land in one transaction.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	txRepo := &PostgresRepository{pool: r.pool, q: tx}
	if err := fn(ctx, txRepo); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const subscriptionColumns = `id, subscriber_id, plan_id, start_time, end_time, status, auto_renew`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var s Subscription
	err := row.Scan(&s.ID, &s.SubscriberID, &s.PlanID, &s.StartTime, &s.EndTime, &s.Status, &s.AutoRenew)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PostgresRepository) GetMostRecentSubscription(ctx context.Context, subscriberID uuid.UUID) (*Subscription, error) {
	const q = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE subscriber_id = $1 ORDER BY start_time DESC LIMIT 1`
	return scanSubscription(r.q.QueryRow(ctx, q, subscriberID))
}

func (r *PostgresRepository) GetSubscriptionByID(ctx context.Context, subscriptionID uuid.UUID) (*Subscription, error) {
	const q = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	return scanSubscription(r.q.QueryRow(ctx, q, subscriptionID))
}

func (r *PostgresRepository) GetPlan(ctx context.Context, planID uuid.UUID) (*Plan, error) {
	const q = `SELECT id, name, tier, price_cents, duration_days, features, retired FROM plans WHERE id = $1`
	row := r.q.QueryRow(ctx, q, planID)
	var p Plan
	err := row.Scan(&p.ID, &p.Name, &p.Tier, &p.PriceCents, &p.DurationDays, &p.Features, &p.Retired)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PostgresRepository) CreatePendingSubscriptionAndPayment(ctx context.Context, sub *Subscription, pay *Payment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const subQ = `
		INSERT INTO subscriptions (id, subscriber_id, plan_id, status, auto_renew)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.Exec(ctx, subQ, sub.ID, sub.SubscriberID, sub.PlanID, sub.Status, sub.AutoRenew); err != nil {
		return err
	}

	pay.SubscriptionID = sub.ID
	const payQ = `
		INSERT INTO payments (id, subscriber_id, subscription_id, amount_cents, method, status)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := tx.Exec(ctx, payQ, pay.ID, pay.SubscriberID, pay.SubscriptionID, pay.AmountCents, pay.Method, pay.Status); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *PostgresRepository) ActivateSubscription(ctx context.Context, subscriptionID uuid.UUID, start, end time.Time) error {
	const q = `UPDATE subscriptions SET status = $2, start_time = $3, end_time = $4 WHERE id = $1`
	_, err := r.q.Exec(ctx, q, subscriptionID, SubscriptionActive, start, end)
	return err
}

func (r *PostgresRepository) MarkPaymentStatus(ctx context.Context, paymentRef string, status PaymentStatus, externalRef string) error {
	const q = `UPDATE payments SET status = $2, external_ref = $3 WHERE id = $1`
	_, err := r.q.Exec(ctx, q, paymentRef, status, externalRef)
	return err
}

func (r *PostgresRepository) GetPaymentByRef(ctx context.Context, paymentRef string) (*Payment, error) {
	const q = `SELECT id, subscriber_id, subscription_id, amount_cents, method, status, external_ref FROM payments WHERE id = $1`
	row := r.q.QueryRow(ctx, q, paymentRef)
	var p Payment
	err := row.Scan(&p.ID, &p.SubscriberID, &p.SubscriptionID, &p.AmountCents, &p.Method, &p.Status, &p.ExternalRef)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PostgresRepository) SetAutoRenew(ctx context.Context, subscriptionID uuid.UUID, autoRenew bool) error {
	_, err := r.q.Exec(ctx, `UPDATE subscriptions SET auto_renew = $2 WHERE id = $1`, subscriptionID, autoRenew)
	return err
}

func (r *PostgresRepository) ExpireSubscription(ctx context.Context, subscriptionID uuid.UUID) error {
	_, err := r.q.Exec(ctx, `UPDATE subscriptions SET status = $2 WHERE id = $1`, subscriptionID, SubscriptionExpired)
	return err
}

func (r *PostgresRepository) ReconcilePremiumFlag(ctx context.Context, subscriberID uuid.UUID, premium bool) error {
	_, err := r.q.Exec(ctx, `UPDATE subscribers SET premium = $2 WHERE id = $1`, subscriberID, premium)
	return err
}
