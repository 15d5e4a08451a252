package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository against the relational store
// using direct SQL over pgx, with no ORM.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository wraps an existing pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Create(ctx context.Context, s *Subscriber) error {
	const q = `
		INSERT INTO subscribers (id, email, password_hash, display_name, phone, country, verified, active, premium, superuser, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING handle`
	return r.pool.QueryRow(ctx, q, s.ID, s.Email, s.PasswordHash, s.DisplayName, s.Phone, s.Country, s.Verified, s.Active, s.Premium, s.Superuser, s.CreatedAt).Scan(&s.Handle)
}

func (r *PostgresRepository) scanOne(ctx context.Context, query string, args ...any) (*Subscriber, error) {
	row := r.pool.QueryRow(ctx, query, args...)
	var s Subscriber
	err := row.Scan(&s.ID, &s.Handle, &s.Email, &s.PasswordHash, &s.DisplayName, &s.Phone, &s.Country, &s.Verified, &s.Active, &s.Premium, &s.Superuser, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

const subscriberColumns = `id, handle, email, password_hash, display_name, phone, country, verified, active, premium, superuser, created_at`

func (r *PostgresRepository) GetByEmail(ctx context.Context, emailLower string) (*Subscriber, error) {
	return r.scanOne(ctx, `SELECT `+subscriberColumns+` FROM subscribers WHERE email = $1`, emailLower)
}

func (r *PostgresRepository) GetByHandle(ctx context.Context, handle int64) (*Subscriber, error) {
	return r.scanOne(ctx, `SELECT `+subscriberColumns+` FROM subscribers WHERE handle = $1`, handle)
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Subscriber, error) {
	return r.scanOne(ctx, `SELECT `+subscriberColumns+` FROM subscribers WHERE id = $1`, id)
}

func (r *PostgresRepository) UpdateProfile(ctx context.Context, id uuid.UUID, displayName, phone, country string) error {
	const q = `UPDATE subscribers SET display_name = $2, phone = $3, country = $4 WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, displayName, phone, country)
	return err
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, active, premium, superuser *bool) error {
	const q = `
		UPDATE subscribers SET
			active = COALESCE($2, active),
			premium = COALESCE($3, premium),
			superuser = COALESCE($4, superuser)
		WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, active, premium, superuser)
	return err
}

func (r *PostgresRepository) SetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	_, err := r.pool.Exec(ctx, `UPDATE subscribers SET password_hash = $2 WHERE id = $1`, id, passwordHash)
	return err
}

func (r *PostgresRepository) SetVerified(ctx context.Context, id uuid.UUID, verified bool) error {
	_, err := r.pool.Exec(ctx, `UPDATE subscribers SET verified = $2 WHERE id = $1`, id, verified)
	return err
}

func (r *PostgresRepository) CountActive(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM subscribers WHERE active = true`).Scan(&count)
	return count, err
}

// ReconcilePremiumFlag updates the cached premium bit in the same
// transaction as an entitlement resolution, since the flag is a cache
// that must stay consistent with its source of truth. It takes a caller's
// pgx.Tx rather than sitting on Repository. Nothing in this module calls
// it: the Entitlement Engine reconciles the flag through its own
// Repository.ReconcilePremiumFlag.
func ReconcilePremiumFlag(ctx context.Context, tx pgx.Tx, id uuid.UUID, premium bool) error {
	_, err := tx.Exec(ctx, `UPDATE subscribers SET premium = $2 WHERE id = $1`, id, premium)
	return err
}
