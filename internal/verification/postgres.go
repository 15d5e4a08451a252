package verification

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository via direct SQL over pgx. The
// one-unconsumed-code-per-(email,purpose) invariant is enforced by a
// partial unique index, mirroring the session invariant's shape.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) InvalidatePrior(ctx context.Context, email string, purpose Purpose) error {
	const q = `UPDATE verification_codes SET consumed = true WHERE email = $1 AND purpose = $2 AND consumed = false`
	_, err := r.pool.Exec(ctx, q, email, purpose)
	return err
}

func (r *PostgresRepository) Create(ctx context.Context, c *Code) error {
	const q = `
		INSERT INTO verification_codes (id, email, purpose, code_hash, attempts, consumed, expires_at, created_at)
		VALUES ($1, $2, $3, $4, 0, false, $5, $6)`
	c.ID = uuid.New().String()
	_, err := r.pool.Exec(ctx, q, c.ID, c.Email, c.Purpose, c.CodeHash, c.ExpiresAt, c.CreatedAt)
	return err
}

func (r *PostgresRepository) GetActive(ctx context.Context, email string, purpose Purpose) (*Code, error) {
	const q = `
		SELECT id, email, purpose, code_hash, attempts, consumed, expires_at, created_at
		FROM verification_codes
		WHERE email = $1 AND purpose = $2 AND consumed = false
		ORDER BY created_at DESC LIMIT 1`
	row := r.pool.QueryRow(ctx, q, email, purpose)
	var c Code
	err := row.Scan(&c.ID, &c.Email, &c.Purpose, &c.CodeHash, &c.Attempts, &c.Consumed, &c.ExpiresAt, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *PostgresRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	const q = `UPDATE verification_codes SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts`
	err := r.pool.QueryRow(ctx, q, id).Scan(&attempts)
	return attempts, err
}

func (r *PostgresRepository) MarkConsumed(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE verification_codes SET consumed = true WHERE id = $1`, id)
	return err
}

func (r *PostgresRepository) Invalidate(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE verification_codes SET consumed = true WHERE id = $1`, id)
	return err
}
