package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository via direct SQL over pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const serverColumns = `id, name, endpoint, public_key, location, tier, status, in_tunnel_prefix, max_connections, current_load, ping_millis`

func scanServer(row pgx.Row) (*Server, error) {
	var s Server
	err := row.Scan(&s.ID, &s.Name, &s.Endpoint, &s.PublicKey, &s.Location, &s.Tier, &s.Status, &s.InTunnelPrefix, &s.MaxConnections, &s.CurrentLoad, &s.PingMillis)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PostgresRepository) List(ctx context.Context, f Filter) ([]Server, error) {
	q := `SELECT ` + serverColumns + ` FROM servers WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		args = append(args, f.Status)
		q += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Location != "" {
		args = append(args, f.Location)
		q += fmt.Sprintf(" AND location = $%d", len(args))
	}
	if f.Tier != "" {
		args = append(args, f.Tier)
		q += fmt.Sprintf(" AND tier = $%d", len(args))
	}
	q += " ORDER BY current_load ASC, ping_millis ASC, id ASC"

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Server
	for rows.Next() {
		var s Server
		if err := rows.Scan(&s.ID, &s.Name, &s.Endpoint, &s.PublicKey, &s.Location, &s.Tier, &s.Status, &s.InTunnelPrefix, &s.MaxConnections, &s.CurrentLoad, &s.PingMillis); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*Server, error) {
	return scanServer(r.pool.QueryRow(ctx, `SELECT `+serverColumns+` FROM servers WHERE id = $1`, id))
}

func (r *PostgresRepository) Create(ctx context.Context, s *Server) error {
	const q = `
		INSERT INTO servers (id, name, endpoint, public_key, location, tier, status, in_tunnel_prefix, max_connections, current_load, ping_millis)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10)`
	_, err := r.pool.Exec(ctx, q, s.ID, s.Name, s.Endpoint, s.PublicKey, s.Location, s.Tier, s.Status, s.InTunnelPrefix, s.MaxConnections, s.PingMillis)
	return err
}

func (r *PostgresRepository) Update(ctx context.Context, s *Server) error {
	const q = `
		UPDATE servers SET name=$2, endpoint=$3, public_key=$4, location=$5, tier=$6, status=$7,
			in_tunnel_prefix=$8, max_connections=$9, ping_millis=$10
		WHERE id=$1`
	_, err := r.pool.Exec(ctx, q, s.ID, s.Name, s.Endpoint, s.PublicKey, s.Location, s.Tier, s.Status, s.InTunnelPrefix, s.MaxConnections, s.PingMillis)
	return err
}

func (r *PostgresRepository) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	_, err := r.pool.Exec(ctx, `UPDATE servers SET status = $2 WHERE id = $1`, id, status)
	return err
}

func (r *PostgresRepository) HasReferencingSessions(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM sessions WHERE server_id = $1`, id).Scan(&count)
	return count > 0, err
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM servers WHERE id = $1`, id)
	return err
}

func (r *PostgresRepository) ActiveSessionCount(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM sessions WHERE server_id = $1 AND status = 'connected'`, id).Scan(&count)
	return count, err
}

// AdjustLoad performs an atomic read-modify-write, clamping the result
// to [0,1] inside the same statement so concurrent adjustments never
// need an application-level lock.
func (r *PostgresRepository) AdjustLoad(ctx context.Context, id uuid.UUID, delta float64) (*Server, error) {
	const q = `
		UPDATE servers
		SET current_load = GREATEST(0, LEAST(1, current_load + $2))
		WHERE id = $1
		RETURNING ` + serverColumns
	return scanServer(r.pool.QueryRow(ctx, q, id, delta))
}

func (r *PostgresRepository) SetLoad(ctx context.Context, id uuid.UUID, load float64) error {
	_, err := r.pool.Exec(ctx, `UPDATE servers SET current_load = $2 WHERE id = $1`, id, load)
	return err
}
