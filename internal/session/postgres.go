package session

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository via direct SQL over pgx. The
// one-connected-session-per-subscriber invariant is enforced by a
// partial unique index (`sessions (subscriber_id) WHERE status =
// 'connected'`) rather than application-level locking.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const sessionColumns = `id, subscriber_id, server_id, client_address, status, started_at, ended_at, bytes_sent, bytes_received, last_heartbeat_at, ended_by`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	var clientAddr string
	var endedAt, lastHeartbeat *time.Time
	var endedBy *string
	err := row.Scan(&s.ID, &s.SubscriberID, &s.ServerID, &clientAddr, &s.Status, &s.StartedAt, &endedAt, &s.BytesSent, &s.BytesReceived, &lastHeartbeat, &endedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if addr, parseErr := netip.ParseAddr(clientAddr); parseErr == nil {
		s.ClientAddress = addr
	}
	if endedAt != nil {
		s.EndedAt = *endedAt
	}
	if lastHeartbeat != nil {
		s.LastHeartbeatAt = *lastHeartbeat
	}
	if endedBy != nil {
		s.EndedBy = EndedBy(*endedBy)
	}
	return &s, nil
}

func (r *PostgresRepository) GetConnected(ctx context.Context, subscriberID uuid.UUID) (*Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE subscriber_id = $1 AND status = 'connected'`
	return scanSession(r.pool.QueryRow(ctx, q, subscriberID))
}

func (r *PostgresRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSession(r.pool.QueryRow(ctx, q, sessionID))
}

func (r *PostgresRepository) LatestForSubscriber(ctx context.Context, subscriberID uuid.UUID) (*Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE subscriber_id = $1 ORDER BY started_at DESC LIMIT 1`
	return scanSession(r.pool.QueryRow(ctx, q, subscriberID))
}

func (r *PostgresRepository) LeasedAddresses(ctx context.Context, serverID uuid.UUID) (map[netip.Addr]bool, error) {
	rows, err := r.pool.Query(ctx, `SELECT client_address FROM sessions WHERE server_id = $1 AND status = 'connected'`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leased := make(map[netip.Addr]bool)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		if addr, err := netip.ParseAddr(raw); err == nil {
			leased[addr] = true
		}
	}
	return leased, rows.Err()
}

// Create inserts a connected session. A unique-violation on the partial
// index surfaces as a plain error here; Manager.Connect translates it to
// AlreadyConnected.
func (r *PostgresRepository) Create(ctx context.Context, s *Session) error {
	const q = `
		INSERT INTO sessions (id, subscriber_id, server_id, client_address, status, started_at, last_heartbeat_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, q, s.ID, s.SubscriberID, s.ServerID, s.ClientAddress.String(), s.Status, s.StartedAt, s.LastHeartbeatAt)
	return err
}

func (r *PostgresRepository) Disconnect(ctx context.Context, sessionID uuid.UUID, endedAt time.Time, bytesSent, bytesReceived int64, endedBy EndedBy) error {
	const q = `
		UPDATE sessions SET status = 'disconnected', ended_at = $2, bytes_sent = $3, bytes_received = $4, ended_by = $5
		WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, sessionID, endedAt, bytesSent, bytesReceived, endedBy)
	return err
}

func (r *PostgresRepository) StaleConnected(ctx context.Context, heartbeatBefore time.Time) ([]Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE status = 'connected' AND last_heartbeat_at < $1`
	rows, err := r.pool.Query(ctx, q, heartbeatBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		if s != nil {
			out = append(out, *s)
		}
	}
	return out, rows.Err()
}

func (r *PostgresRepository) OpenUsageLog(ctx context.Context, sessionID uuid.UUID, connectedAt time.Time) error {
	const q = `INSERT INTO usage_logs (session_id, connected_at) VALUES ($1, $2)`
	_, err := r.pool.Exec(ctx, q, sessionID, connectedAt)
	return err
}

func (r *PostgresRepository) CloseUsageLog(ctx context.Context, sessionID uuid.UUID, disconnectedAt time.Time, dataMB float64) error {
	const q = `UPDATE usage_logs SET disconnected_at = $2, data_mb = $3 WHERE session_id = $1`
	_, err := r.pool.Exec(ctx, q, sessionID, disconnectedAt, dataMB)
	return err
}

func (r *PostgresRepository) CountConnected(ctx context.Context) (int, error) {
	const q = `SELECT COUNT(*) FROM sessions WHERE status = $1`
	var count int
	err := r.pool.QueryRow(ctx, q, StatusConnected).Scan(&count)
	return count, err
}
