// Package session implements the Session Manager (SM): the per-subscriber
// connect/disconnect state machine and its tunnel-configuration rendering.
package session

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/ahmadjamalnasir/VPN-backend/internal/apperr"
	"github.com/ahmadjamalnasir/VPN-backend/internal/entitlement"
	"github.com/ahmadjamalnasir/VPN-backend/internal/identity"
	"github.com/ahmadjamalnasir/VPN-backend/internal/kv"
	"github.com/ahmadjamalnasir/VPN-backend/internal/registry"
	"github.com/ahmadjamalnasir/VPN-backend/internal/store"
	"github.com/google/uuid"
)

// Status is the session's place in the Idle → Connected → Disconnected
// state machine.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// EndedBy records why a connected session stopped.
type EndedBy string

const (
	EndedByClient  EndedBy = "client"
	EndedByTimeout EndedBy = "timeout"
)

// Session is a single connect/disconnect lifecycle record.
type Session struct {
	ID              uuid.UUID
	SubscriberID    uuid.UUID
	ServerID        uuid.UUID
	ClientAddress   netip.Addr
	Status          Status
	StartedAt       time.Time
	EndedAt         time.Time
	BytesSent       int64
	BytesReceived   int64
	LastHeartbeatAt time.Time
	EndedBy         EndedBy
}

// Summary is what Disconnect returns to the caller.
type Summary struct {
	SessionID     uuid.UUID
	Duration      time.Duration
	BytesSent     int64
	BytesReceived int64
	AverageMbps   float64
}

// Snapshot is what Status (and the metrics push channel) return.
type Snapshot struct {
	Session      Session
	Server       registry.Server
	Duration     time.Duration
	AverageMbps  float64
	ServerLoad   float64
	ServerPing   int
}

// ConnectRequest carries Connect's inputs.
type ConnectRequest struct {
	SubscriberHandle int64
	Location         string
	ClientPublicKey  string
	RequirePremium   bool
}

// TunnelConfig is the rendered configuration blob handed to the client.
type TunnelConfig struct {
	ClientAddress   netip.Addr
	ServerEndpoint  string
	ServerPublicKey string
	DNS             []string
	AllowedIPs      string
}

// Render produces the WireGuard-style config text: a private-key
// placeholder left for the client to fill, a DNS pair, and a single
// catch-all peer block.
func (c TunnelConfig) Render() string {
	return fmt.Sprintf(
		"[Interface]\nPrivateKey = <client_private_key>\nAddress = %s/32\nDNS = %s\n\n[Peer]\nPublicKey = %s\nEndpoint = %s\nAllowedIPs = %s\n",
		c.ClientAddress, joinCSV(c.DNS), c.ServerPublicKey, c.ServerEndpoint, c.AllowedIPs,
	)
}

func joinCSV(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += ", "
		}
		out += item
	}
	return out
}

// Repository is the persistence contract SM depends on.
type Repository interface {
	// GetConnected returns the subscriber's connected session, if any.
	// The lookup and the subsequent insert in Connect rely on a partial
	// unique index (subscriber_id where status='connected') to serialize
	// concurrent connect attempts.
	GetConnected(ctx context.Context, subscriberID uuid.UUID) (*Session, error)
	GetByID(ctx context.Context, sessionID uuid.UUID) (*Session, error)
	LatestForSubscriber(ctx context.Context, subscriberID uuid.UUID) (*Session, error)
	LeasedAddresses(ctx context.Context, serverID uuid.UUID) (map[netip.Addr]bool, error)
	// Create returns an error if the partial unique index rejects a
	// second connected row for the subscriber; Connect reports that error
	// as AlreadyConnected.
	Create(ctx context.Context, s *Session) error
	Disconnect(ctx context.Context, sessionID uuid.UUID, endedAt time.Time, bytesSent, bytesReceived int64, endedBy EndedBy) error
	StaleConnected(ctx context.Context, heartbeatBefore time.Time) ([]Session, error)
	OpenUsageLog(ctx context.Context, sessionID uuid.UUID, connectedAt time.Time) error
	CloseUsageLog(ctx context.Context, sessionID uuid.UUID, disconnectedAt time.Time, dataMB float64) error
	// CountConnected returns the number of sessions currently in the
	// connected state, for the operator aggregate feed.
	CountConnected(ctx context.Context) (int, error)
}

// Manager is the Session Manager.
type Manager struct {
	repo     Repository
	identity *identity.Store
	ee       *entitlement.Engine
	servers  *registry.Registry
	locks    kv.Store
	clock    func() time.Time
	dns      []string
}

// New constructs a Manager.
func New(repo Repository, identityStore *identity.Store, ee *entitlement.Engine, servers *registry.Registry, locks kv.Store) *Manager {
	return &Manager{
		repo:     repo,
		identity: identityStore,
		ee:       ee,
		servers:  servers,
		locks:    locks,
		clock:    time.Now,
		dns:      []string{"1.1.1.1", "1.0.0.1"},
	}
}

func connectLockKey(subscriberID uuid.UUID) string {
	return fmt.Sprintf("session:connect_lock:%s", subscriberID)
}

// Connect validates the subscriber and their entitlement, selects a
// server, leases a client address, persists the new session, and renders
// the resulting tunnel configuration.
func (m *Manager) Connect(ctx context.Context, req ConnectRequest) (*Session, *registry.Server, TunnelConfig, error) {
	sub, err := m.identity.GetByHandle(ctx, req.SubscriberHandle)
	if err != nil {
		return nil, nil, TunnelConfig{}, apperr.Wrap(apperr.NotFound, err, "unknown subscriber")
	}
	if !sub.Active {
		return nil, nil, TunnelConfig{}, apperr.New(apperr.Disabled, "account disabled")
	}
	if !sub.Verified {
		return nil, nil, TunnelConfig{}, apperr.New(apperr.Unverified, "email not verified")
	}

	decision, err := m.ee.Resolve(ctx, sub.ID)
	if err != nil {
		return nil, nil, TunnelConfig{}, err
	}
	if req.RequirePremium && decision.Tier != entitlement.TierPaid {
		return nil, nil, TunnelConfig{}, apperr.New(apperr.PremiumRequired, "premium server requires an active paid subscription").
			WithDetails(map[string]any{"required_tier": string(entitlement.TierPaid)})
	}

	// Single-flight lock serializes concurrent connect calls for the
	// same subscriber ahead of the partial-unique-index check, so two
	// racing requests don't both pay for server selection before one
	// loses to the database constraint.
	lockKey := connectLockKey(sub.ID)
	acquired, err := m.locks.AcquireLock(ctx, lockKey, 10*time.Second)
	if err != nil {
		return nil, nil, TunnelConfig{}, apperr.Wrap(apperr.Internal, err, "failed to acquire connect lock")
	}
	if !acquired {
		err := apperr.New(apperr.AlreadyConnected, "a connection attempt is already in progress")
		if existing, getErr := m.repo.GetConnected(ctx, sub.ID); getErr == nil && existing != nil {
			err = err.WithDetails(map[string]any{"session_id": existing.ID.String()})
		}
		return nil, nil, TunnelConfig{}, err
	}
	defer func() { _ = m.locks.ReleaseLock(ctx, lockKey) }()

	existing, err := m.repo.GetConnected(ctx, sub.ID)
	if err != nil {
		return nil, nil, TunnelConfig{}, apperr.Wrap(apperr.Internal, err, "failed to check for existing session")
	}
	if existing != nil {
		return nil, nil, TunnelConfig{}, apperr.New(apperr.AlreadyConnected, "subscriber already has a connected session").
			WithDetails(map[string]any{"session_id": existing.ID.String()})
	}

	server, err := m.servers.Select(ctx, registry.SelectionRequest{
		CallerTier:     decision.Tier,
		Location:       req.Location,
		RequirePremium: req.RequirePremium,
	})
	if err != nil {
		return nil, nil, TunnelConfig{}, err
	}

	pool, err := registry.NewAddressPool(server.InTunnelPrefix)
	if err != nil {
		return nil, nil, TunnelConfig{}, apperr.Wrap(apperr.Internal, err, "failed to build address pool")
	}
	leased, err := m.repo.LeasedAddresses(ctx, server.ID)
	if err != nil {
		return nil, nil, TunnelConfig{}, apperr.Wrap(apperr.Internal, err, "failed to load leased addresses")
	}
	clientAddr, err := pool.Allocate(leased)
	if err != nil {
		return nil, nil, TunnelConfig{}, err
	}

	now := m.clock()
	sess := &Session{
		ID:            uuid.New(),
		SubscriberID:  sub.ID,
		ServerID:      server.ID,
		ClientAddress: clientAddr,
		Status:        StatusConnected,
		StartedAt:     now,
		LastHeartbeatAt: now,
	}
	if err := m.repo.Create(ctx, sess); err != nil {
		wrapped := apperr.Wrap(apperr.AlreadyConnected, err, "failed to create session")
		if existing, getErr := m.repo.GetConnected(ctx, sub.ID); getErr == nil && existing != nil {
			wrapped = wrapped.WithDetails(map[string]any{"session_id": existing.ID.String()})
		}
		return nil, nil, TunnelConfig{}, wrapped
	}

	if _, err := m.servers.AdjustLoad(ctx, server.ID, registry.LoadDeltaFor(server.MaxConnections)); err != nil {
		return nil, nil, TunnelConfig{}, err
	}
	if err := m.repo.OpenUsageLog(ctx, sess.ID, now); err != nil {
		return nil, nil, TunnelConfig{}, apperr.Wrap(apperr.Internal, err, "failed to open usage log")
	}

	cfg := TunnelConfig{
		ClientAddress:   clientAddr,
		ServerEndpoint:  server.Endpoint,
		ServerPublicKey: server.PublicKey,
		DNS:             m.dns,
		AllowedIPs:      "0.0.0.0/0",
	}
	return sess, server, cfg, nil
}

// Disconnect closes a session, releases its server capacity, and
// returns a usage summary.
func (m *Manager) Disconnect(ctx context.Context, sessionID uuid.UUID, subscriberID uuid.UUID, bytesSent, bytesReceived int64) (*Summary, error) {
	sess, err := m.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to load session")
	}
	if sess == nil || sess.SubscriberID != subscriberID {
		return nil, apperr.New(apperr.NotFound, "session not found")
	}
	if sess.Status != StatusConnected {
		return nil, apperr.New(apperr.NotConnected, "session is not connected")
	}

	now := m.clock()
	duration := now.Sub(sess.StartedAt)
	if err := store.WithRetry(ctx, func(ctx context.Context) error {
		return m.repo.Disconnect(ctx, sessionID, now, bytesSent, bytesReceived, EndedByClient)
	}); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to disconnect session")
	}

	server, err := m.servers.Get(ctx, sess.ServerID)
	if err != nil {
		return nil, err
	}
	if _, err := m.servers.AdjustLoad(ctx, sess.ServerID, -registry.LoadDeltaFor(server.MaxConnections)); err != nil {
		return nil, err
	}

	dataMB := float64(bytesSent+bytesReceived) / (1 << 20)
	if err := m.repo.CloseUsageLog(ctx, sessionID, now, dataMB); err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to close usage log")
	}

	return &Summary{
		SessionID:     sessionID,
		Duration:      duration,
		BytesSent:     bytesSent,
		BytesReceived: bytesReceived,
		AverageMbps:   averageMbps(bytesSent+bytesReceived, duration),
	}, nil
}

// averageMbps computes total_bytes × 8 / duration / 10^6.
func averageMbps(totalBytes int64, duration time.Duration) float64 {
	seconds := duration.Seconds()
	if seconds <= 0 {
		return 0
	}
	return float64(totalBytes) * 8 / seconds / 1e6
}

// Status returns the snapshot for a subscriber's session, or their
// latest session if sessionID is the zero value.
func (m *Manager) Status(ctx context.Context, subscriberID uuid.UUID, sessionID uuid.UUID) (*Snapshot, error) {
	var sess *Session
	var err error
	if sessionID == uuid.Nil {
		sess, err = m.repo.LatestForSubscriber(ctx, subscriberID)
	} else {
		sess, err = m.repo.GetByID(ctx, sessionID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to load session")
	}
	if sess == nil || sess.SubscriberID != subscriberID {
		return nil, apperr.New(apperr.NotFound, "session not found")
	}

	server, err := m.servers.Get(ctx, sess.ServerID)
	if err != nil {
		return nil, err
	}

	end := m.clock()
	if sess.Status == StatusDisconnected {
		end = sess.EndedAt
	}
	duration := end.Sub(sess.StartedAt)

	return &Snapshot{
		Session:     *sess,
		Server:      *server,
		Duration:    duration,
		AverageMbps: averageMbps(sess.BytesSent+sess.BytesReceived, duration),
		ServerLoad:  server.CurrentLoad,
		ServerPing:  server.PingMillis,
	}, nil
}

// Reconcile force-disconnects connected sessions whose last heartbeat is
// older than staleThreshold.
func (m *Manager) Reconcile(ctx context.Context, staleThreshold time.Duration) (int, error) {
	cutoff := m.clock().Add(-staleThreshold)
	stale, err := m.repo.StaleConnected(ctx, cutoff)
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, err, "failed to list stale sessions")
	}

	now := m.clock()
	reconciled := 0
	for _, sess := range stale {
		if err := m.repo.Disconnect(ctx, sess.ID, now, sess.BytesSent, sess.BytesReceived, EndedByTimeout); err != nil {
			return reconciled, apperr.Wrap(apperr.Internal, err, "failed to force-disconnect stale session")
		}
		server, err := m.servers.Get(ctx, sess.ServerID)
		if err != nil {
			return reconciled, err
		}
		if _, err := m.servers.AdjustLoad(ctx, sess.ServerID, -registry.LoadDeltaFor(server.MaxConnections)); err != nil {
			return reconciled, err
		}
		dataMB := float64(sess.BytesSent+sess.BytesReceived) / (1 << 20)
		if err := m.repo.CloseUsageLog(ctx, sess.ID, now, dataMB); err != nil {
			return reconciled, apperr.Wrap(apperr.Internal, err, "failed to close usage log for stale session")
		}
		reconciled++
	}
	return reconciled, nil
}

// CountActive returns the number of sessions currently connected,
// sampled by the operator aggregate feed.
func (m *Manager) CountActive(ctx context.Context) (int, error) {
	count, err := m.repo.CountConnected(ctx)
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, err, "failed to count connected sessions")
	}
	return count, nil
}
