// Package registry implements the Server Registry (SR): the catalog of
// VPN edge servers, their capacity/load bookkeeping, and the selection
// algorithm used by the Session Manager.
package registry

import (
	"context"
	"sort"

	"github.com/ahmadjamalnasir/VPN-backend/internal/apperr"
	"github.com/ahmadjamalnasir/VPN-backend/internal/entitlement"
	"github.com/google/uuid"
)

// Status is a server's administrative/operational state.
type Status string

const (
	StatusActive      Status = "active"
	StatusOffline     Status = "offline"
	StatusMaintenance Status = "maintenance"
)

// Server is a single VPN edge server's catalog record.
type Server struct {
	ID              uuid.UUID
	Name            string
	Endpoint        string
	PublicKey       string
	Location        string
	Tier            entitlement.Tier
	Status          Status
	InTunnelPrefix  string // CIDR owning this server's client address space
	MaxConnections  int
	CurrentLoad     float64 // fraction in [0,1]
	PingMillis      int
}

// Filter narrows list() results.
type Filter struct {
	Status   Status
	Location string
	Tier     entitlement.Tier
}

// SelectionRequest is what the Session Manager supplies to Select.
type SelectionRequest struct {
	CallerTier     entitlement.Tier
	Location       string
	RequirePremium bool
}

// Repository is the persistence contract SR depends on.
type Repository interface {
	List(ctx context.Context, f Filter) ([]Server, error)
	Get(ctx context.Context, id uuid.UUID) (*Server, error)
	Create(ctx context.Context, s *Server) error
	Update(ctx context.Context, s *Server) error
	SetStatus(ctx context.Context, id uuid.UUID, status Status) error
	HasReferencingSessions(ctx context.Context, id uuid.UUID) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// ActiveSessionCount returns the number of currently connected
	// sessions on a server, used both by selection's capacity filter and
	// by the load-reconcile job.
	ActiveSessionCount(ctx context.Context, id uuid.UUID) (int, error)
	// AdjustLoad atomically applies delta to current_load, clamped to
	// [0,1], and returns the resulting row.
	AdjustLoad(ctx context.Context, id uuid.UUID, delta float64) (*Server, error)
	// SetLoad is used by the reconcile job to overwrite the drifted
	// value with a freshly counted one.
	SetLoad(ctx context.Context, id uuid.UUID, load float64) error
}

// tierRank orders free below paid for the "tier <= caller_tier" selection
// comparison.
func tierRank(t entitlement.Tier) int {
	if t == entitlement.TierPaid {
		return 1
	}
	return 0
}

// Registry is the Server Registry.
type Registry struct {
	repo Repository
}

// New constructs a Registry.
func New(repo Repository) *Registry {
	return &Registry{repo: repo}
}

func (r *Registry) List(ctx context.Context, f Filter) ([]Server, error) {
	servers, err := r.repo.List(ctx, f)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to list servers")
	}
	return servers, nil
}

func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*Server, error) {
	s, err := r.repo.Get(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to load server")
	}
	if s == nil {
		return nil, apperr.New(apperr.NotFound, "server not found")
	}
	return s, nil
}

func (r *Registry) Create(ctx context.Context, s *Server) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.MaxConnections <= 0 {
		return apperr.New(apperr.InvalidInput, "max_connections must be positive")
	}
	if s.Status == "" {
		s.Status = StatusActive
	}
	if err := r.repo.Create(ctx, s); err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to persist server")
	}
	return nil
}

func (r *Registry) Update(ctx context.Context, s *Server) error {
	if err := r.repo.Update(ctx, s); err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to update server")
	}
	return nil
}

// Delete removes a server if nothing references it, otherwise marks it
// offline so existing sessions keep resolving their server descriptor.
func (r *Registry) Delete(ctx context.Context, id uuid.UUID) error {
	referenced, err := r.repo.HasReferencingSessions(ctx, id)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to check session references")
	}
	if referenced {
		return r.repo.SetStatus(ctx, id, StatusOffline)
	}
	if err := r.repo.Delete(ctx, id); err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to delete server")
	}
	return nil
}

// AdjustLoad applies an atomic read-modify-write delta to a server's
// current_load, clamped to [0,1].
func (r *Registry) AdjustLoad(ctx context.Context, id uuid.UUID, delta float64) (*Server, error) {
	s, err := r.repo.AdjustLoad(ctx, id, delta)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to adjust server load")
	}
	return s, nil
}

// LoadDeltaFor computes the per-connection load increment for a server
// with the given max_connections: 1/max_connections.
func LoadDeltaFor(maxConnections int) float64 {
	if maxConnections <= 0 {
		return 0
	}
	return 1.0 / float64(maxConnections)
}

// Select filters the active server set by tier eligibility, location,
// and capacity, then returns the least-loaded candidate.
func (r *Registry) Select(ctx context.Context, req SelectionRequest) (*Server, error) {
	if req.RequirePremium && req.CallerTier != entitlement.TierPaid {
		return nil, apperr.New(apperr.PremiumRequired, "premium server requested by non-premium caller").
			WithDetails(map[string]any{"required_tier": string(entitlement.TierPaid)})
	}

	candidates, err := r.repo.List(ctx, Filter{Status: StatusActive})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to list candidate servers")
	}

	eligible := make([]Server, 0, len(candidates))
	for _, s := range candidates {
		if tierRank(s.Tier) <= tierRank(req.CallerTier) {
			eligible = append(eligible, s)
		}
	}

	if req.Location != "" {
		byLocation := filterByLocation(eligible, req.Location)
		if len(byLocation) > 0 {
			eligible = byLocation
		}
		// else: falls back to the unfiltered (tier-filtered) candidate
		// set.
	}

	withCapacity := make([]Server, 0, len(eligible))
	for _, s := range eligible {
		count, err := r.repo.ActiveSessionCount(ctx, s.ID)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, err, "failed to count active sessions")
		}
		if count < s.MaxConnections {
			withCapacity = append(withCapacity, s)
		}
	}

	if len(withCapacity) == 0 {
		return nil, apperr.New(apperr.NoCapacity, "no eligible server has spare capacity")
	}

	sort.Slice(withCapacity, func(i, j int) bool {
		a, b := withCapacity[i], withCapacity[j]
		if a.CurrentLoad != b.CurrentLoad {
			return a.CurrentLoad < b.CurrentLoad
		}
		if a.PingMillis != b.PingMillis {
			return a.PingMillis < b.PingMillis
		}
		return a.ID.String() < b.ID.String()
	})

	chosen := withCapacity[0]
	return &chosen, nil
}

func filterByLocation(servers []Server, location string) []Server {
	out := make([]Server, 0, len(servers))
	for _, s := range servers {
		if s.Location == location {
			out = append(out, s)
		}
	}
	return out
}

// ReconcileLoad recomputes current_load from counted active sessions for
// every server, correcting drift from the non-transactional
// adjust_load/session-insert pairing. Intended to be driven by a
// periodic scheduler job.
func (r *Registry) ReconcileLoad(ctx context.Context) (int, error) {
	servers, err := r.repo.List(ctx, Filter{})
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, err, "failed to list servers for reconcile")
	}
	reconciled := 0
	for _, s := range servers {
		if s.MaxConnections <= 0 {
			continue
		}
		count, err := r.repo.ActiveSessionCount(ctx, s.ID)
		if err != nil {
			return reconciled, apperr.Wrap(apperr.Internal, err, "failed to count active sessions during reconcile")
		}
		load := float64(count) / float64(s.MaxConnections)
		if load > 1 {
			load = 1
		}
		if err := r.repo.SetLoad(ctx, s.ID, load); err != nil {
			return reconciled, apperr.Wrap(apperr.Internal, err, "failed to set reconciled load")
		}
		reconciled++
	}
	return reconciled, nil
}
