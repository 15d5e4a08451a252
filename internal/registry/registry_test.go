package registry

import (
	"context"
	"testing"

	"github.com/ahmadjamalnasir/VPN-backend/internal/apperr"
	"github.com/ahmadjamalnasir/VPN-backend/internal/entitlement"
	"github.com/google/uuid"
)

type fakeRepo struct {
	servers map[uuid.UUID]*Server
	active  map[uuid.UUID]int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{servers: make(map[uuid.UUID]*Server), active: make(map[uuid.UUID]int)}
}

func (f *fakeRepo) List(ctx context.Context, filt Filter) ([]Server, error) {
	var out []Server
	for _, s := range f.servers {
		if filt.Status != "" && s.Status != filt.Status {
			continue
		}
		if filt.Location != "" && s.Location != filt.Location {
			continue
		}
		if filt.Tier != "" && s.Tier != filt.Tier {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}
func (f *fakeRepo) Get(ctx context.Context, id uuid.UUID) (*Server, error) { return f.servers[id], nil }
func (f *fakeRepo) Create(ctx context.Context, s *Server) error           { f.servers[s.ID] = s; return nil }
func (f *fakeRepo) Update(ctx context.Context, s *Server) error           { f.servers[s.ID] = s; return nil }
func (f *fakeRepo) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	f.servers[id].Status = status
	return nil
}
func (f *fakeRepo) HasReferencingSessions(ctx context.Context, id uuid.UUID) (bool, error) {
	return f.active[id] > 0, nil
}
func (f *fakeRepo) Delete(ctx context.Context, id uuid.UUID) error { delete(f.servers, id); return nil }
func (f *fakeRepo) ActiveSessionCount(ctx context.Context, id uuid.UUID) (int, error) {
	return f.active[id], nil
}
func (f *fakeRepo) AdjustLoad(ctx context.Context, id uuid.UUID, delta float64) (*Server, error) {
	s := f.servers[id]
	s.CurrentLoad += delta
	if s.CurrentLoad < 0 {
		s.CurrentLoad = 0
	}
	if s.CurrentLoad > 1 {
		s.CurrentLoad = 1
	}
	return s, nil
}
func (f *fakeRepo) SetLoad(ctx context.Context, id uuid.UUID, load float64) error {
	f.servers[id].CurrentLoad = load
	return nil
}

func mustServer(id uuid.UUID, tier entitlement.Tier, location string, status Status, load float64, ping int, max int) *Server {
	return &Server{ID: id, Tier: tier, Location: location, Status: status, CurrentLoad: load, PingMillis: ping, MaxConnections: max}
}

func TestSelectPrefersLowestLoadThenPing(t *testing.T) {
	repo := newFakeRepo()
	low := mustServer(uuid.New(), entitlement.TierFree, "us", StatusActive, 0.2, 50, 10)
	high := mustServer(uuid.New(), entitlement.TierFree, "us", StatusActive, 0.8, 10, 10)
	repo.servers[low.ID] = low
	repo.servers[high.ID] = high

	reg := New(repo)
	chosen, err := reg.Select(context.Background(), SelectionRequest{CallerTier: entitlement.TierFree})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chosen.ID != low.ID {
		t.Fatalf("expected lowest-load server %s, got %s", low.ID, chosen.ID)
	}
}

func TestSelectFreeCallerExcludesPaidServers(t *testing.T) {
	repo := newFakeRepo()
	paid := mustServer(uuid.New(), entitlement.TierPaid, "us", StatusActive, 0, 0, 10)
	repo.servers[paid.ID] = paid

	reg := New(repo)
	_, err := reg.Select(context.Background(), SelectionRequest{CallerTier: entitlement.TierFree})
	if apperr.KindOf(err) != apperr.NoCapacity {
		t.Fatalf("expected NoCapacity when only a paid server exists for a free caller, got %v", err)
	}
}

func TestSelectRequirePremiumRejectsFreeCaller(t *testing.T) {
	reg := New(newFakeRepo())
	_, err := reg.Select(context.Background(), SelectionRequest{CallerTier: entitlement.TierFree, RequirePremium: true})
	if apperr.KindOf(err) != apperr.PremiumRequired {
		t.Fatalf("expected PremiumRequired, got %v", err)
	}
}

func TestSelectLocationFallsBackWhenExactMatchEmpty(t *testing.T) {
	repo := newFakeRepo()
	s := mustServer(uuid.New(), entitlement.TierFree, "eu", StatusActive, 0, 0, 10)
	repo.servers[s.ID] = s

	reg := New(repo)
	chosen, err := reg.Select(context.Background(), SelectionRequest{CallerTier: entitlement.TierFree, Location: "us"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chosen.ID != s.ID {
		t.Fatalf("expected fallback to unfiltered candidate set, got %v", chosen)
	}
}

func TestSelectExcludesServersAtCapacity(t *testing.T) {
	repo := newFakeRepo()
	full := mustServer(uuid.New(), entitlement.TierFree, "us", StatusActive, 0, 0, 2)
	repo.servers[full.ID] = full
	repo.active[full.ID] = 2

	reg := New(repo)
	_, err := reg.Select(context.Background(), SelectionRequest{CallerTier: entitlement.TierFree})
	if apperr.KindOf(err) != apperr.NoCapacity {
		t.Fatalf("expected NoCapacity for a server at max_connections, got %v", err)
	}
}

func TestDeleteReferencedServerSetsOffline(t *testing.T) {
	repo := newFakeRepo()
	s := mustServer(uuid.New(), entitlement.TierFree, "us", StatusActive, 0, 0, 10)
	repo.servers[s.ID] = s
	repo.active[s.ID] = 1

	reg := New(repo)
	if err := reg.Delete(context.Background(), s.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.servers[s.ID].Status != StatusOffline {
		t.Fatalf("expected referenced server to be set offline, not deleted")
	}
}

func TestDeleteUnreferencedServerRemovesRow(t *testing.T) {
	repo := newFakeRepo()
	s := mustServer(uuid.New(), entitlement.TierFree, "us", StatusActive, 0, 0, 10)
	repo.servers[s.ID] = s

	reg := New(repo)
	if err := reg.Delete(context.Background(), s.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := repo.servers[s.ID]; ok {
		t.Fatalf("expected unreferenced server to be deleted")
	}
}

func TestLoadDeltaFor(t *testing.T) {
	tests := []struct {
		name           string
		maxConnections int
		want           float64
	}{
		{name: "typical pool", maxConnections: 100, want: 0.01},
		{name: "zero is defensive no-op", maxConnections: 0, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LoadDeltaFor(tt.maxConnections); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
