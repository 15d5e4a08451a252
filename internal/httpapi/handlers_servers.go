package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ahmadjamalnasir/VPN-backend/internal/apperr"
	"github.com/ahmadjamalnasir/VPN-backend/internal/entitlement"
	"github.com/ahmadjamalnasir/VPN-backend/internal/registry"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type serverResponse struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Location       string  `json:"location"`
	Tier           string  `json:"tier"`
	Status         string  `json:"status"`
	MaxConnections int     `json:"max_connections"`
	CurrentLoad    float64 `json:"current_load"`
	PingMillis     int     `json:"ping_millis"`
}

func toServerResponse(s registry.Server) serverResponse {
	return serverResponse{
		ID:             s.ID.String(),
		Name:           s.Name,
		Location:       s.Location,
		Tier:           string(s.Tier),
		Status:         string(s.Status),
		MaxConnections: s.MaxConnections,
		CurrentLoad:    s.CurrentLoad,
		PingMillis:     s.PingMillis,
	}
}

func (h *Handlers) handleListServers(w http.ResponseWriter, r *http.Request) {
	if !admit(w, r, h.protection, classServersList) {
		return
	}
	f := registry.Filter{
		Status:   registry.Status(r.URL.Query().Get("status")),
		Location: r.URL.Query().Get("location"),
		Tier:     entitlement.Tier(r.URL.Query().Get("tier")),
	}
	servers, err := h.registry.List(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]serverResponse, 0, len(servers))
	for _, s := range servers {
		out = append(out, toServerResponse(s))
	}
	writeJSON(w, http.StatusOK, out)
}

type createServerRequest struct {
	Name           string `json:"name"`
	Endpoint       string `json:"endpoint"`
	PublicKey      string `json:"public_key"`
	Location       string `json:"location"`
	Tier           string `json:"tier"`
	InTunnelPrefix string `json:"in_tunnel_prefix"`
	MaxConnections int    `json:"max_connections"`
}

func (h *Handlers) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var req createServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.InvalidInput, "malformed request body"))
		return
	}
	s := &registry.Server{
		Name:           req.Name,
		Endpoint:       req.Endpoint,
		PublicKey:      req.PublicKey,
		Location:       req.Location,
		Tier:           entitlement.Tier(req.Tier),
		InTunnelPrefix: req.InTunnelPrefix,
		MaxConnections: req.MaxConnections,
	}
	if err := h.registry.Create(r.Context(), s); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toServerResponse(*s))
}

func (h *Handlers) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "serverID"))
	if err != nil {
		writeError(w, apperr.New(apperr.InvalidInput, "malformed server id"))
		return
	}
	existing, err := h.registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	var req createServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.InvalidInput, "malformed request body"))
		return
	}
	existing.Name = req.Name
	existing.Endpoint = req.Endpoint
	existing.PublicKey = req.PublicKey
	existing.Location = req.Location
	existing.Tier = entitlement.Tier(req.Tier)
	existing.InTunnelPrefix = req.InTunnelPrefix
	existing.MaxConnections = req.MaxConnections

	if err := h.registry.Update(r.Context(), existing); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toServerResponse(*existing))
}

func (h *Handlers) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "serverID"))
	if err != nil {
		writeError(w, apperr.New(apperr.InvalidInput, "malformed server id"))
		return
	}
	if err := h.registry.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
