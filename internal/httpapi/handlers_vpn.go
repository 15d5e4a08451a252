package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ahmadjamalnasir/VPN-backend/internal/apperr"
	"github.com/ahmadjamalnasir/VPN-backend/internal/authtoken"
	"github.com/ahmadjamalnasir/VPN-backend/internal/observability"
	"github.com/ahmadjamalnasir/VPN-backend/internal/session"
	"github.com/google/uuid"
)

type connectRequest struct {
	Location        string `json:"location"`
	ClientPublicKey string `json:"client_public_key"`
	RequirePremium  bool   `json:"require_premium"`
}

type connectResponse struct {
	SessionID  string `json:"session_id"`
	ServerID   string `json:"server_id"`
	ServerName string `json:"server_name"`
	Config     string `json:"config"`
}

func (h *Handlers) handleConnect(w http.ResponseWriter, r *http.Request) {
	if !admit(w, r, h.protection, classVPNConnect) {
		return
	}
	claims, ok := authtoken.FromContext(r.Context())
	if !ok {
		writeError(w, apperr.New(apperr.Unauthenticated, "missing bearer token"))
		return
	}
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.InvalidInput, "malformed request body"))
		return
	}

	started := time.Now()
	sess, server, cfg, err := h.sessions.Connect(r.Context(), session.ConnectRequest{
		SubscriberHandle: claims.Handle,
		Location:         req.Location,
		ClientPublicKey:  req.ClientPublicKey,
		RequirePremium:   req.RequirePremium,
	})
	observability.RecordSessionConnect(time.Since(started), err, string(apperr.KindOf(err)))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, connectResponse{
		SessionID:  sess.ID.String(),
		ServerID:   server.ID.String(),
		ServerName: server.Name,
		Config:     cfg.Render(),
	})
}

type disconnectRequest struct {
	SessionID     string `json:"session_id"`
	BytesSent     int64  `json:"bytes_sent"`
	BytesReceived int64  `json:"bytes_received"`
}

func (h *Handlers) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if !admit(w, r, h.protection, classVPNDisconnect) {
		return
	}
	claims, ok := authtoken.FromContext(r.Context())
	if !ok {
		writeError(w, apperr.New(apperr.Unauthenticated, "missing bearer token"))
		return
	}
	var req disconnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.InvalidInput, "malformed request body"))
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		writeError(w, apperr.New(apperr.InvalidInput, "malformed session_id"))
		return
	}

	summary, err := h.sessions.Disconnect(r.Context(), sessionID, claims.SubscriberID, req.BytesSent, req.BytesReceived)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":     summary.SessionID.String(),
		"duration_secs":  summary.Duration.Seconds(),
		"bytes_sent":     summary.BytesSent,
		"bytes_received": summary.BytesReceived,
		"average_mbps":   summary.AverageMbps,
	})
}

func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !admit(w, r, h.protection, classVPNStatus) {
		return
	}
	claims, ok := authtoken.FromContext(r.Context())
	if !ok {
		writeError(w, apperr.New(apperr.Unauthenticated, "missing bearer token"))
		return
	}

	sessionID := uuid.Nil
	if raw := r.URL.Query().Get("session_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, apperr.New(apperr.InvalidInput, "malformed session_id"))
			return
		}
		sessionID = parsed
	}

	snap, err := h.sessions.Status(r.Context(), claims.SubscriberID, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":    snap.Session.ID.String(),
		"status":        string(snap.Session.Status),
		"server_id":     snap.Server.ID.String(),
		"server_name":   snap.Server.Name,
		"duration_secs": snap.Duration.Seconds(),
		"average_mbps":  snap.AverageMbps,
		"server_load":   snap.ServerLoad,
		"server_ping":   snap.ServerPing,
	})
}
