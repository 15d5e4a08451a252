package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ahmadjamalnasir/VPN-backend/internal/apperr"
	"github.com/ahmadjamalnasir/VPN-backend/internal/authtoken"
)

func (h *Handlers) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	if !admit(w, r, h.protection, classUsersProfile) {
		return
	}
	claims, ok := authtoken.FromContext(r.Context())
	if !ok {
		writeError(w, apperr.New(apperr.Unauthenticated, "missing bearer token"))
		return
	}
	sub, err := h.identity.GetByID(r.Context(), claims.SubscriberID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriberResponse{
		ID:       sub.ID.String(),
		Handle:   sub.Handle,
		Email:    sub.Email,
		Name:     sub.DisplayName,
		Verified: sub.Verified,
		Premium:  sub.Premium,
	})
}

type updateProfileRequest struct {
	DisplayName string `json:"display_name"`
	Phone       string `json:"phone"`
	Country     string `json:"country"`
}

func (h *Handlers) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	if !admit(w, r, h.protection, classUsersProfile) {
		return
	}
	claims, ok := authtoken.FromContext(r.Context())
	if !ok {
		writeError(w, apperr.New(apperr.Unauthenticated, "missing bearer token"))
		return
	}
	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.InvalidInput, "malformed request body"))
		return
	}
	if err := h.identity.UpdateProfile(r.Context(), claims.SubscriberID, req.DisplayName, req.Phone, req.Country); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}
