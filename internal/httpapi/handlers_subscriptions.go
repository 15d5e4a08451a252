package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ahmadjamalnasir/VPN-backend/internal/apperr"
	"github.com/ahmadjamalnasir/VPN-backend/internal/authtoken"
	"github.com/ahmadjamalnasir/VPN-backend/internal/entitlement"
	"github.com/google/uuid"
)

type entitlementResponse struct {
	Tier   string  `json:"tier"`
	Active bool    `json:"active"`
	PlanID string  `json:"plan_id,omitempty"`
	Expiry *string `json:"expiry,omitempty"`
}

func (h *Handlers) handleGetEntitlement(w http.ResponseWriter, r *http.Request) {
	if !admit(w, r, h.protection, classSubscriptions) {
		return
	}
	claims, ok := authtoken.FromContext(r.Context())
	if !ok {
		writeError(w, apperr.New(apperr.Unauthenticated, "missing bearer token"))
		return
	}
	decision, err := h.entitlement.Resolve(r.Context(), claims.SubscriberID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := entitlementResponse{Tier: string(decision.Tier), Active: decision.Active}
	if decision.PlanID != uuid.Nil {
		resp.PlanID = decision.PlanID.String()
	}
	if decision.Expiry != nil {
		formatted := decision.Expiry.UTC().Format("2006-01-02T15:04:05Z")
		resp.Expiry = &formatted
	}
	writeJSON(w, http.StatusOK, resp)
}

type assignSubscriptionRequest struct {
	PlanID    string `json:"plan_id"`
	AutoRenew bool   `json:"auto_renew"`
	Method    string `json:"method"`
}

func (h *Handlers) handleAssignSubscription(w http.ResponseWriter, r *http.Request) {
	if !admit(w, r, h.protection, classSubscriptions) {
		return
	}
	claims, ok := authtoken.FromContext(r.Context())
	if !ok {
		writeError(w, apperr.New(apperr.Unauthenticated, "missing bearer token"))
		return
	}
	var req assignSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.InvalidInput, "malformed request body"))
		return
	}
	planID, err := uuid.Parse(req.PlanID)
	if err != nil {
		writeError(w, apperr.New(apperr.InvalidInput, "malformed plan_id"))
		return
	}

	sub, err := h.entitlement.Assign(r.Context(), claims.SubscriberID, planID, req.AutoRenew, entitlement.PaymentMethod(req.Method))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"subscription_id": sub.ID.String(),
		"status":          string(sub.Status),
	})
}

func (h *Handlers) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	if !admit(w, r, h.protection, classSubscriptions) {
		return
	}
	var req struct {
		SubscriptionID string `json:"subscription_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.InvalidInput, "malformed request body"))
		return
	}
	subscriptionID, err := uuid.Parse(req.SubscriptionID)
	if err != nil {
		writeError(w, apperr.New(apperr.InvalidInput, "malformed subscription_id"))
		return
	}
	if err := h.entitlement.Cancel(r.Context(), subscriptionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"canceled": true})
}
