package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/ahmadjamalnasir/VPN-backend/internal/apperr"
	"github.com/ahmadjamalnasir/VPN-backend/internal/observability"
	"github.com/ahmadjamalnasir/VPN-backend/internal/verification"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
	Country  string `json:"country"`
}

type subscriberResponse struct {
	ID       string `json:"id"`
	Handle   int64  `json:"handle"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Verified bool   `json:"verified"`
	Premium  bool   `json:"premium"`
}

func (h *Handlers) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !admit(w, r, h.protection, classAuthRegister) {
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.InvalidInput, "malformed request body"))
		return
	}

	sub, err := h.identity.Register(r.Context(), req.Name, req.Email, req.Password, req.Phone, req.Country)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.verify.Issue(r.Context(), sub.Email, verification.PurposeEmailVerify); err != nil {
		writeError(w, err)
		return
	}
	observability.RecordVerificationIssued(string(verification.PurposeEmailVerify))

	writeJSON(w, http.StatusCreated, subscriberResponse{
		ID:       sub.ID.String(),
		Handle:   sub.Handle,
		Email:    sub.Email,
		Name:     sub.DisplayName,
		Verified: sub.Verified,
		Premium:  sub.Premium,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   string `json:"expires_at"`
	Subscriber  subscriberResponse `json:"subscriber"`
}

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !admit(w, r, h.protection, classAuthLogin) {
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.InvalidInput, "malformed request body"))
		return
	}

	sub, err := h.identity.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if apperr.Is(err, apperr.Unauthenticated) {
			if recErr := h.protection.RecordFailedAuth(r.Context(), clientIP(r)); recErr != nil {
				writeError(w, recErr)
				return
			}
		}
		writeError(w, err)
		return
	}

	token, expiry, err := h.tokens.Issue(sub.ID, sub.Handle, sub.Superuser)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		ExpiresAt:   expiry.UTC().Format("2006-01-02T15:04:05Z"),
		Subscriber: subscriberResponse{
			ID:       sub.ID.String(),
			Handle:   sub.Handle,
			Email:    sub.Email,
			Name:     sub.DisplayName,
			Verified: sub.Verified,
			Premium:  sub.Premium,
		},
	})
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (h *Handlers) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	if !admit(w, r, h.protection, classAuthVerifyEmail) {
		return
	}
	var req verifyEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.InvalidInput, "malformed request body"))
		return
	}

	result, err := h.verify.Verify(r.Context(), req.Email, verification.PurposeEmailVerify, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	observability.RecordVerificationOutcome(string(verification.PurposeEmailVerify), string(result))
	if result != verification.ResultOK {
		writeError(w, apperr.New(apperr.InvalidInput, "verification code is "+string(result)))
		return
	}

	sub, err := h.identity.GetByEmail(r.Context(), req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	if sub == nil {
		writeError(w, apperr.New(apperr.NotFound, "subscriber not found"))
		return
	}
	if err := h.identity.SetVerified(r.Context(), sub.ID, true); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

type requestPasswordResetRequest struct {
	Email string `json:"email"`
}

func (h *Handlers) handleRequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	if !admit(w, r, h.protection, classAuthPasswordReset) {
		return
	}
	var req requestPasswordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.InvalidInput, "malformed request body"))
		return
	}

	// Issuing against a non-existent email is intentionally a no-op that
	// still reports success, matching the login flow's user-enumeration
	// posture: the caller can't tell whether the address is registered.
	if sub, err := h.identity.GetByEmail(r.Context(), req.Email); err == nil && sub != nil {
		if err := h.verify.Issue(r.Context(), sub.Email, verification.PurposePasswordReset); err != nil {
			writeError(w, err)
			return
		}
		observability.RecordVerificationIssued(string(verification.PurposePasswordReset))
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"requested": true})
}

type confirmPasswordResetRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

func (h *Handlers) handleConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	if !admit(w, r, h.protection, classAuthPasswordReset) {
		return
	}
	var req confirmPasswordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.InvalidInput, "malformed request body"))
		return
	}

	result, err := h.verify.Verify(r.Context(), req.Email, verification.PurposePasswordReset, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	observability.RecordVerificationOutcome(string(verification.PurposePasswordReset), string(result))
	if result != verification.ResultOK {
		writeError(w, apperr.New(apperr.InvalidInput, "verification code is "+string(result)))
		return
	}

	sub, err := h.identity.GetByEmail(r.Context(), req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	if sub == nil {
		writeError(w, apperr.New(apperr.NotFound, "subscriber not found"))
		return
	}
	if err := h.identity.SetPassword(r.Context(), sub.ID, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reset": true})
}
