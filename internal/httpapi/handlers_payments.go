package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/ahmadjamalnasir/VPN-backend/internal/apperr"
	"github.com/ahmadjamalnasir/VPN-backend/internal/observability"
)

type paymentWebhookRequest struct {
	PaymentRef string `json:"payment_ref"`
	Status     string `json:"status"`
}

// handlePaymentWebhook receives the payment provider's callback. It is
// unauthenticated by bearer token (the provider isn't one of our
// subscribers) but is signature-verified against PaymentWebhookSecret.
func (h *Handlers) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if !admit(w, r, h.protection, classPayments) {
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apperr.New(apperr.InvalidInput, "failed to read request body"))
		return
	}
	if h.cfg.PaymentWebhookSecret != "" {
		if !validWebhookSignature(body, r.Header.Get("X-Webhook-Signature"), h.cfg.PaymentWebhookSecret) {
			writeError(w, apperr.New(apperr.Unauthenticated, "invalid webhook signature"))
			return
		}
	}

	var req paymentWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, apperr.New(apperr.InvalidInput, "malformed webhook payload"))
		return
	}

	if err := h.entitlement.ConfirmPayment(r.Context(), req.PaymentRef, req.Status); err != nil {
		observability.RecordPayment("failed")
		writeError(w, err)
		return
	}
	observability.RecordPayment("succeeded")
	writeJSON(w, http.StatusOK, map[string]bool{"processed": true})
}

func validWebhookSignature(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
