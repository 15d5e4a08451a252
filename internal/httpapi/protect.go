package httpapi

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ahmadjamalnasir/VPN-backend/internal/apperr"
	"github.com/ahmadjamalnasir/VPN-backend/internal/authtoken"
	"github.com/ahmadjamalnasir/VPN-backend/internal/observability"
	"github.com/ahmadjamalnasir/VPN-backend/internal/protection"
)

// endpointClass maps the full set of routes this API exposes onto the
// protection layer's closed policy table. Classes not named in the
// policy table fall back to the nearest sibling with comparable abuse
// potential; protection.Layer falls back to "general" for anything it
// still doesn't recognize.
const (
	classAuthLogin         = "auth_login"
	classAuthRegister      = "auth_register"
	classAuthPasswordReset = "auth_password_reset"
	classAuthVerifyEmail   = "auth_login"
	classVPNConnect        = "vpn_connect"
	classVPNDisconnect     = "vpn_disconnect"
	classVPNStatus         = "general"
	classServersList       = "general"
	classUsersProfile      = "general"
	classSubscriptions     = "payments"
	classPayments          = "payments"
	classWebsocketSession  = "websocket"
	classWebsocketAdmin    = "websocket"
	classGeneral           = "general"
)

// clientIP extracts the caller's address, preferring X-Forwarded-For's
// first hop since the service expects to sit behind a load balancer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// admit runs the protection layer for the given endpoint class, writing the
// rejection response itself and returning false when the caller should
// stop handling the request.
func admit(w http.ResponseWriter, r *http.Request, layer *protection.Layer, class string) bool {
	identity := ""
	bypass := false
	if claims, ok := authtoken.FromContext(r.Context()); ok {
		identity = claims.SubscriberID.String()
		bypass = claims.Superuser
	}

	decision, err := layer.Admit(r.Context(), clientIP(r), identity, class, bypass)
	if err != nil {
		observability.RecordRejection(class, "protection_error")
		writeError(w, err)
		return false
	}
	if !decision.Allowed {
		observability.RecordRejection(class, string(decision.RejectReason))
		if decision.RetryAfter > 0 {
			secs := int(decision.RetryAfter / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		writeError(w, apperr.New(decision.RejectReason, "request rejected by protection layer"))
		return false
	}
	observability.RecordAdmission(class)
	return true
}
