// Package protection implements the multi-tier request protection layer:
// sliding-window rate limits, automatic IP banning on DDoS/suspicious
// thresholds, and whitelist/admin bypass.
package protection

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/ahmadjamalnasir/VPN-backend/internal/apperr"
	"github.com/ahmadjamalnasir/VPN-backend/internal/config"
	"github.com/ahmadjamalnasir/VPN-backend/internal/kv"
)

// Decision is the outcome of an admission check, carrying the fields
// callers need to log and to set a Retry-After header on rejection.
type Decision struct {
	Allowed      bool
	RetryAfter   time.Duration
	Limit        int
	Remaining    int
	ResetAt      time.Time
	RejectReason apperr.Kind // Banned or RateLimited when !Allowed
}

// Layer is the Protection Layer.
type Layer struct {
	kv        kv.Store
	cfg       config.Config
	whitelist []*net.IPNet
	whitelistIPs map[string]bool
	logger    *slog.Logger
	clock     func() time.Time
}

// New constructs a Layer from configuration, pre-parsing the DDoS
// whitelist (IPs and CIDRs) once at startup.
func New(store kv.Store, cfg config.Config, logger *slog.Logger) *Layer {
	l := &Layer{
		kv:           store,
		cfg:          cfg,
		logger:       logger,
		clock:        time.Now,
		whitelistIPs: make(map[string]bool),
	}
	for _, entry := range cfg.DDoSWhitelist {
		if _, network, err := net.ParseCIDR(entry); err == nil {
			l.whitelist = append(l.whitelist, network)
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			l.whitelistIPs[ip.String()] = true
			continue
		}
		logger.Warn("protection: invalid whitelist entry", "entry", kv.SanitizeForLog(entry))
	}
	return l
}

func (l *Layer) isWhitelisted(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	if l.whitelistIPs[parsed.String()] {
		return true
	}
	for _, network := range l.whitelist {
		if network.Contains(parsed) {
			return true
		}
	}
	return false
}

// Admit runs the full precedence chain: ban check → DDoS count →
// endpoint rate limit → global IP cap → global process cap. The first
// failing check short-circuits. bypass skips both subsystems entirely
// (super-user callers, or callers on the whitelist).
func (l *Layer) Admit(ctx context.Context, ip, identity, endpointClass string, bypass bool) (Decision, error) {
	now := l.clock()

	if bypass || l.isWhitelisted(ip) {
		return Decision{Allowed: true}, nil
	}

	if !l.cfg.DDoSProtectionOn && !l.cfg.RateLimitEnabled {
		return Decision{Allowed: true}, nil
	}

	safeIP := kv.SanitizeForLog(ip)

	if l.cfg.DDoSProtectionOn {
		if reason, remaining, banned, err := l.checkBan(ctx, ip); err != nil {
			return Decision{}, err
		} else if banned {
			l.logger.Warn("protection: request from banned ip rejected", "ip", safeIP, "reason", reason)
			return Decision{Allowed: false, RetryAfter: remaining, RejectReason: apperr.Banned}, nil
		}

		ddosCount, err := l.kv.SlidingWindowCount(ctx, ddosKey(ip), time.Minute, now)
		if err != nil {
			return Decision{}, err
		}
		if int(ddosCount) > l.cfg.DDoSThreshold {
			ttl := time.Duration(l.cfg.DDoSBanDurationSeconds) * time.Second
			if err := l.kv.SetBan(ctx, banKey(ip), "ddos_threshold_exceeded", ttl); err != nil {
				return Decision{}, err
			}
			l.logger.Warn("protection: ip banned for ddos activity", "ip", safeIP, "ttl_seconds", l.cfg.DDoSBanDurationSeconds)
			return Decision{Allowed: false, RetryAfter: ttl, RejectReason: apperr.Banned}, nil
		}
	}

	if l.cfg.RateLimitEnabled {
		if endpointClass != "" {
			policy, ok := l.cfg.EndpointPolicies[endpointClass]
			if !ok {
				policy = l.cfg.EndpointPolicies["general"]
			}
			decision, err := l.checkWindow(ctx, endpointKey(endpointClass, identityOrIP(identity, ip)), policy.Limit, policy.BurstAllowance, time.Duration(policy.WindowSeconds)*time.Second, now)
			if err != nil {
				return Decision{}, err
			}
			if !decision.Allowed {
				l.logger.Warn("protection: endpoint rate limit exceeded", "ip", safeIP, "endpoint", endpointClass)
				return decision, nil
			}
		}

		ipDecision, err := l.checkWindow(ctx, globalIPKey(ip), l.cfg.IPRateLimit, 0, time.Minute, now)
		if err != nil {
			return Decision{}, err
		}
		if !ipDecision.Allowed {
			l.logger.Warn("protection: global per-ip cap exceeded", "ip", safeIP)
			return ipDecision, nil
		}

		processDecision, err := l.checkWindow(ctx, globalProcessKey(), l.cfg.GlobalRateLimit, 0, time.Minute, now)
		if err != nil {
			return Decision{}, err
		}
		if !processDecision.Allowed {
			l.logger.Warn("protection: process-wide cap exceeded")
			return processDecision, nil
		}
		return ipDecision, nil
	}

	return Decision{Allowed: true}, nil
}

func (l *Layer) checkWindow(ctx context.Context, key string, limit, burst int, window time.Duration, now time.Time) (Decision, error) {
	cap := limit + burst
	count, err := l.kv.SlidingWindowCount(ctx, key, window, now)
	if err != nil {
		return Decision{}, err
	}
	remaining := cap - int(count)
	if remaining < 0 {
		remaining = 0
	}
	resetAt := now.Add(window)
	if int(count) > cap {
		return Decision{
			Allowed:      false,
			RetryAfter:   window,
			Limit:        cap,
			Remaining:    0,
			ResetAt:      resetAt,
			RejectReason: apperr.RateLimited,
		}, nil
	}
	return Decision{Allowed: true, Limit: cap, Remaining: remaining, ResetAt: resetAt}, nil
}

// RecordFailedAuth tracks a failed-auth event for the suspicious-activity
// counter and bans the IP if the threshold within the window is exceeded.
func (l *Layer) RecordFailedAuth(ctx context.Context, ip string) error {
	if !l.cfg.DDoSProtectionOn {
		return nil
	}
	now := l.clock()
	count, err := l.kv.SlidingWindowCount(ctx, suspiciousKey(ip), time.Duration(l.cfg.SuspiciousWindowSeconds)*time.Second, now)
	if err != nil {
		return err
	}
	if int(count) > l.cfg.SuspiciousThreshold {
		ttl := time.Duration(l.cfg.SuspiciousBanSeconds) * time.Second
		if err := l.kv.SetBan(ctx, banKey(ip), "suspicious_activity", ttl); err != nil {
			return err
		}
		l.logger.Warn("protection: ip banned for suspicious activity", "ip", kv.SanitizeForLog(ip), "ttl_seconds", l.cfg.SuspiciousBanSeconds)
	}
	return nil
}

func (l *Layer) checkBan(ctx context.Context, ip string) (string, time.Duration, bool, error) {
	reason, remaining, ok, err := l.kv.GetBan(ctx, banKey(ip))
	if err != nil {
		return "", 0, false, err
	}
	return reason, remaining, ok, nil
}

func identityOrIP(identity, ip string) string {
	if identity != "" {
		return identity
	}
	return ip
}

func banKey(ip string) string       { return fmt.Sprintf("protection:ban:%s", ip) }
func ddosKey(ip string) string      { return fmt.Sprintf("protection:ddos_track:%s", ip) }
func suspiciousKey(ip string) string { return fmt.Sprintf("protection:suspicious:%s", ip) }
func endpointKey(endpoint, key string) string {
	return fmt.Sprintf("ratelimit:%s:%s", endpoint, key)
}
func globalIPKey(ip string) string { return fmt.Sprintf("ratelimit:global_ip:%s", ip) }
func globalProcessKey() string     { return "ratelimit:global_process" }
