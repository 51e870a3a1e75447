package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/convoyhq/gateway/internal/config"
	"github.com/convoyhq/gateway/internal/identity"
	"github.com/convoyhq/gateway/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Rate-limit response headers. The unsuffixed pair reflects whichever
// policy is active for the request: user when authenticated, IP otherwise.
const (
	HeaderLimit         = "X-RateLimit-Limit"
	HeaderRemaining     = "X-RateLimit-Remaining"
	HeaderLimitIP       = "X-RateLimit-Limit-IP"
	HeaderRemainingIP   = "X-RateLimit-Remaining-IP"
	HeaderLimitUser     = "X-RateLimit-Limit-User"
	HeaderRemainingUser = "X-RateLimit-Remaining-User"
	HeaderRetryAfter    = "Retry-After"
)

type policyCheck struct {
	policy ratelimit.Policy
	dec    ratelimit.Decision
}

// RateLimit enforces the per-IP and per-user fixed-window policies against
// the shared counter store. Health paths bypass it entirely. When the
// store is unreachable the configured fail mode decides between admitting
// (availability) and rejecting (strictness).
func RateLimit(limiter *ratelimit.FixedWindow, cfg config.RateLimitConfig, healthPaths []string, logger *zap.Logger) gin.HandlerFunc {
	// Store-outage warnings are throttled to once per window bucket per
	// scope so an outage does not flood the log.
	var warnMu sync.Mutex
	warned := make(map[string]int64)

	warnOnce := func(c *gin.Context, scope string, window time.Duration, now time.Time, err error) {
		bucket := now.Truncate(window).Unix()

		warnMu.Lock()
		seen := warned[scope] == bucket
		warned[scope] = bucket
		warnMu.Unlock()

		if !seen {
			Logger(c).Warn("counter store unreachable, applying fail mode",
				zap.String("scope", scope),
				zap.String("fail_mode", cfg.FailMode),
				zap.Error(err),
			)
		}
	}

	return func(c *gin.Context) {
		for _, p := range healthPaths {
			if strings.HasPrefix(c.Request.URL.Path, p) {
				c.Next()
				return
			}
		}

		id := identity.Resolve(c)
		now := time.Now()
		ctx := c.Request.Context()

		ipPolicy := ratelimit.Policy{Scope: ratelimit.ScopeIP, Limit: cfg.IPLimit, Window: cfg.IPWindow}
		userPolicy := ratelimit.Policy{Scope: ratelimit.ScopeUser, Limit: cfg.UserLimit, Window: cfg.UserWindow}

		ip := policyCheck{policy: ipPolicy}
		ipDec, ipErr := limiter.Allow(ctx, ipPolicy, id.IP, now)
		if ipErr != nil {
			warnOnce(c, ratelimit.ScopeIP, ipPolicy.Window, now, ipErr)
			ipDec = degradedDecision(ipPolicy, now, cfg.FailMode)
		}
		ip.dec = ipDec

		var user *policyCheck
		if id.Authenticated() {
			user = &policyCheck{policy: userPolicy}
			userDec, userErr := limiter.Allow(ctx, userPolicy, id.UserID, now)
			if userErr != nil {
				warnOnce(c, ratelimit.ScopeUser, userPolicy.Window, now, userErr)
				userDec = degradedDecision(userPolicy, now, cfg.FailMode)
			}
			user.dec = userDec
		}

		setRateLimitHeaders(c, ip, user)

		exceeded := make([]policyCheck, 0, 2)
		if !ip.dec.Allowed {
			exceeded = append(exceeded, ip)
		}
		if user != nil && !user.dec.Allowed {
			exceeded = append(exceeded, *user)
		}

		if len(exceeded) > 0 {
			chosen := pickExceeded(exceeded, cfg.TieBreak)
			retryAfter := ceilSeconds(chosen.dec.RetryAfter(now))

			c.Header(HeaderRetryAfter, fmt.Sprintf("%d", retryAfter))
			c.String(http.StatusTooManyRequests, "rate limit exceeded")
			c.Abort()
			return
		}

		c.Next()
	}
}

// degradedDecision stands in for a policy the store could not answer.
// Fail-open admits with a full window; fail-closed rejects with zero
// remaining and the window's own reset time so the headers and
// Retry-After stay consistent with the rejection.
func degradedDecision(p ratelimit.Policy, now time.Time, failMode string) ratelimit.Decision {
	allowed := failMode != config.FailClosed
	remaining := p.Limit
	if !allowed {
		remaining = 0
	}

	return ratelimit.Decision{
		Allowed:   allowed,
		Limit:     p.Limit,
		Remaining: remaining,
		Reset:     now.Truncate(p.Window).Add(p.Window),
	}
}

func setRateLimitHeaders(c *gin.Context, ip policyCheck, user *policyCheck) {
	c.Header(HeaderLimitIP, fmt.Sprintf("%d", ip.dec.Limit))
	c.Header(HeaderRemainingIP, fmt.Sprintf("%d", ip.dec.Remaining))

	active := ip
	if user != nil {
		c.Header(HeaderLimitUser, fmt.Sprintf("%d", user.dec.Limit))
		c.Header(HeaderRemainingUser, fmt.Sprintf("%d", user.dec.Remaining))
		active = *user
	}

	c.Header(HeaderLimit, fmt.Sprintf("%d", active.dec.Limit))
	c.Header(HeaderRemaining, fmt.Sprintf("%d", active.dec.Remaining))
}

// pickExceeded selects which exhausted window drives Retry-After when both
// policies rejected the same request.
func pickExceeded(exceeded []policyCheck, tieBreak string) policyCheck {
	if len(exceeded) == 1 {
		return exceeded[0]
	}

	switch tieBreak {
	case config.TieBreakUser:
		for _, e := range exceeded {
			if e.policy.Scope == ratelimit.ScopeUser {
				return e
			}
		}
	case config.TieBreakEarliest:
		earliest := exceeded[0]
		for _, e := range exceeded[1:] {
			if e.dec.Reset.Before(earliest.dec.Reset) {
				earliest = e
			}
		}
		return earliest
	}

	// Default: the IP window wins.
	for _, e := range exceeded {
		if e.policy.Scope == ratelimit.ScopeIP {
			return e
		}
	}
	return exceeded[0]
}

func ceilSeconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}
