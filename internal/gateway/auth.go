package gateway

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/livedesk/internal/config"
	"golang.org/x/time/rate"
)

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Method string `json:"method,omitempty"` // "token" | "password" | "widget"
	Reason string `json:"reason,omitempty"`
}

// ResolvedAuth holds the agent credentials the gateway accepts.
type ResolvedAuth struct {
	Mode     string
	Token    string
	Password string
}

// ResolveAuth merges config with LIVEDESK_GATEWAY_TOKEN and
// LIVEDESK_GATEWAY_PASSWORD. Config values win.
func ResolveAuth(cfg config.GatewayAuth) ResolvedAuth {
	auth := ResolvedAuth{Mode: cfg.Mode, Token: cfg.Token, Password: cfg.Password}
	if auth.Token == "" {
		auth.Token = os.Getenv("LIVEDESK_GATEWAY_TOKEN")
	}
	if auth.Password == "" {
		auth.Password = os.Getenv("LIVEDESK_GATEWAY_PASSWORD")
	}
	if auth.Mode == "" {
		auth.Mode = "token"
		if auth.Password != "" {
			auth.Mode = "password"
		}
	}
	return auth
}

// Authorize checks agent credentials.
func Authorize(serverAuth ResolvedAuth, clientAuth *ConnectAuth) AuthResult {
	if clientAuth == nil {
		return AuthResult{Reason: "no credentials provided"}
	}

	var want, got string
	switch serverAuth.Mode {
	case "token":
		want, got = serverAuth.Token, clientAuth.Token
	case "password":
		want, got = serverAuth.Password, clientAuth.Password
	default:
		return AuthResult{Reason: "unknown auth mode: " + serverAuth.Mode}
	}

	switch {
	case want == "":
		return AuthResult{Reason: "server " + serverAuth.Mode + " not configured"}
	case got == "":
		return AuthResult{Reason: serverAuth.Mode + " required"}
	case !safeEqual(got, want):
		return AuthResult{Reason: serverAuth.Mode + "_mismatch"}
	}
	return AuthResult{OK: true, Method: serverAuth.Mode}
}

// AuthorizeWidget admits a visitor widget for a known org. When the org
// lists allowed origins, the page origin must be one of them.
func AuthorizeWidget(lookup func(string) (config.OrganizationConfig, bool), orgID, origin string) AuthResult {
	if strings.TrimSpace(orgID) == "" {
		return AuthResult{Reason: "orgId required"}
	}
	o, ok := lookup(orgID)
	if !ok {
		return AuthResult{Reason: "unknown org"}
	}
	if len(o.AllowedOrigins) > 0 && !slices.Contains(o.AllowedOrigins, origin) {
		return AuthResult{Reason: "origin not allowed for org"}
	}
	return AuthResult{OK: true, Method: "widget"}
}

// AuthorizeHTTP checks a bearer secret on an HTTP request. The secret is
// compared as a token or a password depending on the auth mode.
func AuthorizeHTTP(serverAuth ResolvedAuth, r *http.Request) AuthResult {
	secret, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || secret == "" {
		return AuthResult{Reason: "bearer token required"}
	}
	return Authorize(serverAuth, &ConnectAuth{Token: secret, Password: secret})
}

// safeEqual compares in constant time, including on length mismatch.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}

// checkWebSocketOrigin admits requests without an Origin header and
// browser origins that allowed reports true for.
func checkWebSocketOrigin(allowed func(origin string) bool) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed(origin)
	}
}

func isOriginAllowed(origin string, allowed []string) bool {
	return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}

// Failed handshakes per host are metered by a token bucket: a host may
// fail authRateMaxFails times in a burst, refilled over authRateWindow.
const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxIPs   = 10000
)

type authRateLimiter struct {
	mu    sync.Mutex
	hosts map[string]*rate.Limiter
	now   func() time.Time
}

func newAuthRateLimiter() *authRateLimiter {
	return &authRateLimiter{hosts: make(map[string]*rate.Limiter), now: time.Now}
}

// allow reports whether remoteAddr still has failures left.
func (l *authRateLimiter) allow(remoteAddr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.hosts[hostOf(remoteAddr)]
	return !ok || lim.TokensAt(l.now()) >= 1
}

func (l *authRateLimiter) recordFailure(remoteAddr string) {
	host := hostOf(remoteAddr)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.hosts[host]
	if !ok {
		if len(l.hosts) >= authRateMaxIPs {
			l.pruneLocked(now)
		}
		if len(l.hosts) >= authRateMaxIPs {
			for h := range l.hosts {
				delete(l.hosts, h)
				break
			}
		}
		lim = rate.NewLimiter(rate.Every(authRateWindow/authRateMaxFails), authRateMaxFails)
		l.hosts[host] = lim
	}
	lim.AllowN(now, 1)
}

// pruneLocked forgets hosts whose bucket has refilled completely.
func (l *authRateLimiter) pruneLocked(now time.Time) {
	for h, lim := range l.hosts {
		if lim.TokensAt(now) >= authRateMaxFails {
			delete(l.hosts, h)
		}
	}
}

// sweep prunes idle hosts every minute until ctx is done.
func (l *authRateLimiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			l.pruneLocked(l.now())
			l.mu.Unlock()
		}
	}
}

func hostOf(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}
