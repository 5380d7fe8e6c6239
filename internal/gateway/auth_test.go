package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/soyeahso/livedesk/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestSafeEqual(t *testing.T) {
	assert.True(t, safeEqual("secret", "secret"))
	assert.True(t, safeEqual("", ""))
	assert.False(t, safeEqual("secret", "wrong"))
	assert.False(t, safeEqual("short", "longer-string"))
	assert.False(t, safeEqual("secret", ""))
}

func TestResolveAuth_DefaultsMode(t *testing.T) {
	assert.Equal(t, "token", ResolveAuth(config.GatewayAuth{Token: "t"}).Mode)
	assert.Equal(t, "password", ResolveAuth(config.GatewayAuth{Password: "p"}).Mode)
}

func TestResolveAuth_FromEnv(t *testing.T) {
	t.Setenv("LIVEDESK_GATEWAY_TOKEN", "env-token")
	t.Setenv("LIVEDESK_GATEWAY_PASSWORD", "env-pass")
	auth := ResolveAuth(config.GatewayAuth{Mode: "token"})
	assert.Equal(t, "env-token", auth.Token)
	assert.Equal(t, "env-pass", auth.Password)
}

func TestResolveAuth_ConfigOverridesEnv(t *testing.T) {
	t.Setenv("LIVEDESK_GATEWAY_TOKEN", "env-token")
	auth := ResolveAuth(config.GatewayAuth{Mode: "token", Token: "config-token"})
	assert.Equal(t, "config-token", auth.Token)
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name   string
		server ResolvedAuth
		client *ConnectAuth
		ok     bool
		reason string
	}{
		{"token ok", ResolvedAuth{Mode: "token", Token: "secret"}, &ConnectAuth{Token: "secret"}, true, ""},
		{"token mismatch", ResolvedAuth{Mode: "token", Token: "secret"}, &ConnectAuth{Token: "wrong"}, false, "token_mismatch"},
		{"token empty", ResolvedAuth{Mode: "token", Token: "secret"}, &ConnectAuth{}, false, "token required"},
		{"server token unset", ResolvedAuth{Mode: "token"}, &ConnectAuth{Token: "x"}, false, "server token not configured"},
		{"password ok", ResolvedAuth{Mode: "password", Password: "p"}, &ConnectAuth{Password: "p"}, true, ""},
		{"password mismatch", ResolvedAuth{Mode: "password", Password: "p"}, &ConnectAuth{Password: "q"}, false, "password_mismatch"},
		{"nil credentials", ResolvedAuth{Mode: "token", Token: "secret"}, nil, false, "no credentials provided"},
		{"unknown mode", ResolvedAuth{Mode: "oauth"}, &ConnectAuth{Token: "x"}, false, "unknown auth mode: oauth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Authorize(tt.server, tt.client)
			assert.Equal(t, tt.ok, res.OK)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestAuthorizeWidget(t *testing.T) {
	orgs := map[string]config.OrganizationConfig{
		"acme":   {ID: "acme"},
		"globex": {ID: "globex", AllowedOrigins: []string{"https://globex.example"}},
	}
	lookup := func(id string) (config.OrganizationConfig, bool) {
		o, ok := orgs[id]
		return o, ok
	}

	res := AuthorizeWidget(lookup, "acme", "https://anywhere.example")
	assert.True(t, res.OK)
	assert.Equal(t, "widget", res.Method)
	assert.Equal(t, "orgId required", AuthorizeWidget(lookup, " ", "").Reason)
	assert.Equal(t, "unknown org", AuthorizeWidget(lookup, "other", "").Reason)

	assert.True(t, AuthorizeWidget(lookup, "globex", "https://globex.example").OK)
	assert.Equal(t, "origin not allowed for org", AuthorizeWidget(lookup, "globex", "https://acme.example").Reason)
	assert.False(t, AuthorizeWidget(lookup, "globex", "").OK)
}

func TestAuthorizeHTTP(t *testing.T) {
	server := ResolvedAuth{Mode: "token", Token: "secret"}

	req := httptest.NewRequest("POST", "/api/conversations/C1/end", nil)
	assert.False(t, AuthorizeHTTP(server, req).OK)

	req.Header.Set("Authorization", "Bearer wrong")
	assert.False(t, AuthorizeHTTP(server, req).OK)

	req.Header.Set("Authorization", "Bearer secret")
	assert.True(t, AuthorizeHTTP(server, req).OK)

	pw := ResolvedAuth{Mode: "password", Password: "pw"}
	req.Header.Set("Authorization", "Bearer pw")
	assert.True(t, AuthorizeHTTP(pw, req).OK)
}

func TestAuthRateLimiter(t *testing.T) {
	limiter := newAuthRateLimiter()
	assert.True(t, limiter.allow("192.168.1.1:12345"))

	for i := 0; i < authRateMaxFails; i++ {
		limiter.recordFailure("192.168.1.1:12345")
	}
	assert.False(t, limiter.allow("192.168.1.1:12345"))
	assert.False(t, limiter.allow("192.168.1.1"))
	assert.True(t, limiter.allow("192.168.1.2:12345"))
}

func TestAuthRateLimiter_Refills(t *testing.T) {
	now := time.Now()
	limiter := newAuthRateLimiter()
	limiter.now = func() time.Time { return now }

	for i := 0; i < authRateMaxFails; i++ {
		limiter.recordFailure("192.168.1.1:12345")
	}
	assert.False(t, limiter.allow("192.168.1.1:12345"))

	now = now.Add(authRateWindow/authRateMaxFails + time.Second)
	assert.True(t, limiter.allow("192.168.1.1:12345"))
}

func TestAuthRateLimiter_PrunesFullBuckets(t *testing.T) {
	now := time.Now()
	limiter := newAuthRateLimiter()
	limiter.now = func() time.Time { return now }

	limiter.recordFailure("10.0.0.1:1")
	limiter.recordFailure("10.0.0.2:1")
	for i := 0; i < authRateMaxFails; i++ {
		limiter.recordFailure("10.0.0.2:1")
	}

	now = now.Add(authRateWindow / 2)
	limiter.mu.Lock()
	limiter.pruneLocked(now)
	_, keptIdle := limiter.hosts["10.0.0.1"]
	_, keptBusy := limiter.hosts["10.0.0.2"]
	limiter.mu.Unlock()

	assert.False(t, keptIdle)
	assert.True(t, keptBusy)
}

func originRequest(origin string) *http.Request {
	req := httptest.NewRequest("GET", "/ws", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}

func TestCheckWebSocketOrigin(t *testing.T) {
	none := func(string) bool { return false }
	assert.True(t, checkWebSocketOrigin(none)(originRequest("")))
	assert.False(t, checkWebSocketOrigin(none)(originRequest("http://evil.com")))

	list := []string{"https://shop.example", "https://help.example"}
	check := checkWebSocketOrigin(func(o string) bool { return isOriginAllowed(o, list) })
	assert.True(t, check(originRequest("https://shop.example")))
	assert.True(t, check(originRequest("https://help.example")))
	assert.False(t, check(originRequest("https://evil.example")))
}

func TestIsOriginAllowed(t *testing.T) {
	assert.False(t, isOriginAllowed("https://a.example", nil))
	assert.True(t, isOriginAllowed("https://a.example", []string{"*"}))
	assert.True(t, isOriginAllowed("https://a.example", []string{"https://b.example", "https://a.example"}))
}
