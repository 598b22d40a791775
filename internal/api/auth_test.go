package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

func signToken(t *testing.T, secret, issuer string, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "dashboard",
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return token
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Security.JWT.Enabled = true
		d.Security.JWT.Secret = testSecret
		d.Security.JWT.Issuer = "idotmatrix-bridge"
	})

	valid := signToken(t, testSecret, "idotmatrix-bridge", time.Hour)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"health is public", "/api/v1/health", "", http.StatusOK},
		{"missing token", "/api/v1/displays", "", http.StatusUnauthorized},
		{"valid token", "/api/v1/displays", "Bearer " + valid, http.StatusOK},
		{"lower-case scheme", "/api/v1/displays", "bearer " + valid, http.StatusOK},
		{"wrong scheme", "/api/v1/displays", "Basic " + valid, http.StatusUnauthorized},
		{"wrong secret", "/api/v1/displays", "Bearer " + signToken(t, "another-secret", "idotmatrix-bridge", time.Hour), http.StatusUnauthorized},
		{"wrong issuer", "/api/v1/displays", "Bearer " + signToken(t, testSecret, "someone-else", time.Hour), http.StatusUnauthorized},
		{"expired", "/api/v1/displays", "Bearer " + signToken(t, testSecret, "idotmatrix-bridge", -time.Minute), http.StatusUnauthorized},
		{"query token", "/api/v1/displays?token=" + valid, "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			env.handler.ServeHTTP(w, r)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAuthMiddleware_RejectsOtherAlgorithms(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Security.JWT.Enabled = true
		d.Security.JWT.Secret = testSecret
	})

	claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/api/v1/displays", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for HS512", w.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Security.RateLimit.Enabled = true
		d.Security.RateLimit.RequestsPerMinute = 1
		d.Security.RateLimit.Burst = 2
	})

	get := func(remote string) int {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
		r.RemoteAddr = remote
		w := httptest.NewRecorder()
		env.handler.ServeHTTP(w, r)
		return w.Code
	}

	for i := range 2 {
		if code := get("192.0.2.10:5000"); code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, code)
		}
	}
	if code := get("192.0.2.10:5001"); code != http.StatusTooManyRequests {
		t.Errorf("over budget status = %d, want 429", code)
	}
	if code := get("192.0.2.11:5000"); code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", code)
	}
}

func TestRateLimitMiddleware_ForwardedHeaders(t *testing.T) {
	tests := []struct {
		name  string
		trust bool
		want  int
	}{
		{"ignored by default", false, http.StatusTooManyRequests},
		{"honoured behind a proxy", true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(d *Deps) {
				d.Security.RateLimit.Enabled = true
				d.Security.RateLimit.RequestsPerMinute = 1
				d.Security.RateLimit.Burst = 1
				d.Security.TrustProxyHeaders = tt.trust
			})

			get := func(forwarded string) int {
				r := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
				r.RemoteAddr = "192.0.2.10:5000"
				r.Header.Set("X-Forwarded-For", forwarded)
				w := httptest.NewRecorder()
				env.handler.ServeHTTP(w, r)
				return w.Code
			}

			if code := get("198.51.100.1"); code != http.StatusOK {
				t.Fatalf("first request status = %d, want 200", code)
			}
			if code := get("198.51.100.2"); code != tt.want {
				t.Errorf("second request with a new X-Forwarded-For: status = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestIPRateLimiter_Sweep(t *testing.T) {
	l := newIPRateLimiter(60, 0)
	l.allow("192.0.2.1")
	l.allow("192.0.2.2")

	l.sweep(time.Now().Add(-time.Hour))
	if l.size() != 2 {
		t.Errorf("size = %d after sweeping nothing, want 2", l.size())
	}
	l.sweep(time.Now().Add(time.Second))
	if l.size() != 0 {
		t.Errorf("size = %d after sweeping all, want 0", l.size())
	}
}
