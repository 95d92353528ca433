package auth

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"koffey/internal/config"
)

const testSigningKey = "test-signing-key-for-unit-tests"

func newRequest(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "/v1/meddpic/analyze", nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return req
}

func TestAuthenticateRequestJWT(t *testing.T) {
	cfg := config.Default()
	cfg.Security.Issuer = "https://auth.koffey.dev"
	cfg.Security.Audience = "koffey-api"
	cfg.Security.TokenSigningKey = testSigningKey

	svc := &Service{
		Config: cfg,
		Now:    func() time.Time { return time.Unix(1000, 0) },
	}

	token := signedJWT(t, jwt.MapClaims{
		"iss":   "https://auth.koffey.dev",
		"aud":   "koffey-api",
		"exp":   2000,
		"nbf":   500,
		"sub":   "rep-1",
		"jti":   "token-1",
		"scope": "koffey:coach.use koffey:crm.read",
	})
	req := newRequest(t)
	req.Header.Set("Authorization", "Bearer "+token)

	principal, err := svc.AuthenticateRequest(req)
	if err != nil {
		t.Fatalf("authenticate request: %v", err)
	}
	if principal.ActorID != "rep-1" || principal.TokenID != "token-1" {
		t.Fatalf("unexpected principal identity: %+v", principal)
	}
	if principal.AuthMethod != "jwt" {
		t.Fatalf("expected jwt auth method, got %s", principal.AuthMethod)
	}
	if len(principal.Scopes) != 2 {
		t.Fatalf("expected 2 scopes, got %d", len(principal.Scopes))
	}
}

func TestAuthenticateRequestJWTRejections(t *testing.T) {
	cfg := config.Default()
	cfg.Security.TokenSigningKey = testSigningKey
	cfg.Security.Audience = "koffey-api"
	svc := &Service{
		Config: cfg,
		Now:    func() time.Time { return time.Unix(1000, 0) },
	}

	tests := []struct {
		name   string
		claims jwt.MapClaims
	}{
		{"missing subject", jwt.MapClaims{"exp": 2000, "aud": "koffey-api"}},
		{"expired", jwt.MapClaims{"exp": 900, "sub": "rep-1", "aud": "koffey-api"}},
		{"no expiry", jwt.MapClaims{"sub": "rep-1", "aud": "koffey-api"}},
		{"wrong audience", jwt.MapClaims{"exp": 2000, "sub": "rep-1", "aud": "other"}},
	}
	for _, tt := range tests {
		req := newRequest(t)
		req.Header.Set("Authorization", "Bearer "+signedJWT(t, tt.claims))
		if _, err := svc.AuthenticateRequest(req); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("%s: expected unauthorized, got %v", tt.name, err)
		}
	}
}

func TestAuthenticateRequestAPIKey(t *testing.T) {
	cfg := config.Default()
	cfg.Security.APIKey = "kf_live_test"
	svc := NewService(cfg)

	req := newRequest(t)
	req.Header.Set("X-API-Key", "kf_live_test")
	principal, err := svc.AuthenticateRequest(req)
	if err != nil {
		t.Fatalf("authenticate request: %v", err)
	}
	if principal.AuthMethod != "api_key" {
		t.Fatalf("expected api_key auth method, got %s", principal.AuthMethod)
	}

	bad := newRequest(t)
	bad.Header.Set("X-API-Key", "kf_live_wrong")
	if _, err := svc.AuthenticateRequest(bad); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected wrong key to be unauthorized, got %v", err)
	}

	if _, err := svc.AuthenticateRequest(newRequest(t)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected missing credentials to be unauthorized, got %v", err)
	}
}

func TestAuthenticateRequestDevPrincipal(t *testing.T) {
	cfg := config.Default()
	svc := NewService(cfg)
	principal, err := svc.AuthenticateRequest(newRequest(t))
	if err != nil {
		t.Fatalf("dev mode without secrets should authenticate: %v", err)
	}
	if principal.AuthMethod != "dev" {
		t.Fatalf("expected dev principal, got %+v", principal)
	}

	cfg.Dev.Mode = false
	svc = NewService(cfg)
	if _, err := svc.AuthenticateRequest(newRequest(t)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized outside dev mode, got %v", err)
	}
}

func TestValidateScopes(t *testing.T) {
	svc := &Service{}
	principal := Principal{Scopes: []string{"koffey:crm.*"}}
	if err := svc.ValidateScopes(principal, ScopeCRMWrite); err != nil {
		t.Fatalf("expected wildcard scope to allow write: %v", err)
	}
	if err := svc.ValidateScopes(principal, ScopeCoach); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected coach scope to be denied, got %v", err)
	}
}

func signedJWT(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(testSigningKey))
	if err != nil {
		t.Fatalf("sign jwt: %v", err)
	}
	return signed
}
