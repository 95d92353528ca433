package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"koffey/internal/config"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

const (
	ScopeCoach       = "koffey:coach.use"
	ScopeArchiveRead = "koffey:archive.read"
	ScopeCRMRead     = "koffey:crm.read"
	ScopeCRMWrite    = "koffey:crm.write"
)

var DevPrincipal = Principal{ActorID: "dev", Scopes: []string{"*"}, AuthMethod: "dev"}

type Service struct {
	Config config.Config
	Now    func() time.Time
}

func NewService(cfg config.Config) *Service {
	return &Service{
		Config: cfg,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// Open reports whether no credential is configured, in which case every
// request runs as DevPrincipal. Only allowed in dev mode.
func (s *Service) Open() bool {
	return s.Config.Dev.Mode &&
		strings.TrimSpace(s.Config.Security.APIKey) == "" &&
		strings.TrimSpace(s.Config.Security.TokenSigningKey) == ""
}

func (s *Service) AuthenticateRequest(r *http.Request) (Principal, error) {
	if s.Open() {
		return DevPrincipal, nil
	}
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return s.VerifyJWT(r.Context(), authHeader)
	}
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return s.VerifyAPIKey(key)
	}
	return Principal{}, ErrUnauthorized
}

func (s *Service) VerifyJWT(_ context.Context, authHeader string) (Principal, error) {
	headerParts := strings.Fields(authHeader)
	if len(headerParts) != 2 || !strings.EqualFold(headerParts[0], "Bearer") {
		return Principal{}, ErrUnauthorized
	}
	rawToken := strings.TrimSpace(headerParts[1])

	signingKey := []byte(s.Config.Security.TokenSigningKey)
	if len(signingKey) == 0 {
		return Principal{}, fmt.Errorf("%w: token signing key not configured", ErrUnauthorized)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if iss := strings.TrimSpace(s.Config.Security.Issuer); iss != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(iss))
	}
	if aud := strings.TrimSpace(s.Config.Security.Audience); aud != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(aud))
	}

	parsed, err := jwt.Parse(rawToken, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return signingKey, nil
	}, parserOpts...)
	if err != nil || !parsed.Valid {
		return Principal{}, ErrUnauthorized
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, ErrUnauthorized
	}
	subject := claimString(claims["sub"])
	if subject == "" {
		return Principal{}, ErrUnauthorized
	}
	return Principal{
		ActorID:    subject,
		TokenID:    claimString(claims["jti"]),
		Scopes:     extractScopes(claims["scope"]),
		AuthMethod: "jwt",
	}, nil
}

func (s *Service) VerifyAPIKey(key string) (Principal, error) {
	want := strings.TrimSpace(s.Config.Security.APIKey)
	if want == "" || subtle.ConstantTimeCompare([]byte(key), []byte(want)) != 1 {
		return Principal{}, ErrUnauthorized
	}
	return Principal{ActorID: "api_key", Scopes: []string{"*"}, AuthMethod: "api_key"}, nil
}

func (s *Service) ValidateScopes(principal Principal, requiredScope string) error {
	if requiredScope == "" {
		return nil
	}
	for _, scope := range principal.Scopes {
		if scope == "*" || scope == requiredScope {
			return nil
		}
		if strings.HasSuffix(scope, ".*") {
			prefix := strings.TrimSuffix(scope, ".*")
			if strings.HasPrefix(requiredScope, prefix+".") {
				return nil
			}
		}
	}
	return ErrForbidden
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func claimString(v any) string {
	switch value := v.(type) {
	case string:
		return strings.TrimSpace(value)
	default:
		return ""
	}
}

func extractScopes(claim any) []string {
	var scopes []string
	switch value := claim.(type) {
	case string:
		scopes = append(scopes, strings.Fields(value)...)
	case []any:
		for _, item := range value {
			if scope := claimString(item); scope != "" {
				scopes = append(scopes, scope)
			}
		}
	}
	return scopes
}
