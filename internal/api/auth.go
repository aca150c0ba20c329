package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Roles allowed to change rules, devices and the police gate when
// api.require_admin_role is set.
var mutatingRoles = []string{"admin", "service_role"}

type Principal struct {
	Subject string
	Roles   []string
}

func (p Principal) HasRole(roles ...string) bool {
	for _, have := range p.Roles {
		for _, want := range roles {
			if strings.EqualFold(have, want) {
				return true
			}
		}
	}
	return false
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// jwtClaims accepts either a roles list or the single role claim hosted
// auth providers issue.
type jwtClaims struct {
	jwt.RegisteredClaims
	Role  string   `json:"role,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

func authenticateJWT(token, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("subject claim required")
	}
	roles := append([]string(nil), claims.Roles...)
	if claims.Role != "" {
		roles = append(roles, claims.Role)
	}
	return Principal{Subject: claims.Subject, Roles: roles}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// authMiddleware is a no-op while api.jwt_secret is empty.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := s.cfg.Get().API.JWTSecret
		if secret == "" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, newAPIError(http.StatusUnauthorized, "", "authentication required", nil))
			return
		}
		principal, err := authenticateJWT(token, secret)
		if err != nil {
			writeError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
	})
}

// requireAdmin guards mutating routes when api.require_admin_role is set.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := s.cfg.Get().API
		if cfg.JWTSecret == "" || !cfg.RequireAdminRole {
			next.ServeHTTP(w, r)
			return
		}
		p, ok := principalFromContext(r.Context())
		if !ok || !p.HasRole(mutatingRoles...) {
			writeError(w, newAPIError(http.StatusForbidden, "", "admin role required", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func actor(r *http.Request) string {
	if p, ok := principalFromContext(r.Context()); ok {
		return p.Subject
	}
	return "anonymous"
}
