package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"orgline/internal/domain"
)

// Scopes carried in the token "scopes" claim.
const (
	ScopeRead  = "orgline.read"
	ScopeWrite = "orgline.write"
	ScopeAll   = "*"
)

// AuthConfig enables bearer authentication when JWTSecret is set. Without a
// secret every request runs as an anonymous principal holding all scopes.
type AuthConfig struct {
	JWTSecret string
	Logger    *slog.Logger
}

// Principal is the caller. Roles, when present, bind the caller to the
// company roles it may send messages as.
type Principal struct {
	Subject string
	Roles   []string
	Scopes  []string
	Source  string
}

// ForbiddenError reports a missing scope or an unbound sender role.
type ForbiddenError struct {
	Scope string
	Role  string
}

func (e ForbiddenError) Error() string {
	if e.Role != "" {
		return fmt.Sprintf("forbidden: not allowed to act as %s", e.Role)
	}
	return fmt.Sprintf("forbidden: missing scope %s", e.Scope)
}

func (e ForbiddenError) details() map[string]any {
	if e.Role != "" {
		return map[string]any{"role": e.Role}
	}
	return map[string]any{"scope": e.Scope}
}

type principalKey struct{}

func (c AuthConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c AuthConfig) enabled() bool { return strings.TrimSpace(c.JWTSecret) != "" }

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func (p Principal) hasScope(scope string) bool {
	return slices.Contains(p.Scopes, ScopeAll) || slices.Contains(p.Scopes, scope)
}

func requireScope(ctx context.Context, scope string) error {
	p, ok := principalFromContext(ctx)
	if !ok {
		return newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	if !p.hasScope(scope) {
		return ForbiddenError{Scope: scope}
	}
	return nil
}

// requireSender rejects messages sent as a role the token is not bound to.
// Tokens without roles may send as anyone.
func requireSender(ctx context.Context, sender domain.Role) error {
	p, ok := principalFromContext(ctx)
	if !ok {
		return newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	if len(p.Roles) == 0 || slices.Contains(p.Roles, string(sender)) {
		return nil
	}
	return ForbiddenError{Role: string(sender)}
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Roles  []string `json:"roles,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
}

func authenticateJWT(token string, secret string) (Principal, error) {
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
	for _, r := range claims.Roles {
		if !domain.Role(r).Valid() {
			return Principal{}, fmt.Errorf("%w in roles claim: %q", domain.ErrUnknownRole, r)
		}
	}
	scopes := claims.Scopes
	if len(scopes) == 0 {
		scopes = []string{ScopeRead}
	}
	return Principal{
		Subject: claims.Subject,
		Roles:   claims.Roles,
		Scopes:  scopes,
		Source:  "jwt",
	}, nil
}

// SignToken issues an HS256 token for subject. A zero ttl issues a token
// without expiry.
func SignToken(secret, subject string, roles, scopes []string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject is required")
	}
	now := time.Now().UTC()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
			Issuer:   "orgline",
		},
		Roles:  roles,
		Scopes: scopes,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	healthPath := path.Join(basePath, "health")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if req.URL.Path == healthPath || req.URL.Path == path.Join(basePath, "openapi.json") {
				next.ServeHTTP(w, req)
				return
			}
			if !cfg.enabled() {
				ctx := withPrincipal(req.Context(), Principal{Subject: "anonymous", Scopes: []string{ScopeAll}, Source: "open"})
				next.ServeHTTP(w, req.WithContext(ctx))
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			if authz == "" {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			token, ok := bearerToken(authz)
			if !ok {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			principal, err := authenticateJWT(token, cfg.JWTSecret)
			if err != nil {
				cfg.logger().Debug("rejected token", "path", req.URL.Path, "err", err)
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
