// Package auth gates requests before they reach the renderer. It answers
// one question, whether the request carries a valid token, and records the
// principal that token belongs to in the request context.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	mdxerrors "github.com/conneroisu/mdxflow/internal/errors"
	"github.com/conneroisu/mdxflow/internal/logging"
)

// CookieName is the session cookie checked before the Authorization header.
const CookieName = "auth_token"

// Validator maps a token to a principal.
type Validator interface {
	Validate(ctx context.Context, token string) (principal string, err error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, token string) (string, error)

func (f ValidatorFunc) Validate(ctx context.Context, token string) (string, error) {
	return f(ctx, token)
}

// StaticTokens accepts a fixed set of tokens, keyed by token with the
// principal as value.
type StaticTokens map[string]string

// Validate compares in constant time against every known token.
func (s StaticTokens) Validate(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", mdxerrors.ErrUnauthorized
	}
	principal, found := "", false
	for known, p := range s {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			principal, found = p, true
		}
	}
	if !found {
		return "", mdxerrors.ErrUnauthorized
	}
	return principal, nil
}

type principalKey struct{}

// WithPrincipal returns ctx carrying principal.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// Principal returns the principal recorded by the gate.
func Principal(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(principalKey{}).(string)
	return p, ok
}

// Token extracts the request token from the auth_token cookie or a Bearer
// Authorization header.
func Token(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

// Gate is the authorization middleware.
type Gate struct {
	validator Validator
	logger    logging.Logger
}

// NewGate creates a gate. A nil validator admits every request.
func NewGate(v Validator, logger logging.Logger) *Gate {
	return &Gate{validator: v, logger: logging.OrNop(logger).WithComponent("auth")}
}

// Enabled reports whether the gate checks tokens.
func (g *Gate) Enabled() bool {
	return g != nil && g.validator != nil
}

// Middleware rejects requests without a valid token with 401 and a JSON
// body, and stores the principal for the rest.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	if !g.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := g.validator.Validate(r.Context(), Token(r))
		if err != nil {
			g.logger.Debug(r.Context(), "Rejected request", "path", r.URL.Path, "error", err.Error())
			Unauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// Unauthorized writes the 401 response.
func Unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
}
