package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"arkavo.org/accesscore/internal/audit"
	"arkavo.org/accesscore/internal/auth"
	"arkavo.org/accesscore/internal/chain"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
	tokenTTL   = 15 * time.Minute
)

// withAuth attaches the caller named by a bearer token. Requests without a
// token continue anonymously; transactions reject them later.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(authHeader)
		if r.Method == http.MethodOptions || strings.TrimSpace(header) == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(header)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="accessd"`)
			writeError(w, r, http.StatusUnauthorized, "", err.Error())
			return
		}
		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidToken):
				w.Header().Set("WWW-Authenticate", `Bearer realm="accessd", error="invalid_token"`)
				writeError(w, r, http.StatusUnauthorized, "", "invalid token")
			default:
				writeError(w, r, http.StatusInternalServerError, "", "authentication error")
			}
			return
		}
		principal, err := auth.PrincipalFromClaims(claims)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "", "invalid token")
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects principals without the node role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="accessd"`)
				writeError(w, r, http.StatusUnauthorized, "", "authentication required")
				return
			}
			if !p.HasRole(role) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="accessd", error="insufficient_scope"`)
				writeError(w, r, http.StatusForbidden, "", "missing role "+role)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

type tokenRequest struct {
	Caller chain.Address `json:"caller" validate:"required"`
	Roles  []string      `json:"roles" validate:"max=8,dive,oneof=operator"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleAuthToken issues development tokens for any caller. Disabled unless
// the node runs with dev tokens on.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if !a.devTokens {
		notFound(w, r)
		return
	}
	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	if req.Caller == (chain.Address{}) {
		badRequest(w, r, "caller is required")
		return
	}

	token, err := auth.GenerateToken(req.Caller, req.Roles, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "", "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(tokenTTL)
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"subject":    req.Caller.Hex(),
		"roles":      req.Roles,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
