package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"arkavo.org/accesscore/internal/auth"
	"arkavo.org/accesscore/internal/chain"
)

var testCaller = chain.Address{19: 0x42}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireRoleAllowsMatchingRole(t *testing.T) {
	handler := RequireRole(auth.RoleOperator)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/blocks/seal", nil)
	req = req.WithContext(auth.ContextWithCaller(req.Context(), testCaller, auth.RoleOperator))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireRoleRejectsMissingRole(t *testing.T) {
	handler := RequireRole(auth.RoleOperator)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/blocks/seal", nil)
	req = req.WithContext(auth.ContextWithCaller(req.Context(), testCaller))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestRequireRoleRejectsMissingCaller(t *testing.T) {
	handler := RequireRole(auth.RoleOperator)(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/blocks/seal", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestWithAuthAttachesCaller(t *testing.T) {
	t.Setenv("ACCESS_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	var (
		got    chain.Address
		authed bool
	)
	a := &API{}
	handler := a.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, authed = auth.CallerFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	token, err := auth.GenerateToken(testCaller, nil, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/info", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || !authed || got != testCaller {
		t.Fatalf("caller not attached: code=%d caller=%s", rr.Code, got.Hex())
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/info", nil))
	if rr.Code != http.StatusOK || authed {
		t.Fatalf("anonymous request should pass without a caller: code=%d", rr.Code)
	}

	cases := map[string]string{
		"scheme":  "Basic abc",
		"empty":   "Bearer ",
		"garbage": "Bearer not-a-jwt",
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "/v1/info", nil)
		req.Header.Set("Authorization", header)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, rr.Code)
		}
		if rr.Header().Get("WWW-Authenticate") == "" {
			t.Fatalf("%s: expected WWW-Authenticate", name)
		}
	}
}

func TestExtractBearerToken(t *testing.T) {
	if tok, err := extractBearerToken("bearer abc"); err != nil || tok != "abc" {
		t.Fatalf("case-insensitive scheme: %q %v", tok, err)
	}
	if _, err := extractBearerToken("Token abc"); err == nil {
		t.Fatal("expected scheme error")
	}
}
