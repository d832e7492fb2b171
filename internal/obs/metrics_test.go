package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                   "/",
		"/metrics":                           "/metrics",
		"/v1/entitlements/0xabc0":            "/v1/entitlements/:hex",
		"/v1/sessions/0x01/revoke":           "/v1/sessions/:hex/revoke",
		"/v1/policies/12":                    "/v1/policies/:id",
		"/v1/policies/12/evaluate?account=1": "/v1/policies/:id/evaluate",
		"/v1/events":                         "/v1/events",
		"/v1/payments/tx/apple-1":            "/v1/payments/tx/apple-1",
		"/v1/x/0x":                           "/v1/x/0x",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentPassesStatusThrough(t *testing.T) {
	Init()
	Init()
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/policies/3", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", rec.Code)
	}
	ObserveTx("registry.GrantEntitlement", "ok", time.Millisecond)
	SetBlockHeight(3)
	CountEvent("EntitlementGranted")
}
