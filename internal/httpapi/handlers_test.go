package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"arkavo.org/accesscore/internal/auth"
	"arkavo.org/accesscore/internal/chain"
	"arkavo.org/accesscore/internal/config"
	"arkavo.org/accesscore/internal/node"
	"arkavo.org/accesscore/internal/registry"
	"arkavo.org/accesscore/internal/state"
)

var (
	deployer  = chain.Address{19: 0xDE}
	processor = chain.Address{19: 0xB1}
	publisher = chain.Address{19: 0xB2}
	alice     = chain.Address{19: 0xA1}
	mallory   = chain.Address{19: 0xEE}
)

const testGenesis = `
processors: ["0x00000000000000000000000000000000000000b1"]
publishers: ["0x00000000000000000000000000000000000000b2"]
scopes:
  - id: scope:media
    required: [age_over_18]
policies:
  - resource: report/q3
    attributes:
      - key: org.role
        value: auditor
    min_entitlement: basic
`

type apiClient struct {
	baseURL string
	client  *http.Client
	node    *node.Node
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("ACCESS_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	ctx := context.Background()
	n, err := node.New(ctx, state.NewMemory(), node.Options{Deployer: deployer, Quiet: true})
	if err != nil {
		t.Fatal(err)
	}
	g, err := config.ParseGenesis([]byte(testGenesis))
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Bootstrap(ctx, g); err != nil {
		t.Fatal(err)
	}

	api := New(n, Options{Version: "test", DevTokens: true, RateBurst: 1000, RatePerSec: 1000})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), node: n, t: t}
}

func (c *apiClient) token(caller chain.Address, roles ...string) string {
	c.t.Helper()
	tok, err := auth.GenerateToken(caller, roles, time.Minute)
	if err != nil {
		c.t.Fatalf("generate token: %v", err)
	}
	return tok
}

func (c *apiClient) do(method, path, token string, body any) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

// expect asserts the status and decodes the body into out when non-nil.
func (c *apiClient) expect(resp *http.Response, code int, out any) {
	c.t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != code {
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		c.t.Fatalf("%s %s: expected %d, got %d (%v)", resp.Request.Method, resp.Request.URL.Path, code, resp.StatusCode, body)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.t.Fatalf("decode response: %v", err)
		}
	}
}

type errorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	RequestID string `json:"request_id"`
}

func TestHealthReadyAndInfo(t *testing.T) {
	c := newTestAPI(t)
	c.expect(c.do(http.MethodGet, "/healthz", "", nil), http.StatusOK, nil)
	c.expect(c.do(http.MethodGet, "/readyz", "", nil), http.StatusOK, nil)

	var info struct {
		Name    string                   `json:"name"`
		Modules map[string]chain.Address `json:"modules"`
		Scheme  string                   `json:"merkle_scheme"`
	}
	c.expect(c.do(http.MethodGet, "/v1/info", "", nil), http.StatusOK, &info)
	if info.Name != serviceName || info.Modules[node.NameRegistry] != c.node.Registry.Address() {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.Scheme != registry.SchemeLegacy.String() {
		t.Fatalf("unexpected scheme %q", info.Scheme)
	}
}

func TestWritesRequireAuthentication(t *testing.T) {
	c := newTestAPI(t)
	var body errorBody
	c.expect(c.do(http.MethodPut, "/v1/entitlements/"+alice.Hex(), "", map[string]any{"level": "vip"}), http.StatusUnauthorized, &body)
	if body.Error == "" || body.RequestID == "" {
		t.Fatalf("unexpected error envelope %+v", body)
	}
}

func TestEntitlementEndpoints(t *testing.T) {
	c := newTestAPI(t)
	admin := c.token(deployer)

	c.expect(c.do(http.MethodPut, "/v1/entitlements/"+alice.Hex(), admin, map[string]any{"level": "premium"}), http.StatusOK, nil)

	var view struct {
		Level   registry.Level `json:"level"`
		Allowed *bool          `json:"allowed"`
	}
	c.expect(c.do(http.MethodGet, "/v1/entitlements/"+alice.Hex()+"?required=vip", "", nil), http.StatusOK, &view)
	if view.Level != registry.LevelPremium || view.Allowed == nil || *view.Allowed {
		t.Fatalf("unexpected entitlement view %+v", view)
	}

	var denied errorBody
	c.expect(c.do(http.MethodPut, "/v1/entitlements/"+alice.Hex(), c.token(mallory), map[string]any{"level": "vip"}), http.StatusForbidden, &denied)
	if denied.Kind != "NotOwner" {
		t.Fatalf("expected NotOwner, got %+v", denied)
	}

	var bad errorBody
	c.expect(c.do(http.MethodPut, "/v1/entitlements/"+alice.Hex(), admin, map[string]any{"level": "gold"}), http.StatusBadRequest, &bad)
	if bad.Kind != "InvalidEntitlementLevel" {
		t.Fatalf("expected InvalidEntitlementLevel, got %+v", bad)
	}

	c.expect(c.do(http.MethodDelete, "/v1/entitlements/"+alice.Hex(), admin, nil), http.StatusOK, nil)
	c.expect(c.do(http.MethodGet, "/v1/entitlements/"+alice.Hex(), "", nil), http.StatusOK, &view)
	if view.Level != registry.LevelNone {
		t.Fatalf("entitlement not revoked: %s", view.Level)
	}
}

func TestPaymentCompletionGrantsEntitlement(t *testing.T) {
	c := newTestAPI(t)
	proc := c.token(processor)

	record := map[string]any{
		"account":           alice,
		"provider":          "apple",
		"transaction_id":    "txn-1",
		"amount":            999,
		"entitlement_level": "vip",
	}
	var recorded struct {
		Result struct {
			PaymentID uint32 `json:"payment_id"`
		} `json:"result"`
	}
	c.expect(c.do(http.MethodPost, "/v1/payments", proc, record), http.StatusCreated, &recorded)

	var dup errorBody
	c.expect(c.do(http.MethodPost, "/v1/payments", proc, record), http.StatusConflict, &dup)
	if dup.Kind != "PaymentAlreadyExists" {
		t.Fatalf("expected PaymentAlreadyExists, got %+v", dup)
	}

	var done struct {
		Receipt struct {
			Events []struct {
				Name string `json:"name"`
			} `json:"events"`
		} `json:"receipt"`
	}
	c.expect(c.do(http.MethodPost, "/v1/payments/0/complete", proc, nil), http.StatusOK, &done)
	names := make([]string, 0, len(done.Receipt.Events))
	for _, ev := range done.Receipt.Events {
		names = append(names, ev.Name)
	}
	if strings.Join(names, ",") != "EntitlementGranted,PaymentCompleted" {
		t.Fatalf("unexpected events %v", names)
	}

	var p struct {
		Status string `json:"status"`
	}
	c.expect(c.do(http.MethodGet, "/v1/payments/by-transaction/txn-1", "", nil), http.StatusOK, &p)
	if p.Status != "completed" {
		t.Fatalf("unexpected status %q", p.Status)
	}

	var view struct {
		Level registry.Level `json:"level"`
	}
	c.expect(c.do(http.MethodGet, "/v1/entitlements/"+alice.Hex(), "", nil), http.StatusOK, &view)
	if view.Level != registry.LevelVip {
		t.Fatalf("expected vip, got %s", view.Level)
	}

	var conflict errorBody
	c.expect(c.do(http.MethodPost, "/v1/payments/0/complete", proc, nil), http.StatusConflict, &conflict)
	if conflict.Kind != "InvalidStatus" {
		t.Fatalf("expected InvalidStatus, got %+v", conflict)
	}
	c.expect(c.do(http.MethodPost, "/v1/payments/0/refund", proc, nil), http.StatusOK, nil)
	c.expect(c.do(http.MethodGet, "/v1/payments/7", "", nil), http.StatusNotFound, nil)
}

func TestSessionRequestWithProofs(t *testing.T) {
	c := newTestAPI(t)

	leaves := []chain.Hash{chain.LabelHash("age_over_18"), chain.LabelHash("country:kz")}
	root, proofs := registry.BuildMerkleTree(c.node.Registry.Scheme(), leaves)
	c.expect(c.do(http.MethodPut, "/v1/attributes/"+alice.Hex()+"/root", c.token(publisher), map[string]any{"root": root}), http.StatusOK, nil)

	indices := make([]int, len(proofs[0].ProofIndices))
	for i, b := range proofs[0].ProofIndices {
		indices[i] = int(b)
	}
	req := map[string]any{
		"eph_pub_key":     "0x02aabbcc",
		"scope":           "scope:media",
		"duration_blocks": 10,
		"root":            root,
		"proofs": []map[string]any{{
			"attribute":     "age_over_18",
			"proof_path":    proofs[0].ProofPath,
			"proof_indices": indices,
		}},
	}
	user := c.token(alice)
	var created struct {
		Result struct {
			SessionID chain.Hash `json:"session_id"`
		} `json:"result"`
	}
	c.expect(c.do(http.MethodPost, "/v1/sessions/request", user, req), http.StatusCreated, &created)

	var session struct {
		Valid     bool          `json:"valid"`
		Requester chain.Address `json:"requester"`
	}
	c.expect(c.do(http.MethodGet, "/v1/sessions/"+created.Result.SessionID.Hex(), "", nil), http.StatusOK, &session)
	if !session.Valid || session.Requester != alice {
		t.Fatalf("unexpected session %+v", session)
	}

	req["root"] = chain.LabelHash("forged")
	var forged errorBody
	c.expect(c.do(http.MethodPost, "/v1/sessions/request", user, req), http.StatusUnprocessableEntity, &forged)
	if forged.Kind != "InvalidProof" {
		t.Fatalf("expected InvalidProof, got %+v", forged)
	}

	var missing errorBody
	c.expect(c.do(http.MethodPost, "/v1/sessions/request", user, map[string]any{"scope": "scope:none", "root": root}), http.StatusNotFound, &missing)
	if missing.Kind != "ScopeNotFound" {
		t.Fatalf("expected ScopeNotFound, got %+v", missing)
	}

	c.expect(c.do(http.MethodDelete, "/v1/sessions/"+created.Result.SessionID.Hex(), c.token(deployer), nil), http.StatusOK, nil)
	c.expect(c.do(http.MethodGet, "/v1/sessions/"+created.Result.SessionID.Hex(), "", nil), http.StatusOK, &session)
	if session.Valid {
		t.Fatal("revoked session still valid")
	}
	c.expect(c.do(http.MethodGet, "/v1/sessions/not-a-hash", "", nil), http.StatusBadRequest, nil)
}

func TestPolicyEvaluation(t *testing.T) {
	c := newTestAPI(t)
	admin := c.token(deployer)
	eval := map[string]any{"account": alice}

	var decision struct {
		Result struct {
			Allowed bool `json:"allowed"`
		} `json:"result"`
	}
	c.expect(c.do(http.MethodPost, "/v1/policies/0/evaluate", admin, eval), http.StatusOK, &decision)
	if decision.Result.Allowed {
		t.Fatal("expected denial without entitlement")
	}

	c.expect(c.do(http.MethodPut, "/v1/entitlements/"+alice.Hex(), admin, map[string]any{"level": "basic"}), http.StatusOK, nil)
	c.expect(c.do(http.MethodPut, "/v1/attributes/"+alice.Hex()+"/claims/org.role", c.token(publisher), map[string]any{"value": "auditor"}), http.StatusOK, nil)

	var holds struct {
		Holds bool `json:"holds"`
	}
	c.expect(c.do(http.MethodGet, "/v1/attributes/"+alice.Hex()+"/claims/org.role?value=auditor", "", nil), http.StatusOK, &holds)
	if !holds.Holds {
		t.Fatal("claim not stored")
	}

	c.expect(c.do(http.MethodPost, "/v1/policies/0/evaluate", admin, eval), http.StatusOK, &decision)
	if !decision.Result.Allowed {
		t.Fatal("expected access granted")
	}

	var created struct {
		Result struct {
			PolicyID uint32 `json:"policy_id"`
		} `json:"result"`
	}
	c.expect(c.do(http.MethodPost, "/v1/policies", admin, map[string]any{"resource": "bucket/a", "min_entitlement": "vip"}), http.StatusCreated, &created)
	if created.Result.PolicyID != 1 {
		t.Fatalf("unexpected policy id %d", created.Result.PolicyID)
	}
	c.expect(c.do(http.MethodPut, "/v1/policies/1", admin, map[string]any{"min_entitlement": "none", "active": false}), http.StatusOK, nil)

	var rule struct {
		ResourceID string `json:"resource_id"`
		Active     bool   `json:"active"`
	}
	c.expect(c.do(http.MethodGet, "/v1/policies/1", "", nil), http.StatusOK, &rule)
	if rule.ResourceID != "bucket/a" || rule.Active {
		t.Fatalf("unexpected rule %+v", rule)
	}
	c.expect(c.do(http.MethodDelete, "/v1/policies/1", admin, nil), http.StatusOK, nil)

	var gone errorBody
	c.expect(c.do(http.MethodGet, "/v1/policies/1", "", nil), http.StatusNotFound, &gone)
	if gone.Kind != "PolicyNotFound" {
		t.Fatalf("expected PolicyNotFound, got %+v", gone)
	}
}

func TestRequestValidation(t *testing.T) {
	c := newTestAPI(t)
	proc := c.token(processor)

	c.expect(c.do(http.MethodPost, "/v1/payments", proc, map[string]any{"provider": "apple"}), http.StatusBadRequest, nil)
	c.expect(c.do(http.MethodPost, "/v1/payments", proc, map[string]any{"unknown": true}), http.StatusBadRequest, nil)
	c.expect(c.do(http.MethodPut, "/v1/registry/roles/superuser/"+alice.Hex(), c.token(deployer), nil), http.StatusBadRequest, nil)
	c.expect(c.do(http.MethodGet, "/v1/entitlements/not-an-address", "", nil), http.StatusBadRequest, nil)
	c.expect(c.do(http.MethodGet, "/v1/nowhere", "", nil), http.StatusNotFound, nil)
	c.expect(c.do(http.MethodPatch, "/healthz", "", nil), http.StatusMethodNotAllowed, nil)

	// A mistyped 0x hash is rejected, never hashed as a label.
	user := c.token(alice)
	c.expect(c.do(http.MethodGet, "/v1/scopes/0xdeadbeef", "", nil), http.StatusBadRequest, nil)
	c.expect(c.do(http.MethodPut, "/v1/scopes/scope:new", c.token(deployer), map[string]any{"required": []string{"0x12"}}), http.StatusBadRequest, nil)
	c.expect(c.do(http.MethodPost, "/v1/sessions/request", user, map[string]any{"scope": "0xnot-a-hash", "duration_blocks": 1}), http.StatusBadRequest, nil)
	c.expect(c.do(http.MethodPost, "/v1/sessions/request", user, map[string]any{
		"scope":           "scope:media",
		"duration_blocks": 1,
		"proofs":          []map[string]any{{"attribute": "0xabc", "proof_path": []string{}, "proof_indices": []int{}}},
	}), http.StatusBadRequest, nil)
}

func TestRoleEndpoints(t *testing.T) {
	c := newTestAPI(t)
	admin := c.token(deployer)
	path := "/v1/registry/roles/session_issuer/" + alice.Hex()

	c.expect(c.do(http.MethodPut, path, admin, nil), http.StatusOK, nil)
	var view struct {
		Role    string `json:"role"`
		Granted bool   `json:"granted"`
	}
	c.expect(c.do(http.MethodGet, path, "", nil), http.StatusOK, &view)
	if view.Role != "session_issuer" || !view.Granted {
		t.Fatalf("unexpected role view %+v", view)
	}

	var permanent errorBody
	c.expect(c.do(http.MethodDelete, "/v1/registry/roles/admin/"+deployer.Hex(), admin, nil), http.StatusConflict, &permanent)
	if permanent.Kind != "InvalidStatus" {
		t.Fatalf("expected InvalidStatus, got %+v", permanent)
	}
}

func TestEventsAndBlocks(t *testing.T) {
	c := newTestAPI(t)

	var page struct {
		Items     []struct{ Seq uint64 } `json:"items"`
		NextAfter uint64                 `json:"next_after"`
	}
	c.expect(c.do(http.MethodGet, "/v1/events?limit=2", "", nil), http.StatusOK, &page)
	if len(page.Items) != 2 || page.NextAfter != 2 {
		t.Fatalf("unexpected page %+v", page)
	}
	c.expect(c.do(http.MethodGet, "/v1/events?limit=5000", "", nil), http.StatusBadRequest, nil)

	c.expect(c.do(http.MethodPost, "/v1/blocks/seal", "", nil), http.StatusUnauthorized, nil)
	c.expect(c.do(http.MethodPost, "/v1/blocks/seal", c.token(deployer), nil), http.StatusForbidden, nil)

	var block struct {
		Number uint64 `json:"number"`
	}
	c.expect(c.do(http.MethodPost, "/v1/blocks/seal", c.token(deployer, auth.RoleOperator), nil), http.StatusOK, &block)
	if block.Number != 2 {
		t.Fatalf("expected block 2, got %d", block.Number)
	}
	c.expect(c.do(http.MethodGet, "/v1/block", "", nil), http.StatusOK, &block)
	if block.Number != 2 {
		t.Fatalf("block endpoint disagrees: %d", block.Number)
	}
}

func TestDevTokenEndpoint(t *testing.T) {
	c := newTestAPI(t)
	var tok tokenResponse
	c.expect(c.do(http.MethodPost, "/v1/auth/token", "", map[string]any{"caller": deployer, "roles": []string{"operator"}}), http.StatusOK, &tok)
	if tok.Token == "" {
		t.Fatal("empty token")
	}
	c.expect(c.do(http.MethodPost, "/v1/blocks/seal", tok.Token, nil), http.StatusOK, nil)
	c.expect(c.do(http.MethodPost, "/v1/auth/token", "", map[string]any{"caller": deployer, "roles": []string{"root"}}), http.StatusBadRequest, nil)
}

func TestEventStream(t *testing.T) {
	c := newTestAPI(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/events/stream?name=EntitlementGranted", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	c.expect(c.do(http.MethodPut, "/v1/entitlements/"+alice.Hex(), c.token(deployer), map[string]any{"level": "basic"}), http.StatusOK, nil)

	reader := bufio.NewReader(resp.Body)
	var event, data string
	for data == "" {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
	if event != "EntitlementGranted" {
		t.Fatalf("unexpected event %q", event)
	}
	var rec struct {
		Module chain.Address `json:"module"`
	}
	if err := json.Unmarshal([]byte(data), &rec); err != nil || rec.Module != c.node.Registry.Address() {
		t.Fatalf("unexpected record %s (%v)", data, err)
	}
}
