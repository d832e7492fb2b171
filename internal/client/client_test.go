package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"arkavo.org/accesscore/internal/auth"
	"arkavo.org/accesscore/internal/chain"
	"arkavo.org/accesscore/internal/config"
	"arkavo.org/accesscore/internal/httpapi"
	"arkavo.org/accesscore/internal/node"
	"arkavo.org/accesscore/internal/registry"
	"arkavo.org/accesscore/internal/state"
)

var (
	deployer  = chain.Address{19: 0xD0}
	processor = chain.Address{19: 0xB1}
	publisher = chain.Address{19: 0xB2}
	alice     = chain.Address{19: 0xA1}
)

const genesis = `
processors: ["0x00000000000000000000000000000000000000b1"]
publishers: ["0x00000000000000000000000000000000000000b2"]
scopes:
  - id: scope:media
    required: [age_over_18]
`

func newNode(t *testing.T) *Client {
	t.Helper()
	t.Setenv("ACCESS_AUTH_SECRET", "client-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	ctx := context.Background()
	n, err := node.New(ctx, state.NewMemory(), node.Options{Deployer: deployer, Quiet: true})
	if err != nil {
		t.Fatal(err)
	}
	g, err := config.ParseGenesis([]byte(genesis))
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Bootstrap(ctx, g); err != nil {
		t.Fatal(err)
	}
	api := httpapi.New(n, httpapi.Options{Version: "test", DevTokens: true, RateBurst: 1000, RatePerSec: 1000})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return New(srv.URL, WithHTTPClient(srv.Client()))
}

func TestPaymentRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newNode(t)

	tok, err := c.DevToken(ctx, processor)
	if err != nil {
		t.Fatal(err)
	}
	proc := c.As(tok)
	id, err := proc.RecordPayment(ctx, PaymentRequest{
		Account:       alice,
		Provider:      "google",
		TransactionID: "gp-1",
		Amount:        499,
		Level:         registry.LevelPremium,
	})
	if err != nil {
		t.Fatal(err)
	}
	rcpt, err := proc.CompletePayment(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := rcpt.Find("PaymentCompleted"); !ok {
		t.Fatalf("receipt lacks PaymentCompleted: %+v", rcpt)
	}
	lvl, err := c.GetEntitlement(ctx, alice)
	if err != nil || lvl != registry.LevelPremium {
		t.Fatalf("entitlement %s, %v", lvl, err)
	}
	p, err := c.GetPayment(ctx, id)
	if err != nil || p.Status.String() != "completed" || p.Amount != 499 {
		t.Fatalf("payment %+v, %v", p, err)
	}

	_, err = proc.CompletePayment(ctx, id)
	if !errors.Is(err, chain.ErrInvalidStatus) || !IsStatus(err, http.StatusConflict) {
		t.Fatalf("expected InvalidStatus over the wire, got %v", err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newNode(t)

	info, err := c.Info(ctx)
	if err != nil {
		t.Fatal(err)
	}
	scheme, _ := registry.ParseScheme(info.MerkleScheme)
	root, proofs := registry.BuildMerkleTree(scheme, []chain.Hash{chain.LabelHash("age_over_18")})

	pubTok, _ := c.DevToken(ctx, publisher)
	if err := c.As(pubTok).PublishRoot(ctx, alice, root); err != nil {
		t.Fatal(err)
	}

	userTok, _ := c.DevToken(ctx, alice)
	id, err := c.As(userTok).RequestSession(ctx, SessionRequest{
		EphPubKey:      []byte{0x02, 0x01},
		Scope:          "scope:media",
		DurationBlocks: 5,
		Proofs:         proofs,
		Root:           root,
	})
	if err != nil {
		t.Fatal(err)
	}
	s, err := c.GetSession(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Valid || s.Requester != alice || s.ScopeID != chain.LabelHash("scope:media") {
		t.Fatalf("unexpected session %+v", s)
	}

	items, next, err := c.Events(ctx, 0, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) == 0 || items[len(items)-1].Name != registry.EventSessionRequested || next != items[len(items)-1].Seq {
		t.Fatalf("event log does not end with the session request: %d items", len(items))
	}
}

func TestAuthErrors(t *testing.T) {
	ctx := context.Background()
	c := newNode(t)

	_, err := c.GrantEntitlement(ctx, alice, registry.LevelVip)
	if !IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("expected 401, got %v", err)
	}

	tok, _ := c.DevToken(ctx, alice)
	_, err = c.As(tok).GrantEntitlement(ctx, alice, registry.LevelVip)
	if !errors.Is(err, chain.ErrNotOwner) {
		t.Fatalf("expected NotOwner, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.RequestID == "" {
		t.Fatalf("expected request id in error, got %#v", err)
	}

	if _, err := c.As(tok).SealBlock(ctx); !IsStatus(err, http.StatusForbidden) {
		t.Fatalf("expected 403 without operator role, got %v", err)
	}
	opTok, _ := c.DevToken(ctx, alice, auth.RoleOperator)
	b, err := c.As(opTok).SealBlock(ctx)
	if err != nil || b.Number != 2 {
		t.Fatalf("seal: %+v %v", b, err)
	}
}
