package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"arkavo.org/accesscore/internal/auth"
	"arkavo.org/accesscore/internal/chain"
	"arkavo.org/accesscore/internal/client"
	"arkavo.org/accesscore/internal/registry"
)

// Drives a node started with dev tokens and a genesis that authorizes the
// processor and publisher below and defines scope:media.
func main() {
	log.SetFlags(0)
	addr := os.Getenv("ACCESS_URL")
	if addr == "" {
		addr = "http://localhost:8080"
	}
	var (
		url       = flag.String("url", addr, "accessd base URL")
		processor = flag.String("processor", "0x00000000000000000000000000000000000000b1", "authorized payment processor")
		publisher = flag.String("publisher", "0x00000000000000000000000000000000000000b2", "authorized attribute publisher")
		scope     = flag.String("scope", "scope:media", "scope requiring age_over_18")
		timeout   = flag.Duration("timeout", 10*time.Second, "overall deadline")
	)
	flag.Parse()

	ctx, cancel := client.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := client.New(*url)
	if err := c.Ready(ctx); err != nil {
		log.Fatalf("node at %s not ready: %v", *url, err)
	}

	procAddr := mustAddress(*processor)
	pubAddr := mustAddress(*publisher)
	var user chain.Address
	rand.New(rand.NewSource(time.Now().UnixNano())).Read(user[:])

	proc := c.As(mustToken(ctx, c, procAddr))
	txID := fmt.Sprintf("smoke-%s", user.Hex()[2:10])
	id, err := proc.RecordPayment(ctx, client.PaymentRequest{
		Account:       user,
		Provider:      "smoke",
		TransactionID: txID,
		Amount:        100,
		Level:         registry.LevelPremium,
	})
	if err != nil {
		log.Fatalf("record payment: %v", err)
	}
	if _, err := proc.CompletePayment(ctx, id); err != nil {
		log.Fatalf("complete payment %d: %v", id, err)
	}
	lvl, err := c.GetEntitlement(ctx, user)
	if err != nil {
		log.Fatalf("entitlement: %v", err)
	}
	if lvl != registry.LevelPremium {
		log.Fatalf("expected premium entitlement after payment, got %s", lvl)
	}

	info, err := c.Info(ctx)
	if err != nil {
		log.Fatalf("info: %v", err)
	}
	scheme, _ := registry.ParseScheme(info.MerkleScheme)
	root, proofs := registry.BuildMerkleTree(scheme, []chain.Hash{chain.LabelHash("age_over_18"), chain.LabelHash("smoke")})
	if err := c.As(mustToken(ctx, c, pubAddr)).PublishRoot(ctx, user, root); err != nil {
		log.Fatalf("publish root: %v", err)
	}

	userClient := c.As(mustToken(ctx, c, user))
	sid, err := userClient.RequestSession(ctx, client.SessionRequest{
		EphPubKey:      []byte{0x02, 0x5a},
		Scope:          *scope,
		DurationBlocks: 100,
		Proofs:         proofs[:1],
		Root:           root,
	})
	if err != nil {
		log.Fatalf("request session: %v", err)
	}
	s, err := c.GetSession(ctx, sid)
	if err != nil || !s.Valid {
		log.Fatalf("session %s not valid: %v", sid.Hex(), err)
	}

	_, err = userClient.RequestSession(ctx, client.SessionRequest{Scope: *scope, Proofs: proofs[:1], Root: chain.LabelHash("forged")})
	if !errors.Is(err, chain.ErrInvalidProof) {
		log.Fatalf("forged root accepted or wrong error: %v", err)
	}

	opTok, err := c.DevToken(ctx, procAddr, auth.RoleOperator)
	if err != nil {
		log.Fatalf("operator token: %v", err)
	}
	block, err := c.As(opTok).SealBlock(ctx)
	if err != nil {
		log.Fatalf("seal block: %v", err)
	}
	if s, err = c.GetSession(ctx, sid); err != nil || !s.Valid || s.CreatedAtBlock >= block.Number {
		log.Fatalf("session %s after seal: %+v %v", sid.Hex(), s, err)
	}

	fmt.Printf("accessd smoke test passed: payment=%d session=%s\n", id, sid.Hex())
}

func mustAddress(s string) chain.Address {
	a, err := chain.ParseAddress(s)
	if err != nil {
		log.Fatalf("address %q: %v", s, err)
	}
	return a
}

func mustToken(ctx context.Context, c *client.Client, caller chain.Address) string {
	tok, err := c.DevToken(ctx, caller)
	if err != nil {
		log.Fatalf("dev token for %s: %v (is the node running with --dev-tokens?)", caller.Hex(), err)
	}
	return tok
}
