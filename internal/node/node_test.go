package node

import (
	"context"
	"testing"

	"arkavo.org/accesscore/internal/attrstore"
	"arkavo.org/accesscore/internal/chain"
	"arkavo.org/accesscore/internal/config"
	"arkavo.org/accesscore/internal/registry"
	"arkavo.org/accesscore/internal/state"
)

var deployer = chain.Address{0xDE}

const genesisDoc = `
processors: ["0x00000000000000000000000000000000000000b1"]
publishers: ["0x00000000000000000000000000000000000000b2"]
scopes:
  - id: scope:media
    required: [age_over_18]
entitlements:
  - account: "0x00000000000000000000000000000000000000c1"
    level: basic
policies:
  - resource: report/q3
    attributes:
      - key: org.role
        value: auditor
    min_entitlement: basic
`

func newNode(t *testing.T, backend state.Backend) *Node {
	t.Helper()
	n, err := New(context.Background(), backend, Options{Deployer: deployer, Quiet: true})
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestGenesisWiresModules(t *testing.T) {
	ctx := context.Background()
	n := newNode(t, state.NewMemory())
	g, err := config.ParseGenesis([]byte(genesisDoc))
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Bootstrap(ctx, g); err != nil {
		t.Fatal(err)
	}

	processor := chain.Address{19: 0xb1}
	publisher := chain.Address{19: 0xb2}
	account := chain.Address{19: 0xc1}

	_ = n.Host.Query(ctx, deployer, func(c *chain.Call) error {
		if ok, _ := n.Registry.HasRole(c, registry.RoleAdmin, n.Payments.Address()); !ok {
			t.Fatal("payment module lacks admin role")
		}
		if store, ok, _ := n.Registry.AttributeStore(c); !ok || store != n.Attributes.Address() {
			t.Fatal("attribute store not wired")
		}
		if ok, _ := n.Payments.IsAuthorizedProcessor(c, processor); !ok {
			t.Fatal("processor not authorized")
		}
		if ok, _ := n.Attributes.IsPublisher(c, publisher); !ok {
			t.Fatal("publisher not authorized")
		}
		if lvl, _ := n.Registry.GetEntitlement(c, account); lvl != registry.LevelBasic {
			t.Fatalf("entitlement %s", lvl)
		}
		req, ok, _ := n.Registry.GetScopeRequirement(c, chain.LabelHash("scope:media"))
		if !ok || !req.Active || req.RequiredAttributes[0] != chain.LabelHash("age_over_18") {
			t.Fatalf("scope not seeded: %+v", req)
		}
		if next, _ := n.Policy.NextPolicyID(c); next != 1 {
			t.Fatalf("policy not created: next=%d", next)
		}
		return nil
	})

	// A processor completing a payment reaches the registry through the genesis wiring.
	if _, err := n.Host.Execute(ctx, processor, "payment.flow", func(c *chain.Call) error {
		id, err := n.Payments.RecordPayment(c, account, "stripe", "pi_1", 500, uint8(registry.LevelVip))
		if err != nil {
			return err
		}
		return n.Payments.CompletePayment(c, id)
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := n.Host.Execute(ctx, publisher, "claim", func(c *chain.Call) error {
		return n.Attributes.SetClaim(c, account, "org.role", attrstore.ValueHash("auditor"))
	}); err != nil {
		t.Fatal(err)
	}
	var allowed bool
	if _, err := n.Host.Execute(ctx, account, "evaluate", func(c *chain.Call) error {
		var err error
		allowed, err = n.Policy.EvaluateAccess(c, account, 0)
		return err
	}); err != nil {
		t.Fatal(err)
	}
	if !allowed {
		t.Fatal("genesis policy should allow a vip account with the claim")
	}
}

func TestBootstrapRunsOnce(t *testing.T) {
	ctx := context.Background()
	mem := state.NewMemory()
	n := newNode(t, mem)
	if err := n.Bootstrap(ctx, nil); err != nil {
		t.Fatal(err)
	}
	seq := n.Host.LastSeq()

	resumed := newNode(t, mem)
	if ok, err := resumed.Initialized(ctx); err != nil || !ok {
		t.Fatalf("resumed node not initialized: %v", err)
	}
	if err := resumed.Bootstrap(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if resumed.Host.LastSeq() != seq {
		t.Fatalf("genesis re-ran: %d != %d", resumed.Host.LastSeq(), seq)
	}
	if resumed.Registry.Address() != n.Registry.Address() {
		t.Fatal("module addresses are not deterministic")
	}
}

func TestNewRequiresDeployer(t *testing.T) {
	if _, err := New(context.Background(), state.NewMemory(), Options{}); err == nil {
		t.Fatal("expected error without deployer")
	}
	n := newNode(t, state.NewMemory())
	if err := n.Ready(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := n.Close(); err != nil {
		t.Fatal(err)
	}
}
