// Package node assembles a running access-control chain: backend, host,
// the four modules at their derived addresses, and the event consumers.
package node

import (
	"context"
	"errors"
	"fmt"

	"arkavo.org/accesscore/internal/attrstore"
	"arkavo.org/accesscore/internal/audit"
	"arkavo.org/accesscore/internal/chain"
	"arkavo.org/accesscore/internal/config"
	"arkavo.org/accesscore/internal/host"
	"arkavo.org/accesscore/internal/obs"
	"arkavo.org/accesscore/internal/payment"
	"arkavo.org/accesscore/internal/policy"
	"arkavo.org/accesscore/internal/registry"
	"arkavo.org/accesscore/internal/state"
	"arkavo.org/accesscore/internal/store/pg"
	"arkavo.org/accesscore/internal/stream"
)

// Module names used to derive addresses from the deployer.
const (
	NameRegistry   = "access_registry"
	NameAttributes = "attribute_store"
	NamePolicy     = "policy_engine"
	NamePayments   = "payment_integration"
)

// Options selects how the modules behave.
type Options struct {
	Deployer    chain.Address
	Scheme      registry.Scheme
	FailPolicy  payment.FailPolicy
	HostOptions []host.Option
	// Quiet disables the audit subscriber.
	Quiet bool
}

// Node is a host with its modules deployed.
type Node struct {
	Host       *host.Host
	Registry   *registry.Registry
	Attributes *attrstore.Store
	Policy     *policy.Engine
	Payments   *payment.Integration
	Stream     *stream.Stream
	Deployer   chain.Address

	backend state.Backend
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Open picks the backend from cfg (Postgres when a DSN is set, memory
// otherwise) and builds the node.
func Open(ctx context.Context, cfg config.Config) (*Node, error) {
	var backend state.Backend
	if cfg.PGDSN != "" {
		store, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		backend = store
	} else {
		backend = state.NewMemory()
	}
	n, err := New(ctx, backend, Options{
		Deployer:   cfg.Deployer,
		Scheme:     cfg.MerkleScheme,
		FailPolicy: cfg.FailPolicy,
	})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return n, nil
}

// New deploys the modules over backend. It does not run genesis.
func New(ctx context.Context, backend state.Backend, opts Options) (*Node, error) {
	if opts.Deployer == (chain.Address{}) {
		return nil, errors.New("node: deployer is required")
	}
	h, err := host.New(ctx, backend, opts.HostOptions...)
	if err != nil {
		return nil, err
	}
	d := opts.Deployer
	n := &Node{
		Host:       h,
		Registry:   registry.New(chain.ModuleAddress(d, NameRegistry), registry.WithScheme(opts.Scheme)),
		Attributes: attrstore.New(chain.ModuleAddress(d, NameAttributes)),
		Policy:     policy.New(chain.ModuleAddress(d, NamePolicy)),
		Payments:   payment.New(chain.ModuleAddress(d, NamePayments), payment.WithFailPolicy(opts.FailPolicy)),
		Stream:     stream.New(),
		Deployer:   d,
		backend:    backend,
	}
	h.Deploy(n.Registry)
	h.Deploy(n.Attributes)
	h.Deploy(n.Policy)
	h.Deploy(n.Payments)

	h.Subscribe(n.Stream.Subscriber())
	if !opts.Quiet {
		h.Subscribe(audit.Subscriber())
	}
	return n, nil
}

// Initialized reports whether genesis has run against the backend.
func (n *Node) Initialized(ctx context.Context) (bool, error) {
	var owner chain.Address
	err := n.Host.Query(ctx, n.Deployer, func(c *chain.Call) error {
		var err error
		owner, err = n.Registry.Owner(c)
		return err
	})
	return owner != (chain.Address{}), err
}

// Bootstrap runs genesis once. A node resumed from a populated backend is
// left untouched.
func (n *Node) Bootstrap(ctx context.Context, g *config.Genesis) error {
	ok, err := n.Initialized(ctx)
	if err != nil {
		return err
	}
	if ok {
		obs.Info("genesis skipped", map[string]any{"reason": "already initialized", "block": n.Host.Block().Number})
		return nil
	}
	rcpt, err := n.Genesis(ctx, g)
	if err != nil {
		return err
	}
	obs.Info("genesis applied", map[string]any{"tx_id": rcpt.TxID, "events": len(rcpt.Events), "registry": n.Registry.Address().Hex()})
	return nil
}

// Genesis initialises and wires every module in one deployer transaction,
// then applies g.
func (n *Node) Genesis(ctx context.Context, g *config.Genesis) (host.Receipt, error) {
	if g == nil {
		g = &config.Genesis{}
	}
	return n.Host.Execute(ctx, n.Deployer, "genesis", func(c *chain.Call) error {
		steps := []func(*chain.Call) error{
			n.Registry.Init,
			n.Attributes.Init,
			n.Policy.Init,
			n.Payments.Init,
			func(c *chain.Call) error { return n.Registry.SetAttributeStore(c, n.Attributes.Address()) },
			func(c *chain.Call) error { return n.Registry.GrantRole(c, registry.RoleAdmin, n.Payments.Address()) },
			func(c *chain.Call) error { return n.Payments.SetAccessRegistry(c, n.Registry.Address()) },
			func(c *chain.Call) error { return n.Policy.SetAccessRegistry(c, n.Registry.Address()) },
			func(c *chain.Call) error { return n.Policy.SetAttributeStore(c, n.Attributes.Address()) },
		}
		for _, step := range steps {
			if err := step(c); err != nil {
				return err
			}
		}
		return n.applyGenesis(c, g)
	})
}

func (n *Node) applyGenesis(c *chain.Call, g *config.Genesis) error {
	for _, a := range config.Addresses(g.Admins) {
		if err := n.Registry.GrantRole(c, registry.RoleAdmin, a); err != nil {
			return fmt.Errorf("genesis admin %s: %w", a.Hex(), err)
		}
	}
	for _, a := range config.Addresses(g.SessionIssuers) {
		if err := n.Registry.GrantRole(c, registry.RoleSessionIssuer, a); err != nil {
			return fmt.Errorf("genesis session issuer %s: %w", a.Hex(), err)
		}
	}
	for _, a := range config.Addresses(g.Processors) {
		if err := n.Payments.AuthorizeProcessor(c, a); err != nil {
			return fmt.Errorf("genesis processor %s: %w", a.Hex(), err)
		}
	}
	for _, a := range config.Addresses(g.Publishers) {
		if err := n.Attributes.AuthorizePublisher(c, a); err != nil {
			return fmt.Errorf("genesis publisher %s: %w", a.Hex(), err)
		}
	}
	for _, s := range g.Scopes {
		id, err := s.ScopeHash()
		if err != nil {
			return fmt.Errorf("genesis scope %s: %w", s.ID, err)
		}
		required, err := s.RequiredHashes()
		if err != nil {
			return fmt.Errorf("genesis scope %s: %w", s.ID, err)
		}
		if err := n.Registry.SetScopeRequirement(c, id, required, s.IsActive()); err != nil {
			return fmt.Errorf("genesis scope %s: %w", s.ID, err)
		}
	}
	for _, e := range g.Entitlements {
		acct, err := chain.ParseAddress(e.Account)
		if err != nil {
			return fmt.Errorf("genesis entitlement: %w", err)
		}
		lvl, err := registry.ParseLevel(e.Level)
		if err != nil {
			return err
		}
		if err := n.Registry.GrantEntitlement(c, acct, lvl); err != nil {
			return fmt.Errorf("genesis entitlement %s: %w", e.Account, err)
		}
	}
	for _, p := range g.Policies {
		lvl := registry.LevelNone
		if p.MinEntitlement != "" {
			var err error
			if lvl, err = registry.ParseLevel(p.MinEntitlement); err != nil {
				return err
			}
		}
		if _, err := n.Policy.CreatePolicy(c, p.Resource, p.Attributes, uint8(lvl)); err != nil {
			return fmt.Errorf("genesis policy %s: %w", p.Resource, err)
		}
	}
	return nil
}

// Ready pings the backend when it supports it.
func (n *Node) Ready(ctx context.Context) error {
	if p, ok := n.backend.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close releases the backend.
func (n *Node) Close() error { return n.backend.Close() }
