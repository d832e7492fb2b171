// Package registry implements the Access Registry: the entitlement ladder,
// the role table, scope requirements, and the session table with its
// Merkle-proof-gated issuance flow.
package registry

import (
	"fmt"

	"arkavo.org/accesscore/internal/chain"
	"arkavo.org/accesscore/internal/state"
)

const (
	// MaxScopeAttributes caps the commitments a scope may require.
	MaxScopeAttributes = 64
	// MaxProofs caps the proofs accepted by RequestSession.
	MaxProofs = 64
	// MaxEphKeyLength bounds the ephemeral key; a compressed point is 33 bytes.
	MaxEphKeyLength = 65
)

// RootSource is the part of the Attribute Store the registry reads.
type RootSource interface {
	GetRoot(c *chain.Call, account chain.Address) (chain.Hash, bool, error)
}

type roleKey struct {
	role Role
	addr chain.Address
}

func encodeRoleKey(k roleKey) []byte {
	return append([]byte{byte(k.role)}, k.addr.Bytes()...)
}

// Registry is a handle on the registry module deployed at one address. It
// holds no state of its own; everything lives in the call's store.
type Registry struct {
	addr   chain.Address
	scheme Scheme

	owner        state.Value[chain.Address]
	attrStore    state.Value[chain.Address]
	nonce        state.Value[uint64]
	entitlements state.Mapping[chain.Address, Level]
	roles        state.Mapping[roleKey, bool]
	scopes       state.Mapping[chain.Hash, ScopeRequirement]
	sessions     state.Mapping[chain.Hash, SessionGrant]
}

// Option configures a Registry handle.
type Option func(*Registry)

// WithScheme selects the Merkle hashing scheme used by RequestSession.
func WithScheme(s Scheme) Option {
	return func(r *Registry) { r.scheme = s }
}

// New returns the handle for the registry at addr.
func New(addr chain.Address, opts ...Option) *Registry {
	r := &Registry{
		addr:         addr,
		owner:        state.NewValue[chain.Address](addr, "owner"),
		attrStore:    state.NewValue[chain.Address](addr, "attribute_store"),
		nonce:        state.NewValue[uint64](addr, "session_nonce"),
		entitlements: state.NewMapping[chain.Address, Level](addr, "entitlements", state.AddressKey),
		roles:        state.NewMapping[roleKey, bool](addr, "roles", encodeRoleKey),
		scopes:       state.NewMapping[chain.Hash, ScopeRequirement](addr, "scopes", state.HashKey),
		sessions:     state.NewMapping[chain.Hash, SessionGrant](addr, "sessions", state.HashKey),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) Address() chain.Address { return r.addr }
func (r *Registry) Scheme() Scheme         { return r.scheme }

// Init captures the caller as owner and grants it RoleAdmin.
func (r *Registry) Init(c *chain.Call) error {
	if _, ok, err := r.owner.Get(c); err != nil {
		return err
	} else if ok {
		return chain.ErrAlreadyInitialized
	}
	if err := r.owner.Set(c, c.Caller()); err != nil {
		return err
	}
	return r.roles.Set(c, roleKey{RoleAdmin, c.Caller()}, true)
}

// Owner returns the immutable owner, or the zero address before Init.
func (r *Registry) Owner(c *chain.Call) (chain.Address, error) {
	return r.owner.GetOr(c, chain.Address{})
}

// HasRole reports whether addr holds role.
func (r *Registry) HasRole(c *chain.Call, role Role, addr chain.Address) (bool, error) {
	return r.roles.Has(c, roleKey{role, addr})
}

func (r *Registry) requireRole(c *chain.Call, roles ...Role) error {
	for _, role := range roles {
		ok, err := r.HasRole(c, role, c.Caller())
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s lacks %s", chain.ErrNotOwner, c.Caller().Hex(), roles[0])
}

// GrantRole adds addr to role. Admin only.
func (r *Registry) GrantRole(c *chain.Call, role Role, addr chain.Address) error {
	if err := r.requireRole(c, RoleAdmin); err != nil {
		return err
	}
	if role != RoleAdmin && role != RoleSessionIssuer {
		return fmt.Errorf("%w: unknown role %d", chain.ErrInvalidStatus, uint8(role))
	}
	if err := r.roles.Set(c, roleKey{role, addr}, true); err != nil {
		return err
	}
	r.emit(c, EventRoleGranted, RoleChanged{Role: role, Account: addr}, chain.TopicAddress(addr))
	return nil
}

// RevokeRole removes addr from role. The owner keeps RoleAdmin for good.
func (r *Registry) RevokeRole(c *chain.Call, role Role, addr chain.Address) error {
	if err := r.requireRole(c, RoleAdmin); err != nil {
		return err
	}
	owner, err := r.Owner(c)
	if err != nil {
		return err
	}
	if role == RoleAdmin && addr == owner {
		return fmt.Errorf("%w: owner admin role is permanent", chain.ErrInvalidStatus)
	}
	r.roles.Delete(c, roleKey{role, addr})
	r.emit(c, EventRoleRevoked, RoleChanged{Role: role, Account: addr}, chain.TopicAddress(addr))
	return nil
}

// GrantEntitlement sets account's level, overwriting any previous one.
func (r *Registry) GrantEntitlement(c *chain.Call, account chain.Address, level Level) error {
	if err := r.requireRole(c, RoleAdmin); err != nil {
		return err
	}
	if level > LevelVip {
		return fmt.Errorf("%w: %d", chain.ErrInvalidEntitlementLevel, uint8(level))
	}
	if err := r.entitlements.Set(c, account, level); err != nil {
		return err
	}
	r.emit(c, EventEntitlementGranted, EntitlementGranted{Account: account, Level: level}, chain.TopicAddress(account))
	return nil
}

// RevokeEntitlement removes account's level; later reads return LevelNone.
func (r *Registry) RevokeEntitlement(c *chain.Call, account chain.Address) error {
	if err := r.requireRole(c, RoleAdmin); err != nil {
		return err
	}
	r.entitlements.Delete(c, account)
	r.emit(c, EventEntitlementRevoked, EntitlementRevoked{Account: account}, chain.TopicAddress(account))
	return nil
}

func (r *Registry) GetEntitlement(c *chain.Call, account chain.Address) (Level, error) {
	lvl, _, err := r.entitlements.Get(c, account)
	return lvl, err
}

func (r *Registry) HasEntitlement(c *chain.Call, account chain.Address, required Level) (bool, error) {
	lvl, err := r.GetEntitlement(c, account)
	if err != nil {
		return false, err
	}
	return lvl.AtLeast(required), nil
}

// SetAttributeStore points the registry at the Attribute Store module.
func (r *Registry) SetAttributeStore(c *chain.Call, addr chain.Address) error {
	if err := r.requireRole(c, RoleAdmin); err != nil {
		return err
	}
	if err := r.attrStore.Set(c, addr); err != nil {
		return err
	}
	r.emit(c, EventAttributeStoreSet, AttributeStoreSet{Store: addr})
	return nil
}

// AttributeStore returns the configured store and whether one is set.
func (r *Registry) AttributeStore(c *chain.Call) (chain.Address, bool, error) {
	addr, ok, err := r.attrStore.Get(c)
	if err != nil || !ok || addr == (chain.Address{}) {
		return chain.Address{}, false, err
	}
	return addr, true, nil
}

// SetScopeRequirement fully replaces the requirement of scopeID.
func (r *Registry) SetScopeRequirement(c *chain.Call, scopeID chain.Hash, attrs []chain.Hash, active bool) error {
	if err := r.requireRole(c, RoleAdmin); err != nil {
		return err
	}
	if len(attrs) > MaxScopeAttributes {
		return fmt.Errorf("%w: %d required attributes (max %d)", chain.ErrTooManyAttributes, len(attrs), MaxScopeAttributes)
	}
	req := ScopeRequirement{RequiredAttributes: append([]chain.Hash{}, attrs...), Active: active}
	if err := r.scopes.Set(c, scopeID, req); err != nil {
		return err
	}
	r.emit(c, EventScopeRequirementSet, ScopeRequirementSet{ScopeID: scopeID}, scopeID)
	return nil
}

func (r *Registry) GetScopeRequirement(c *chain.Call, scopeID chain.Hash) (ScopeRequirement, bool, error) {
	return r.scopes.Get(c, scopeID)
}
