package registry

import "arkavo.org/accesscore/internal/chain"

// Event names emitted by the registry.
const (
	EventEntitlementGranted  = "EntitlementGranted"
	EventEntitlementRevoked  = "EntitlementRevoked"
	EventSessionCreated      = "SessionCreated"
	EventSessionRequested    = "SessionRequested"
	EventSessionRevoked      = "SessionRevoked"
	EventScopeRequirementSet = "ScopeRequirementSet"
	EventRoleGranted         = "RoleGranted"
	EventRoleRevoked         = "RoleRevoked"
	EventAttributeStoreSet   = "AttributeStoreSet"
)

type EntitlementGranted struct {
	Account chain.Address `json:"account"`
	Level   Level         `json:"level"`
}

type EntitlementRevoked struct {
	Account chain.Address `json:"account"`
}

type SessionCreated struct {
	SessionID      chain.Hash `json:"session_id"`
	ExpiresAtBlock uint64     `json:"expires_at_block"`
}

type SessionRequested struct {
	SessionID      chain.Hash    `json:"session_id"`
	Requester      chain.Address `json:"requester"`
	ScopeID        chain.Hash    `json:"scope_id"`
	ExpiresAtBlock uint64        `json:"expires_at_block"`
}

type SessionRevoked struct {
	SessionID chain.Hash `json:"session_id"`
}

type ScopeRequirementSet struct {
	ScopeID chain.Hash `json:"scope_id"`
}

type RoleChanged struct {
	Role    Role          `json:"role"`
	Account chain.Address `json:"account"`
}

type AttributeStoreSet struct {
	Store chain.Address `json:"store"`
}

func (r *Registry) emit(c *chain.Call, name string, data any, topics ...chain.Hash) {
	c.Emit(chain.Event{Module: r.addr, Name: name, Topics: topics, Data: data})
}
