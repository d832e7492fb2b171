// Package policy implements the Policy Engine: resource policies that combine
// a minimum entitlement with required attribute claims.
package policy

import (
	"fmt"

	"arkavo.org/accesscore/internal/chain"
	"arkavo.org/accesscore/internal/registry"
	"arkavo.org/accesscore/internal/state"
)

const (
	// MaxStringLength bounds resource ids and attribute keys and values.
	MaxStringLength = 256
	// MaxAttributes bounds the attributes a policy may require.
	MaxAttributes = 50
)

const (
	EventPolicyCreated = "PolicyCreated"
	EventPolicyUpdated = "PolicyUpdated"
	EventPolicyDeleted = "PolicyDeleted"
	EventAccessGranted = "AccessGranted"
	EventAccessDenied  = "AccessDenied"
	EventDependencySet = "PolicyDependencySet"
)

// Reasons carried by AccessDenied.
const (
	ReasonPolicyInactive          = "policy inactive"
	ReasonInsufficientEntitlement = "insufficient entitlement"
	ReasonMissingAttribute        = "missing attribute "
)

// Attribute is a required (namespace.key, value) pair.
type Attribute struct {
	Key   string `cbor:"1,keyasint" json:"key" validate:"required,max=256"`
	Value string `cbor:"2,keyasint" json:"value" validate:"max=256"`
}

// Rule is a stored policy.
type Rule struct {
	ResourceID         string      `cbor:"1,keyasint" json:"resource_id"`
	RequiredAttributes []Attribute `cbor:"2,keyasint" json:"required_attributes"`
	MinEntitlement     uint8       `cbor:"3,keyasint" json:"min_entitlement"`
	Active             bool        `cbor:"4,keyasint" json:"active"`
}

type PolicyCreated struct {
	PolicyID   uint32 `json:"policy_id"`
	ResourceID string `json:"resource_id"`
}

type PolicyChanged struct {
	PolicyID uint32 `json:"policy_id"`
}

type AccessDecision struct {
	Account    chain.Address `json:"account"`
	PolicyID   uint32        `json:"policy_id"`
	ResourceID string        `json:"resource_id"`
	Reason     string        `json:"reason,omitempty"`
}

type DependencySet struct {
	Dependency string        `json:"dependency"`
	Address    chain.Address `json:"address"`
}

// EntitlementSource is the part of the Access Registry the engine reads.
type EntitlementSource interface {
	HasEntitlement(c *chain.Call, account chain.Address, required registry.Level) (bool, error)
}

// AttributeSource is the part of the Attribute Store the engine reads.
type AttributeSource interface {
	HasAttribute(c *chain.Call, account chain.Address, key, value string) (bool, error)
}

// Engine is the handle on a Policy Engine deployed at one address.
type Engine struct {
	addr      chain.Address
	owner     state.Value[chain.Address]
	registry  state.Value[chain.Address]
	attrStore state.Value[chain.Address]
	nextID    state.Value[uint32]
	policies  state.Mapping[uint32, Rule]
}

// New returns the handle for the engine at addr.
func New(addr chain.Address) *Engine {
	return &Engine{
		addr:      addr,
		owner:     state.NewValue[chain.Address](addr, "owner"),
		registry:  state.NewValue[chain.Address](addr, "access_registry"),
		attrStore: state.NewValue[chain.Address](addr, "attribute_store"),
		nextID:    state.NewValue[uint32](addr, "next_policy_id"),
		policies:  state.NewMapping[uint32, Rule](addr, "policies", state.Uint32Key),
	}
}

func (e *Engine) Address() chain.Address { return e.addr }

// Init captures the caller as owner.
func (e *Engine) Init(c *chain.Call) error {
	if _, ok, err := e.owner.Get(c); err != nil {
		return err
	} else if ok {
		return chain.ErrAlreadyInitialized
	}
	return e.owner.Set(c, c.Caller())
}

func (e *Engine) Owner(c *chain.Call) (chain.Address, error) {
	return e.owner.GetOr(c, chain.Address{})
}

func (e *Engine) requireOwner(c *chain.Call) error {
	owner, err := e.Owner(c)
	if err != nil {
		return err
	}
	if owner == (chain.Address{}) || c.Caller() != owner {
		return chain.ErrNotOwner
	}
	return nil
}

func (e *Engine) SetAccessRegistry(c *chain.Call, addr chain.Address) error {
	if err := e.requireOwner(c); err != nil {
		return err
	}
	if err := e.registry.Set(c, addr); err != nil {
		return err
	}
	c.Emit(chain.Event{Module: e.addr, Name: EventDependencySet, Data: DependencySet{Dependency: "access_registry", Address: addr}})
	return nil
}

func (e *Engine) SetAttributeStore(c *chain.Call, addr chain.Address) error {
	if err := e.requireOwner(c); err != nil {
		return err
	}
	if err := e.attrStore.Set(c, addr); err != nil {
		return err
	}
	c.Emit(chain.Event{Module: e.addr, Name: EventDependencySet, Data: DependencySet{Dependency: "attribute_store", Address: addr}})
	return nil
}

func validate(required []Attribute, minEntitlement uint8) error {
	if len(required) > MaxAttributes {
		return fmt.Errorf("%w: %d attributes (max %d)", chain.ErrTooManyAttributes, len(required), MaxAttributes)
	}
	for _, a := range required {
		if len(a.Key) > MaxStringLength || len(a.Value) > MaxStringLength {
			return fmt.Errorf("%w: attribute %.32q", chain.ErrInputTooLong, a.Key)
		}
	}
	if _, err := registry.LevelFromByte(minEntitlement); err != nil {
		return err
	}
	return nil
}

// CreatePolicy stores a new active policy and returns its id.
func (e *Engine) CreatePolicy(c *chain.Call, resourceID string, required []Attribute, minEntitlement uint8) (uint32, error) {
	if err := e.requireOwner(c); err != nil {
		return 0, err
	}
	if len(resourceID) > MaxStringLength {
		return 0, fmt.Errorf("%w: resource id is %d bytes (max %d)", chain.ErrInputTooLong, len(resourceID), MaxStringLength)
	}
	if err := validate(required, minEntitlement); err != nil {
		return 0, err
	}
	id, err := e.nextID.GetOr(c, 0)
	if err != nil {
		return 0, err
	}
	rule := Rule{
		ResourceID:         resourceID,
		RequiredAttributes: append([]Attribute{}, required...),
		MinEntitlement:     minEntitlement,
		Active:             true,
	}
	if err := e.policies.Set(c, id, rule); err != nil {
		return 0, err
	}
	if err := e.nextID.Set(c, id+1); err != nil {
		return 0, err
	}
	c.Emit(chain.Event{Module: e.addr, Name: EventPolicyCreated, Topics: []chain.Hash{chain.TopicUint(uint64(id))}, Data: PolicyCreated{PolicyID: id, ResourceID: resourceID}})
	return id, nil
}

// UpdatePolicy replaces everything but the resource id.
func (e *Engine) UpdatePolicy(c *chain.Call, id uint32, required []Attribute, minEntitlement uint8, active bool) error {
	if err := e.requireOwner(c); err != nil {
		return err
	}
	if err := validate(required, minEntitlement); err != nil {
		return err
	}
	rule, ok, err := e.policies.Get(c, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", chain.ErrPolicyNotFound, id)
	}
	rule.RequiredAttributes = append([]Attribute{}, required...)
	rule.MinEntitlement = minEntitlement
	rule.Active = active
	if err := e.policies.Set(c, id, rule); err != nil {
		return err
	}
	c.Emit(chain.Event{Module: e.addr, Name: EventPolicyUpdated, Topics: []chain.Hash{chain.TopicUint(uint64(id))}, Data: PolicyChanged{PolicyID: id}})
	return nil
}

// DeletePolicy removes a policy. Its id is never reused.
func (e *Engine) DeletePolicy(c *chain.Call, id uint32) error {
	if err := e.requireOwner(c); err != nil {
		return err
	}
	if ok, err := e.policies.Has(c, id); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %d", chain.ErrPolicyNotFound, id)
	}
	e.policies.Delete(c, id)
	c.Emit(chain.Event{Module: e.addr, Name: EventPolicyDeleted, Topics: []chain.Hash{chain.TopicUint(uint64(id))}, Data: PolicyChanged{PolicyID: id}})
	return nil
}

func (e *Engine) GetPolicy(c *chain.Call, id uint32) (Rule, bool, error) {
	return e.policies.Get(c, id)
}

func (e *Engine) NextPolicyID(c *chain.Call) (uint32, error) {
	return e.nextID.GetOr(c, 0)
}

// EvaluateAccess decides whether account satisfies policy id and emits
// AccessGranted or AccessDenied. A missing policy yields false without an
// event.
func (e *Engine) EvaluateAccess(c *chain.Call, account chain.Address, id uint32) (bool, error) {
	rule, ok, err := e.policies.Get(c, id)
	if err != nil || !ok {
		return false, err
	}
	deny := func(reason string) (bool, error) {
		c.Emit(chain.Event{
			Module: e.addr,
			Name:   EventAccessDenied,
			Topics: []chain.Hash{chain.TopicAddress(account), chain.TopicUint(uint64(id))},
			Data:   AccessDecision{Account: account, PolicyID: id, ResourceID: rule.ResourceID, Reason: reason},
		})
		return false, nil
	}
	if !rule.Active {
		return deny(ReasonPolicyInactive)
	}
	ents, attrs, err := e.dependencies(c)
	if err != nil {
		return false, err
	}

	sub, err := c.As(e.addr)
	if err != nil {
		return false, err
	}
	min, err := registry.LevelFromByte(rule.MinEntitlement)
	if err != nil {
		return false, err
	}
	entitled, err := ents.HasEntitlement(sub, account, min)
	if err != nil {
		return false, err
	}
	if !entitled {
		return deny(ReasonInsufficientEntitlement)
	}
	for _, a := range rule.RequiredAttributes {
		held, err := attrs.HasAttribute(sub, account, a.Key, a.Value)
		if err != nil {
			return false, err
		}
		if !held {
			return deny(ReasonMissingAttribute + a.Key)
		}
	}

	c.Emit(chain.Event{
		Module: e.addr,
		Name:   EventAccessGranted,
		Topics: []chain.Hash{chain.TopicAddress(account), chain.TopicUint(uint64(id))},
		Data:   AccessDecision{Account: account, PolicyID: id, ResourceID: rule.ResourceID},
	})
	return true, nil
}

func (e *Engine) dependencies(c *chain.Call) (EntitlementSource, AttributeSource, error) {
	regAddr, err := e.registry.GetOr(c, chain.Address{})
	if err != nil {
		return nil, nil, err
	}
	storeAddr, err := e.attrStore.GetOr(c, chain.Address{})
	if err != nil {
		return nil, nil, err
	}
	regMod, ok := c.Module(regAddr)
	if !ok {
		return nil, nil, fmt.Errorf("%w: access registry", chain.ErrContractNotConfigured)
	}
	ents, ok := regMod.(EntitlementSource)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s is not an access registry", chain.ErrContractNotConfigured, regAddr.Hex())
	}
	storeMod, ok := c.Module(storeAddr)
	if !ok {
		return nil, nil, fmt.Errorf("%w: attribute store", chain.ErrContractNotConfigured)
	}
	attrs, ok := storeMod.(AttributeSource)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s is not an attribute store", chain.ErrContractNotConfigured, storeAddr.Hex())
	}
	return ents, attrs, nil
}
