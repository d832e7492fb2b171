// Package attrstore implements the Attribute Store module: per-account
// Merkle roots over attribute commitments, plus hashed attribute claims the
// Policy Engine checks. Raw attribute values are never stored.
package attrstore

import (
	"fmt"

	"arkavo.org/accesscore/internal/chain"
	"arkavo.org/accesscore/internal/state"
)

// MaxKeyLength bounds claim keys and values.
const MaxKeyLength = 256

const (
	EventPublisherAuthorized = "PublisherAuthorized"
	EventPublisherRevoked    = "PublisherRevoked"
	EventRootPublished       = "AttributeRootPublished"
	EventClaimSet            = "AttributeClaimSet"
	EventClaimCleared        = "AttributeClaimCleared"
)

// Record is the published root of one account.
type Record struct {
	Root           chain.Hash `cbor:"1,keyasint" json:"root"`
	UpdatedAtBlock uint64     `cbor:"2,keyasint" json:"updated_at_block"`
}

type PublisherChanged struct {
	Publisher chain.Address `json:"publisher"`
}

type RootPublished struct {
	Account chain.Address `json:"account"`
	Root    chain.Hash    `json:"root"`
}

type ClaimChanged struct {
	Account chain.Address `json:"account"`
	KeyHash chain.Hash    `json:"key_hash"`
}

type claimKey struct {
	account chain.Address
	key     chain.Hash
}

func encodeClaimKey(k claimKey) []byte {
	return append(k.account.Bytes(), k.key.Bytes()...)
}

// Store is the handle on an Attribute Store deployed at one address.
type Store struct {
	addr       chain.Address
	owner      state.Value[chain.Address]
	publishers state.Mapping[chain.Address, bool]
	roots      state.Mapping[chain.Address, Record]
	claims     state.Mapping[claimKey, chain.Hash]
}

// New returns the handle for the store at addr.
func New(addr chain.Address) *Store {
	return &Store{
		addr:       addr,
		owner:      state.NewValue[chain.Address](addr, "owner"),
		publishers: state.NewMapping[chain.Address, bool](addr, "publishers", state.AddressKey),
		roots:      state.NewMapping[chain.Address, Record](addr, "roots", state.AddressKey),
		claims:     state.NewMapping[claimKey, chain.Hash](addr, "claims", encodeClaimKey),
	}
}

func (s *Store) Address() chain.Address { return s.addr }

// Init captures the caller as owner. The owner is always a publisher.
func (s *Store) Init(c *chain.Call) error {
	if _, ok, err := s.owner.Get(c); err != nil {
		return err
	} else if ok {
		return chain.ErrAlreadyInitialized
	}
	if err := s.owner.Set(c, c.Caller()); err != nil {
		return err
	}
	return s.publishers.Set(c, c.Caller(), true)
}

func (s *Store) Owner(c *chain.Call) (chain.Address, error) {
	return s.owner.GetOr(c, chain.Address{})
}

func (s *Store) requireOwner(c *chain.Call) error {
	owner, err := s.Owner(c)
	if err != nil {
		return err
	}
	if owner == (chain.Address{}) || c.Caller() != owner {
		return chain.ErrNotOwner
	}
	return nil
}

func (s *Store) requirePublisher(c *chain.Call) error {
	ok, err := s.IsPublisher(c, c.Caller())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", chain.ErrNotAuthorizedPublisher, c.Caller().Hex())
	}
	return nil
}

func (s *Store) IsPublisher(c *chain.Call, addr chain.Address) (bool, error) {
	return s.publishers.Has(c, addr)
}

// AuthorizePublisher lets addr publish roots and claims. Owner only.
func (s *Store) AuthorizePublisher(c *chain.Call, addr chain.Address) error {
	if err := s.requireOwner(c); err != nil {
		return err
	}
	if err := s.publishers.Set(c, addr, true); err != nil {
		return err
	}
	c.Emit(chain.Event{Module: s.addr, Name: EventPublisherAuthorized, Topics: []chain.Hash{chain.TopicAddress(addr)}, Data: PublisherChanged{Publisher: addr}})
	return nil
}

// RevokePublisher removes addr from the publisher set. The owner stays.
func (s *Store) RevokePublisher(c *chain.Call, addr chain.Address) error {
	if err := s.requireOwner(c); err != nil {
		return err
	}
	if addr == c.Caller() {
		return fmt.Errorf("%w: owner cannot be revoked", chain.ErrInvalidStatus)
	}
	s.publishers.Delete(c, addr)
	c.Emit(chain.Event{Module: s.addr, Name: EventPublisherRevoked, Topics: []chain.Hash{chain.TopicAddress(addr)}, Data: PublisherChanged{Publisher: addr}})
	return nil
}

// PublishRoot records account's current attribute root.
func (s *Store) PublishRoot(c *chain.Call, account chain.Address, root chain.Hash) error {
	if err := s.requirePublisher(c); err != nil {
		return err
	}
	if err := s.roots.Set(c, account, Record{Root: root, UpdatedAtBlock: c.BlockNumber()}); err != nil {
		return err
	}
	c.Emit(chain.Event{Module: s.addr, Name: EventRootPublished, Topics: []chain.Hash{chain.TopicAddress(account)}, Data: RootPublished{Account: account, Root: root}})
	return nil
}

// GetRoot returns account's published root.
func (s *Store) GetRoot(c *chain.Call, account chain.Address) (chain.Hash, bool, error) {
	rec, ok, err := s.roots.Get(c, account)
	if err != nil || !ok {
		return chain.Hash{}, false, err
	}
	return rec.Root, true, nil
}

// GetRecord returns the full root record, including when it was published.
func (s *Store) GetRecord(c *chain.Call, account chain.Address) (Record, bool, error) {
	return s.roots.Get(c, account)
}

// ClaimKey is the storage tag of an attribute key.
func ClaimKey(key string) chain.Hash { return chain.Blake2([]byte(key)) }

// ValueHash is the commitment stored for an attribute value.
func ValueHash(value string) chain.Hash { return chain.Blake2([]byte(value)) }

// SetClaim stores valueHash under account's attribute key.
func (s *Store) SetClaim(c *chain.Call, account chain.Address, key string, valueHash chain.Hash) error {
	if err := s.requirePublisher(c); err != nil {
		return err
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key is %d bytes (max %d)", chain.ErrInputTooLong, len(key), MaxKeyLength)
	}
	k := ClaimKey(key)
	if err := s.claims.Set(c, claimKey{account, k}, valueHash); err != nil {
		return err
	}
	c.Emit(chain.Event{Module: s.addr, Name: EventClaimSet, Topics: []chain.Hash{chain.TopicAddress(account), k}, Data: ClaimChanged{Account: account, KeyHash: k}})
	return nil
}

// ClearClaim removes account's attribute key.
func (s *Store) ClearClaim(c *chain.Call, account chain.Address, key string) error {
	if err := s.requirePublisher(c); err != nil {
		return err
	}
	k := ClaimKey(key)
	s.claims.Delete(c, claimKey{account, k})
	c.Emit(chain.Event{Module: s.addr, Name: EventClaimCleared, Topics: []chain.Hash{chain.TopicAddress(account), k}, Data: ClaimChanged{Account: account, KeyHash: k}})
	return nil
}

// HasAttribute reports whether account holds key with exactly value.
func (s *Store) HasAttribute(c *chain.Call, account chain.Address, key, value string) (bool, error) {
	stored, ok, err := s.claims.Get(c, claimKey{account, ClaimKey(key)})
	if err != nil || !ok {
		return false, err
	}
	return stored == ValueHash(value), nil
}
