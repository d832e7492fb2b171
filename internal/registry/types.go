package registry

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"arkavo.org/accesscore/internal/chain"
)

// Level is the entitlement ladder: None < Basic < Premium < Vip.
type Level uint8

const (
	LevelNone Level = iota
	LevelBasic
	LevelPremium
	LevelVip
)

var levelNames = [...]string{"none", "basic", "premium", "vip"}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("level(%d)", uint8(l))
}

// AtLeast reports whether l satisfies required.
func (l Level) AtLeast(required Level) bool { return l >= required }

// LevelFromByte converts the wire byte of a level, rejecting values above Vip.
func LevelFromByte(b uint8) (Level, error) {
	if b > uint8(LevelVip) {
		return LevelNone, fmt.Errorf("%w: %d", chain.ErrInvalidEntitlementLevel, b)
	}
	return Level(b), nil
}

// ParseLevel accepts a level name or its numeric byte.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range levelNames {
		if s == n {
			return Level(i), nil
		}
	}
	if len(s) == 1 && s[0] >= '0' && s[0] <= '9' {
		return LevelFromByte(s[0] - '0')
	}
	return LevelNone, fmt.Errorf("%w: %q", chain.ErrInvalidEntitlementLevel, s)
}

func (l Level) MarshalText() ([]byte, error) {
	if l > LevelVip {
		return nil, fmt.Errorf("%w: %d", chain.ErrInvalidEntitlementLevel, uint8(l))
	}
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Role names a capability in the registry's role table.
type Role uint8

const (
	// RoleAdmin may manage entitlements, scopes, sessions and roles.
	RoleAdmin Role = iota + 1
	// RoleSessionIssuer may pre-issue and revoke sessions.
	RoleSessionIssuer
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleSessionIssuer:
		return "session_issuer"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// ParseRole maps a role name to a Role.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return RoleAdmin, true
	case "session_issuer", "session-issuer":
		return RoleSessionIssuer, true
	}
	return 0, false
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Role) UnmarshalText(b []byte) error {
	v, ok := ParseRole(string(b))
	if !ok {
		return fmt.Errorf("unknown role %q", string(b))
	}
	*r = v
	return nil
}

// SessionGrant is a short-lived capability bound to an ephemeral public key.
type SessionGrant struct {
	EphPubKey      hexutil.Bytes `cbor:"1,keyasint" json:"eph_pub_key"`
	ScopeID        chain.Hash    `cbor:"2,keyasint" json:"scope_id"`
	ExpiresAtBlock uint64        `cbor:"3,keyasint" json:"expires_at_block"`
	IsRevoked      bool          `cbor:"4,keyasint" json:"is_revoked"`
	CreatedAtBlock uint64        `cbor:"5,keyasint" json:"created_at_block"`
	Requester      chain.Address `cbor:"6,keyasint" json:"requester"`
}

// Valid reports whether the grant is usable at block.
func (g SessionGrant) Valid(block uint64) bool {
	return !g.IsRevoked && block <= g.ExpiresAtBlock
}

// ScopeRequirement lists the attribute commitments a scope demands. All of
// them must be proven.
type ScopeRequirement struct {
	RequiredAttributes []chain.Hash `cbor:"1,keyasint" json:"required_attributes"`
	Active             bool         `cbor:"2,keyasint" json:"active"`
}

// AttributeProof proves one attribute commitment against a root. ProofPath
// runs leaf-to-root and ProofIndices is parallel to it.
type AttributeProof struct {
	AttributeHash chain.Hash   `json:"attribute_hash"`
	ProofPath     []chain.Hash `json:"proof_path"`
	ProofIndices  []byte       `json:"proof_indices"`
}
