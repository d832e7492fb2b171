package auth

import (
	"strings"

	"arkavo.org/accesscore/internal/chain"
)

// Address is the identity a principal acts as.
type Address = chain.Address

// RoleOperator marks node operators. It is a node-local role carried in the
// token and is unrelated to the on-chain role table.
const RoleOperator = "operator"

// Principal is an authenticated caller with its node roles.
type Principal struct {
	Caller Address
	Roles  []string
}

// PrincipalFromClaims builds a principal from validated claims.
func PrincipalFromClaims(c *Claims) (Principal, error) {
	addr, err := c.Caller()
	if err != nil {
		return Principal{}, err
	}
	return Principal{Caller: addr, Roles: dedupeRoles(c.Roles)}, nil
}

// HasRole reports whether the principal carries role.
func (p Principal) HasRole(role string) bool {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}
