// Package auth issues and verifies the HS256 bearer tokens that bind an HTTP
// request to a chain caller address.
package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"arkavo.org/accesscore/internal/chain"
)

const (
	issuer            = "accesscore"
	secretEnvVariable = "ACCESS_AUTH_SECRET"
	clockSkew         = 5 * time.Second
)

var (
	// ErrInvalidToken indicates the token failed validation.
	ErrInvalidToken  = errors.New("invalid token")
	errMissingSecret = errors.New("auth secret is not configured")
)

// keyring holds the HMAC key read once from the environment.
type keyring struct {
	mu     sync.Mutex
	loaded bool
	key    []byte
}

var keys keyring

func (k *keyring) get() ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.loaded {
		k.key = []byte(strings.TrimSpace(os.Getenv(secretEnvVariable)))
		k.loaded = true
	}
	if len(k.key) == 0 {
		return nil, errMissingSecret
	}
	return k.key, nil
}

// ResetSecretForTests forgets the loaded key so the next call rereads the
// environment.
func ResetSecretForTests() {
	keys.mu.Lock()
	defer keys.mu.Unlock()
	keys.loaded, keys.key = false, nil
}

// Configured reports whether a signing secret is available.
func Configured() bool {
	_, err := keys.get()
	return err == nil
}

// Claims are the token claims. The subject is the caller's hex address; roles
// are node roles such as RoleOperator.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Caller returns the address named by the subject.
func (c *Claims) Caller() (chain.Address, error) {
	return chain.ParseAddress(c.Subject)
}

// GenerateToken signs a token for caller valid for ttl.
func GenerateToken(caller chain.Address, roles []string, ttl time.Duration) (string, error) {
	if caller == (chain.Address{}) {
		return "", errors.New("caller is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}
	key, err := keys.get()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Roles: dedupeRoles(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   caller.Hex(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	})
	signed, err := tok.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

var parser = jwt.NewParser(
	jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	jwt.WithIssuer(issuer),
	jwt.WithIssuedAt(),
	jwt.WithExpirationRequired(),
	jwt.WithLeeway(clockSkew),
)

// ParseAndValidate checks signature, issuer, timestamps and that the subject
// is an address. Every validation failure is ErrInvalidToken; a missing
// secret is reported as is.
func ParseAndValidate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	key, err := keys.get()
	if err != nil {
		return nil, err
	}
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) { return key, nil })
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := claims.Caller(); err != nil {
		return nil, ErrInvalidToken
	}
	claims.Roles = dedupeRoles(claims.Roles)
	return claims, nil
}

func dedupeRoles(roles []string) []string {
	var out []string
	seen := make(map[string]bool, len(roles))
	for _, role := range roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" || seen[role] {
			continue
		}
		seen[role] = true
		out = append(out, role)
	}
	return out
}
