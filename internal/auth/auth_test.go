package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"arkavo.org/accesscore/internal/chain"
)

var alice = chain.Address{0xA1, 0xCE}

func TestGenerateAndValidate(t *testing.T) {
	t.Setenv(secretEnvVariable, "test-secret")
	ResetSecretForTests()

	token, err := GenerateToken(alice, []string{"Operator", "operator", " "}, 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	caller, err := claims.Caller()
	if err != nil || caller != alice {
		t.Fatalf("unexpected caller %s (%v)", caller.Hex(), err)
	}
	if claims.Issuer != issuer || claims.ID == "" {
		t.Fatalf("unexpected registered claims: %+v", claims.RegisteredClaims)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != RoleOperator {
		t.Fatalf("roles not normalised: %v", claims.Roles)
	}
}

func TestRejectsForeignAndMalformedTokens(t *testing.T) {
	t.Setenv(secretEnvVariable, "test-secret")
	ResetSecretForTests()

	if _, err := ParseAndValidate(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("empty token: %v", err)
	}

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   alice.Hex(),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}})
	signed, err := foreign.SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseAndValidate(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign signature accepted: %v", err)
	}

	badSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   "user-42",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}})
	signed, err = badSubject.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseAndValidate(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("non-address subject accepted: %v", err)
	}
}

func TestMissingSecret(t *testing.T) {
	t.Setenv(secretEnvVariable, "")
	ResetSecretForTests()
	defer ResetSecretForTests()

	if Configured() {
		t.Fatal("expected no secret")
	}
	if _, err := GenerateToken(alice, nil, time.Minute); !errors.Is(err, errMissingSecret) {
		t.Fatalf("expected missing secret, got %v", err)
	}
	if _, err := GenerateToken(chain.Address{}, nil, time.Minute); err == nil {
		t.Fatal("zero caller accepted")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := ContextWithCaller(context.Background(), alice, "Operator", "operator")
	caller, ok := CallerFromContext(ctx)
	if !ok || caller != alice {
		t.Fatalf("unexpected caller: %s, ok=%v", caller.Hex(), ok)
	}
	p, _ := PrincipalFromContext(ctx)
	if len(p.Roles) != 1 {
		t.Fatalf("expected deduplicated roles, got %v", p.Roles)
	}
	if !HasRole(ctx, "OPERATOR") || HasRole(ctx, "admin") {
		t.Fatal("HasRole mismatch")
	}
	if _, ok := CallerFromContext(context.Background()); ok {
		t.Fatal("caller found in empty context")
	}
	ctx = ContextWithToken(ctx, "tok")
	if tok, ok := TokenFromContext(ctx); !ok || tok != "tok" {
		t.Fatalf("token lost: %q", tok)
	}
}

func TestRejectsExpiredAndOtherAlgorithms(t *testing.T) {
	t.Setenv(secretEnvVariable, "test-secret")
	ResetSecretForTests()

	past := time.Now().Add(-time.Hour)
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   alice.Hex(),
		IssuedAt:  jwt.NewNumericDate(past),
		ExpiresAt: jwt.NewNumericDate(past.Add(time.Minute)),
	}})
	signed, err := expired.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseAndValidate(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token accepted: %v", err)
	}

	hs512 := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   alice.Hex(),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}})
	signed, err = hs512.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseAndValidate(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("HS512 token accepted: %v", err)
	}

	noExpiry := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:   issuer,
		Subject:  alice.Hex(),
		IssuedAt: jwt.NewNumericDate(time.Now()),
	}})
	signed, err = noExpiry.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseAndValidate(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token without expiry accepted: %v", err)
	}
}
