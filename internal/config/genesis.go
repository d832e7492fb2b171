package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"sync"

	playgroundvalidator "github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"arkavo.org/accesscore/internal/chain"
	"arkavo.org/accesscore/internal/policy"
	"arkavo.org/accesscore/internal/registry"
)

// Genesis seeds a fresh chain. Addresses are 0x-prefixed hex. Scope ids and
// attribute commitments accept either 32-byte hex or a label, which is hashed.
type Genesis struct {
	Processors     []string             `yaml:"processors" json:"processors" validate:"dive,eth_addr"`
	Publishers     []string             `yaml:"publishers" json:"publishers" validate:"dive,eth_addr"`
	Admins         []string             `yaml:"admins" json:"admins" validate:"dive,eth_addr"`
	SessionIssuers []string             `yaml:"session_issuers" json:"session_issuers" validate:"dive,eth_addr"`
	Scopes         []GenesisScope       `yaml:"scopes" json:"scopes" validate:"dive"`
	Entitlements   []GenesisEntitlement `yaml:"entitlements" json:"entitlements" validate:"dive"`
	Policies       []GenesisPolicy      `yaml:"policies" json:"policies" validate:"dive"`
}

type GenesisScope struct {
	ID       string   `yaml:"id" json:"id" validate:"required,hashref"`
	Required []string `yaml:"required" json:"required" validate:"max=64,dive,required,hashref"`
	Active   *bool    `yaml:"active" json:"active"`
}

type GenesisEntitlement struct {
	Account string `yaml:"account" json:"account" validate:"required,eth_addr"`
	Level   string `yaml:"level" json:"level" validate:"required,level"`
}

type GenesisPolicy struct {
	Resource       string             `yaml:"resource" json:"resource" validate:"required,max=256"`
	Attributes     []policy.Attribute `yaml:"attributes" json:"attributes" validate:"max=50,dive"`
	MinEntitlement string             `yaml:"min_entitlement" json:"min_entitlement" validate:"omitempty,level"`
}

// IsActive defaults an unset flag to true.
func (s GenesisScope) IsActive() bool { return s.Active == nil || *s.Active }

// ScopeHash resolves the scope id.
func (s GenesisScope) ScopeHash() (chain.Hash, error) { return ResolveHash(s.ID) }

// RequiredHashes resolves the required attribute commitments.
func (s GenesisScope) RequiredHashes() ([]chain.Hash, error) {
	out := make([]chain.Hash, len(s.Required))
	for i, r := range s.Required {
		h, err := ResolveHash(r)
		if err != nil {
			return nil, err
		}
		out[i] = h
	}
	return out, nil
}

// ResolveHash decodes a 0x-prefixed 32-byte hash or hashes anything else as
// a label. A 0x-prefixed string that is not a valid hash is an error.
func ResolveHash(s string) (chain.Hash, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		h, err := chain.ParseHash(s)
		if err != nil {
			return chain.Hash{}, fmt.Errorf("%w: hash %q: %v", ErrInvalid, s, err)
		}
		return h, nil
	}
	return chain.LabelHash(s), nil
}

// ValidationErrors lists the fields that failed validation.
type ValidationErrors []playgroundvalidator.FieldError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}
	var fields []string
	for _, err := range ve {
		fields = append(fields, err.Namespace())
	}
	return fmt.Sprintf("validation failed on fields: %s", strings.Join(fields, ", "))
}

var (
	validatorOnce sync.Once
	validate      *playgroundvalidator.Validate
)

// Validator returns the shared validator. Field names in errors follow json tags.
func Validator() *playgroundvalidator.Validate {
	validatorOnce.Do(func() { validate = newValidator() })
	return validate
}

// ValidateStruct runs the shared validator and flattens field errors.
func ValidateStruct(v any) error {
	if err := Validator().Struct(v); err != nil {
		var verrs playgroundvalidator.ValidationErrors
		if errors.As(err, &verrs) {
			return ValidationErrors(verrs)
		}
		return err
	}
	return nil
}

func newValidator() *playgroundvalidator.Validate {
	v := playgroundvalidator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("hashref", func(fl playgroundvalidator.FieldLevel) bool {
		_, err := ResolveHash(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("level", func(fl playgroundvalidator.FieldLevel) bool {
		_, err := registry.ParseLevel(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks g against its struct tags.
func (g *Genesis) Validate() error {
	if err := ValidateStruct(g); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// ParseGenesis decodes and validates YAML.
func ParseGenesis(data []byte) (*Genesis, error) {
	var g Genesis
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&g); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: genesis: %v", ErrInvalid, err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// LoadGenesis reads the genesis file at path. An empty path yields an empty genesis.
func LoadGenesis(path string) (*Genesis, error) {
	if path == "" {
		return &Genesis{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	return ParseGenesis(data)
}

// Addresses parses a validated address list.
func Addresses(list []string) []chain.Address {
	out := make([]chain.Address, 0, len(list))
	for _, s := range list {
		if a, err := chain.ParseAddress(s); err == nil {
			out = append(out, a)
		}
	}
	return out
}
