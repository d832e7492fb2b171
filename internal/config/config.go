// Package config loads node settings from ACCESS_* environment variables and
// the optional genesis file that seeds a fresh chain.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"arkavo.org/accesscore/internal/chain"
	"arkavo.org/accesscore/internal/payment"
	"arkavo.org/accesscore/internal/registry"
)

// ErrInvalid wraps every configuration error.
var ErrInvalid = errors.New("config: invalid")

// Config is the node configuration.
type Config struct {
	HTTPAddr      string
	GRPCAddr      string
	PGDSN         string
	BlockInterval time.Duration
	GenesisPath   string
	Deployer      chain.Address
	DevTokens     bool
	RateBurst     int
	RatePerSec    int
	MaxBodyBytes  int64
	MerkleScheme  registry.Scheme
	FailPolicy    payment.FailPolicy
	Version       string
}

// Default returns the settings used when no variable is set.
func Default() Config {
	return Config{
		HTTPAddr:      ":8080",
		GRPCAddr:      ":9090",
		BlockInterval: 6 * time.Second,
		Deployer:      chain.Address{0x01},
		RateBurst:     50,
		RatePerSec:    25,
		MaxBodyBytes:  1 << 20,
		MerkleScheme:  registry.SchemeDomainSeparated,
		FailPolicy:    payment.FailStrict,
		Version:       "dev",
	}
}

// FromEnv reads the process environment.
func FromEnv() (Config, error) { return Load(os.Getenv) }

// Load reads settings through getenv, starting from Default.
func Load(getenv func(string) string) (Config, error) {
	cfg := Default()
	get := func(key string) (string, bool) {
		v := strings.TrimSpace(getenv(key))
		return v, v != ""
	}

	if v, ok := get("ACCESS_HTTP_ADDR"); ok {
		cfg.HTTPAddr = v
	}
	if v, ok := get("ACCESS_GRPC_ADDR"); ok {
		if v == "off" {
			v = ""
		}
		cfg.GRPCAddr = v
	}
	if v, ok := get("ACCESS_PG_DSN"); ok {
		cfg.PGDSN = v
	}
	if v, ok := get("ACCESS_GENESIS"); ok {
		cfg.GenesisPath = v
	}
	if v, ok := get("ACCESS_VERSION"); ok {
		cfg.Version = v
	}
	if v, ok := get("ACCESS_BLOCK_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, fmt.Errorf("%w: ACCESS_BLOCK_INTERVAL %q", ErrInvalid, v)
		}
		cfg.BlockInterval = d
	}
	if v, ok := get("ACCESS_DEPLOYER"); ok {
		addr, err := chain.ParseAddress(v)
		if err != nil || addr == (chain.Address{}) {
			return Config{}, fmt.Errorf("%w: ACCESS_DEPLOYER %q", ErrInvalid, v)
		}
		cfg.Deployer = addr
	}
	if v, ok := get("ACCESS_DEV_TOKENS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: ACCESS_DEV_TOKENS %q", ErrInvalid, v)
		}
		cfg.DevTokens = b
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"ACCESS_RATE_BURST", &cfg.RateBurst},
		{"ACCESS_RATE_PER_SEC", &cfg.RatePerSec},
	}
	for _, it := range ints {
		v, ok := get(it.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("%w: %s must be a positive integer", ErrInvalid, it.key)
		}
		*it.dst = n
	}
	if v, ok := get("ACCESS_MAX_BODY_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("%w: ACCESS_MAX_BODY_BYTES must be a positive integer", ErrInvalid)
		}
		cfg.MaxBodyBytes = n
	}
	if v, ok := get("ACCESS_MERKLE_SCHEME"); ok {
		s, valid := registry.ParseScheme(strings.ToLower(v))
		if !valid {
			return Config{}, fmt.Errorf("%w: ACCESS_MERKLE_SCHEME %q", ErrInvalid, v)
		}
		cfg.MerkleScheme = s
	}
	if v, ok := get("ACCESS_FAIL_POLICY"); ok {
		p, valid := payment.ParseFailPolicy(v)
		if !valid {
			return Config{}, fmt.Errorf("%w: ACCESS_FAIL_POLICY %q", ErrInvalid, v)
		}
		cfg.FailPolicy = p
	}
	return cfg, nil
}
