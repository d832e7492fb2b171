// Package chain holds the primitives shared by every access-control module:
// account addresses, 32-byte hashes, the Blake2-256 hash, block data and the
// per-invocation call context.
package chain

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/blake2b"
)

// Address identifies an account or a deployed module (20 bytes).
type Address = common.Address

// Hash is a 32-byte identifier: session ids, scope ids, attribute commitments, roots.
type Hash = common.Hash

const (
	AddressLength = common.AddressLength
	HashLength    = common.HashLength
)

var (
	errBadAddress = errors.New("invalid address: want 20-byte hex")
	errBadHash    = errors.New("invalid hash: want 32-byte hex")
)

// Block describes the block an invocation executes in. Timestamp is in
// milliseconds since the Unix epoch.
type Block struct {
	Number    uint64 `json:"number"`
	Timestamp uint64 `json:"timestamp"`
}

// Blake2 returns Blake2b-256 over the concatenation of parts.
func Blake2(parts ...[]byte) Hash {
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// ParseAddress decodes a 0x-prefixed (or bare) 40-character hex address.
func ParseAddress(s string) (Address, error) {
	raw, err := decodeHex(s, AddressLength)
	if err != nil {
		return Address{}, errBadAddress
	}
	return common.BytesToAddress(raw), nil
}

// ParseHash decodes a 0x-prefixed (or bare) 64-character hex hash.
func ParseHash(s string) (Hash, error) {
	raw, err := decodeHex(s, HashLength)
	if err != nil {
		return Hash{}, errBadHash
	}
	return common.BytesToHash(raw), nil
}

// ParseBytes decodes arbitrary-length hex, with or without the 0x prefix.
func ParseBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	return hex.DecodeString(s)
}

// ModuleAddress derives the address of a module deployed by deployer under name.
func ModuleAddress(deployer Address, name string) Address {
	sum := Blake2([]byte("module:"), deployer.Bytes(), []byte(name))
	return common.BytesToAddress(sum[HashLength-AddressLength:])
}

// LabelHash turns a human readable label into a 32-byte tag.
func LabelHash(label string) Hash {
	return Blake2([]byte(label))
}

// LE32 encodes v as 4 little-endian bytes.
func LE32(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

// LE64 encodes v as 8 little-endian bytes.
func LE64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

func decodeHex(s string, size int) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != size*2 {
		return nil, errors.New("wrong length")
	}
	return hex.DecodeString(s)
}
