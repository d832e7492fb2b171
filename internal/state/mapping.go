package state

import (
	"encoding/binary"
	"fmt"

	"arkavo.org/accesscore/internal/chain"
)

// KeyEncoder turns a typed mapping key into bytes.
type KeyEncoder[K any] func(K) []byte

func AddressKey(a chain.Address) []byte { return a.Bytes() }
func HashKey(h chain.Hash) []byte       { return h.Bytes() }
func StringKey(s string) []byte         { return []byte(s) }

// Uint32Key is big-endian so numeric ids sort in order.
func Uint32Key(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

// Prefix returns the key prefix of table inside module:
// module(20) ‖ len(table) ‖ table.
func Prefix(module chain.Address, table string) []byte {
	if len(table) > 255 {
		panic("state: table name too long")
	}
	p := make([]byte, 0, chain.AddressLength+1+len(table))
	p = append(p, module.Bytes()...)
	p = append(p, byte(len(table)))
	p = append(p, table...)
	return p
}

// Mapping is a typed, non-enumerable table owned by one module. Values are
// stored as deterministic CBOR.
type Mapping[K any, V any] struct {
	prefix []byte
	enc    KeyEncoder[K]
}

// NewMapping declares table under module.
func NewMapping[K any, V any](module chain.Address, table string, enc KeyEncoder[K]) Mapping[K, V] {
	return Mapping[K, V]{prefix: Prefix(module, table), enc: enc}
}

// Key returns the full storage key of k.
func (m Mapping[K, V]) Key(k K) []byte {
	kb := m.enc(k)
	out := make([]byte, 0, len(m.prefix)+len(kb))
	out = append(out, m.prefix...)
	return append(out, kb...)
}

func (m Mapping[K, V]) Get(c *chain.Call, k K) (V, bool, error) {
	var v V
	raw, ok, err := c.Store().Get(c.Context(), m.Key(k))
	if err != nil || !ok {
		return v, false, err
	}
	if err := Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("state: decode %x: %w", m.Key(k), err)
	}
	return v, true, nil
}

func (m Mapping[K, V]) Has(c *chain.Call, k K) (bool, error) {
	_, ok, err := c.Store().Get(c.Context(), m.Key(k))
	return ok, err
}

func (m Mapping[K, V]) Set(c *chain.Call, k K, v V) error {
	raw, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("state: encode: %w", err)
	}
	c.Store().Set(m.Key(k), raw)
	return nil
}

func (m Mapping[K, V]) Delete(c *chain.Call, k K) {
	c.Store().Delete(m.Key(k))
}

// Value is a single typed storage slot.
type Value[V any] struct {
	key []byte
}

// NewValue declares the slot name under module.
func NewValue[V any](module chain.Address, name string) Value[V] {
	return Value[V]{key: Prefix(module, name)}
}

func (s Value[V]) Get(c *chain.Call) (V, bool, error) {
	var v V
	raw, ok, err := c.Store().Get(c.Context(), s.key)
	if err != nil || !ok {
		return v, false, err
	}
	if err := Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("state: decode %x: %w", s.key, err)
	}
	return v, true, nil
}

// GetOr returns the stored value or def when the slot is empty.
func (s Value[V]) GetOr(c *chain.Call, def V) (V, error) {
	v, ok, err := s.Get(c)
	if err != nil {
		return def, err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

func (s Value[V]) Set(c *chain.Call, v V) error {
	raw, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("state: encode: %w", err)
	}
	c.Store().Set(s.key, raw)
	return nil
}

func (s Value[V]) Clear(c *chain.Call) {
	c.Store().Delete(s.key)
}
