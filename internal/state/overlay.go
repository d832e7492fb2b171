package state

import (
	"bytes"
	"context"
	"sort"
)

type pending struct {
	value   []byte
	deleted bool
}

// Overlay buffers the writes of one transaction on top of a Reader. Reads see
// the transaction's own writes first. Nothing reaches the underlying store
// until the caller commits Writes() through Backend.Apply.
type Overlay struct {
	base    Reader
	pending map[string]pending
}

// NewOverlay starts an empty journal over base.
func NewOverlay(base Reader) *Overlay {
	return &Overlay{base: base, pending: make(map[string]pending)}
}

func (o *Overlay) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if p, ok := o.pending[string(key)]; ok {
		if p.deleted {
			return nil, false, nil
		}
		return p.value, true, nil
	}
	return o.base.Get(ctx, key)
}

func (o *Overlay) Set(key, value []byte) {
	v := make([]byte, len(value))
	copy(v, value)
	o.pending[string(key)] = pending{value: v}
}

func (o *Overlay) Delete(key []byte) {
	o.pending[string(key)] = pending{deleted: true}
}

// Dirty reports whether the overlay holds any write.
func (o *Overlay) Dirty() bool { return len(o.pending) > 0 }

// Writes returns the buffered mutations ordered by key.
func (o *Overlay) Writes() []Write {
	out := make([]Write, 0, len(o.pending))
	for k, p := range o.pending {
		w := Write{Key: []byte(k), Delete: p.deleted}
		if !p.deleted {
			w.Value = p.value
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out
}

// Discard drops every buffered write.
func (o *Overlay) Discard() {
	o.pending = make(map[string]pending)
}
