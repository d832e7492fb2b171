// Package host runs the access-control modules the way a chain node would:
// one transaction at a time, each over a private overlay that is committed
// atomically together with its events, inside the block currently being
// produced.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"arkavo.org/accesscore/internal/chain"
	"arkavo.org/accesscore/internal/ids"
	"arkavo.org/accesscore/internal/obs"
	"arkavo.org/accesscore/internal/state"
)

// Module is anything deployed at an address.
type Module interface {
	Address() chain.Address
}

// Subscriber receives the events of every committed transaction, in commit order.
type Subscriber func(ctx context.Context, recs []Record)

var (
	// sysAddr namespaces host bookkeeping; no module can derive it.
	sysAddr  = chain.Address{}
	sysBlock = state.NewValue[chain.Block](sysAddr, "block")
	sysSeq   = state.NewValue[uint64](sysAddr, "event_seq")
)

// Host executes transactions against a backend.
type Host struct {
	mu      sync.Mutex // serialises transactions and block sealing
	backend state.Backend
	clock   *BlockClock
	seq     uint64

	modMu   sync.RWMutex
	modules map[chain.Address]any

	subMu sync.RWMutex
	subs  []Subscriber

	now func() time.Time
}

// Option configures a Host.
type Option func(*Host)

// WithClock replaces time.Now for block timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Host) { h.now = now }
}

// New opens a host over backend, resuming the block height and event
// sequence persisted by a previous run.
func New(ctx context.Context, backend state.Backend, opts ...Option) (*Host, error) {
	h := &Host{
		backend: backend,
		modules: make(map[chain.Address]any),
		now:     time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	c := chain.NewCall(ctx, sysAddr, chain.Block{}, state.NewOverlay(backend), nil, nil)
	block, _, err := sysBlock.Get(c)
	if err != nil {
		return nil, fmt.Errorf("host: load block: %w", err)
	}
	seq, err := sysSeq.GetOr(c, 0)
	if err != nil {
		return nil, fmt.Errorf("host: load event sequence: %w", err)
	}
	h.seq = seq
	h.clock = NewBlockClock(block, h.now)
	obs.SetBlockHeight(h.clock.Current().Number)
	return h, nil
}

// Deploy makes m resolvable by address from within transactions.
func (h *Host) Deploy(m Module) {
	h.modMu.Lock()
	defer h.modMu.Unlock()
	h.modules[m.Address()] = m
}

// Module implements chain.Resolver.
func (h *Host) Module(addr chain.Address) (any, bool) {
	h.modMu.RLock()
	defer h.modMu.RUnlock()
	m, ok := h.modules[addr]
	return m, ok
}

// Subscribe registers fn for committed events.
func (h *Host) Subscribe(fn Subscriber) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	h.subs = append(h.subs, fn)
}

// Block returns the block transactions currently execute in.
func (h *Host) Block() chain.Block { return h.clock.Current() }

// LastSeq returns the sequence number of the last committed event.
func (h *Host) LastSeq() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

// Execute runs fn as one transaction sent by caller. When fn fails every
// write and event it produced is dropped and the error is returned as is.
// method labels the transaction in metrics and receipts.
func (h *Host) Execute(ctx context.Context, caller chain.Address, method string, fn func(c *chain.Call) error) (Receipt, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	block := h.clock.Current()
	overlay := state.NewOverlay(h.backend)
	buf := &buffer{}
	c := chain.NewCall(ctx, caller, block, overlay, buf, h)

	if err := fn(c); err != nil {
		observe(method, err, start)
		return Receipt{}, err
	}

	txID := ids.TxID()
	recs := make([]Record, 0, len(buf.events))
	entries := make([]state.LogEntry, 0, len(buf.events))
	seq := h.seq
	for _, ev := range buf.events {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			observe(method, err, start)
			return Receipt{}, fmt.Errorf("host: encode %s: %w", ev.Name, err)
		}
		seq++
		rec := Record{
			Seq:    seq,
			TxID:   txID,
			Block:  block.Number,
			Module: ev.Module,
			Name:   ev.Name,
			Topics: ev.Topics,
			Data:   data,
		}
		entry, err := toLogEntry(rec)
		if err != nil {
			observe(method, err, start)
			return Receipt{}, fmt.Errorf("host: encode %s: %w", ev.Name, err)
		}
		recs = append(recs, rec)
		entries = append(entries, entry)
	}

	sys := chain.NewCall(ctx, sysAddr, block, overlay, nil, nil)
	if err := sysBlock.Set(sys, block); err != nil {
		return Receipt{}, err
	}
	if err := sysSeq.Set(sys, seq); err != nil {
		return Receipt{}, err
	}
	if err := h.backend.Apply(ctx, state.Batch{Writes: overlay.Writes(), Log: entries}); err != nil {
		observe(method, err, start)
		return Receipt{}, fmt.Errorf("host: commit: %w", err)
	}
	h.seq = seq

	observe(method, nil, start)
	for _, r := range recs {
		obs.CountEvent(r.Name)
	}
	if len(recs) > 0 {
		h.notify(ctx, recs)
	}
	return Receipt{TxID: txID, Method: method, Caller: caller.Hex(), Block: block.Number, Events: recs}, nil
}

// Query runs fn read-only against committed state. Writes and events are
// discarded.
func (h *Host) Query(ctx context.Context, caller chain.Address, fn func(c *chain.Call) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := chain.NewCall(ctx, caller, h.clock.Current(), state.NewOverlay(h.backend), nil, h)
	return fn(c)
}

// SealBlock closes the open block and persists the new height.
func (h *Host) SealBlock(ctx context.Context) (chain.Block, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	next := h.clock.Seal()
	overlay := state.NewOverlay(h.backend)
	if err := sysBlock.Set(chain.NewCall(ctx, sysAddr, next, overlay, nil, nil), next); err != nil {
		return chain.Block{}, err
	}
	if err := h.backend.Apply(ctx, state.Batch{Writes: overlay.Writes()}); err != nil {
		return chain.Block{}, fmt.Errorf("host: seal block %d: %w", next.Number, err)
	}
	obs.SetBlockHeight(next.Number)
	return next, nil
}

// Run seals a block every interval until ctx ends.
func (h *Host) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := h.SealBlock(ctx); err != nil && !errors.Is(err, context.Canceled) {
				obs.Error("seal block failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

// Events returns committed events with Seq > after, oldest first.
func (h *Host) Events(ctx context.Context, after uint64, limit int) ([]Record, error) {
	entries, err := h.backend.Log(ctx, after, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		r, err := fromLogEntry(e)
		if err != nil {
			return nil, fmt.Errorf("host: decode event %d: %w", e.Seq, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (h *Host) notify(ctx context.Context, recs []Record) {
	h.subMu.RLock()
	subs := append([]Subscriber(nil), h.subs...)
	h.subMu.RUnlock()
	for _, fn := range subs {
		fn(ctx, recs)
	}
}

func observe(method string, err error, start time.Time) {
	outcome := "ok"
	if err != nil {
		outcome = chain.KindOf(err)
		if outcome == "" {
			outcome = "error"
		}
	}
	obs.ObserveTx(method, outcome, time.Since(start))
}
