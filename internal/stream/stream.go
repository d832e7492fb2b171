// Package stream fans committed chain events out to live subscribers (SSE clients).
package stream

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"arkavo.org/accesscore/internal/chain"
	"arkavo.org/accesscore/internal/host"
)

// Filter selects events by module and name. Zero values match everything.
type Filter struct {
	Module chain.Address
	Name   string
}

func (f Filter) match(r host.Record) bool {
	if f.Module != (chain.Address{}) && r.Module != f.Module {
		return false
	}
	if f.Name != "" && !strings.EqualFold(f.Name, r.Name) {
		return false
	}
	return true
}

type subscriber struct {
	ch     chan host.Record
	filter Filter
}

// Stream fan-outs committed events to all active subscribers.
type Stream struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	dropped atomic.Uint64
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context, f Filter) <-chan host.Record {
	ch := make(chan host.Record, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{ch: ch, filter: f}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all matching subscribers.
func (s *Stream) Publish(rec host.Record) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if !sub.filter.match(rec) {
			continue
		}
		select {
		case sub.ch <- rec:
		default:
			// Drop when subscriber is slow to avoid blocking the host.
			s.dropped.Add(1)
		}
	}
}

// Dropped reports how many deliveries were skipped for slow subscribers.
func (s *Stream) Dropped() uint64 { return s.dropped.Load() }

// Subscribers reports the number of live subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Subscriber adapts the stream to host.Subscribe.
func (s *Stream) Subscriber() host.Subscriber {
	return func(_ context.Context, recs []host.Record) {
		for _, r := range recs {
			s.Publish(r)
		}
	}
}
