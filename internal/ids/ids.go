// Package ids mints the time-ordered identifiers attached to committed
// transactions and HTTP requests.
package ids

import (
	"io"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const txPrefix = "tx_"

type source struct {
	mu      sync.Mutex
	entropy io.Reader
}

func newSource(seed int64) *source {
	return &source{entropy: ulid.Monotonic(mathrand.New(mathrand.NewSource(seed)), 0)}
}

func (s *source) next(now time.Time) ulid.ULID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), s.entropy)
}

var global = newSource(time.Now().UnixNano())

// TxID returns the id of a committed transaction. Ids minted by one process
// sort in commit order.
func TxID() string {
	return txPrefix + global.next(time.Now()).String()
}

// RequestID returns a fresh id for an HTTP request that carried none.
func RequestID() string {
	return strings.ToLower(global.next(time.Now()).String())
}

// IsTxID reports whether s has the shape TxID produces.
func IsTxID(s string) bool {
	if !strings.HasPrefix(s, txPrefix) {
		return false
	}
	_, err := ulid.ParseStrict(s[len(txPrefix):])
	return err == nil
}
