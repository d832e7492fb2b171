package chain

import (
	"context"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

// MaxCallDepth bounds nested module-to-module calls within one transaction.
const MaxCallDepth = 8

// KV is the transactional key-value view a call reads and writes. Writes are
// buffered by the host and only reach the backend when the transaction commits.
type KV interface {
	Get(ctx context.Context, key []byte) ([]byte, bool, error)
	Set(key, value []byte)
	Delete(key []byte)
}

// Event is emitted by a module during a call. Topics carry the indexed fields.
type Event struct {
	Module Address `json:"module"`
	Name   string  `json:"name"`
	Topics []Hash  `json:"topics"`
	Data   any     `json:"data"`
}

// EventSink buffers events for the running transaction.
type EventSink interface {
	Emit(ev Event)
}

// Resolver maps a module address to the deployed module instance.
type Resolver interface {
	Module(addr Address) (any, bool)
}

// Call is the execution context of one invocation: who is calling, in which
// block, and the transactional state it runs against.
type Call struct {
	ctx      context.Context
	caller   Address
	block    Block
	kv       KV
	sink     EventSink
	resolver Resolver
	depth    int
}

// NewCall builds the root call of a transaction.
func NewCall(ctx context.Context, caller Address, block Block, kv KV, sink EventSink, resolver Resolver) *Call {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Call{ctx: ctx, caller: caller, block: block, kv: kv, sink: sink, resolver: resolver}
}

func (c *Call) Context() context.Context { return c.ctx }
func (c *Call) Caller() Address          { return c.caller }
func (c *Call) Block() Block             { return c.block }
func (c *Call) BlockNumber() uint64      { return c.block.Number }
func (c *Call) BlockTimestamp() uint64   { return c.block.Timestamp }
func (c *Call) Store() KV                { return c.kv }
func (c *Call) Depth() int               { return c.depth }

// As returns a nested call made by the module at from. The callee sees from
// as its caller and shares the transaction state of c.
func (c *Call) As(from Address) (*Call, error) {
	if c.depth+1 > MaxCallDepth {
		return nil, ErrCallDepthExceeded
	}
	sub := *c
	sub.caller = from
	sub.depth = c.depth + 1
	return &sub, nil
}

// Emit records an event on the running transaction.
func (c *Call) Emit(ev Event) {
	if c.sink != nil {
		c.sink.Emit(ev)
	}
}

// Module resolves a deployed module by address.
func (c *Call) Module(addr Address) (any, bool) {
	if c.resolver == nil || addr == (Address{}) {
		return nil, false
	}
	return c.resolver.Module(addr)
}

// TopicAddress left-pads an address into an indexed topic.
func TopicAddress(a Address) Hash {
	return common.BytesToHash(a.Bytes())
}

// TopicUint encodes an integer id as an indexed topic.
func TopicUint(v uint64) Hash {
	var h Hash
	binary.BigEndian.PutUint64(h[HashLength-8:], v)
	return h
}
