package host

import (
	"encoding/json"

	"arkavo.org/accesscore/internal/chain"
	"arkavo.org/accesscore/internal/state"
)

// Record is a committed event as it appears in the event log.
type Record struct {
	Seq    uint64          `cbor:"1,keyasint" json:"seq"`
	TxID   string          `cbor:"2,keyasint" json:"tx_id"`
	Block  uint64          `cbor:"3,keyasint" json:"block"`
	Module chain.Address   `cbor:"4,keyasint" json:"module"`
	Name   string          `cbor:"5,keyasint" json:"name"`
	Topics []chain.Hash    `cbor:"6,keyasint" json:"topics"`
	Data   json.RawMessage `cbor:"7,keyasint" json:"data"`
}

// Receipt describes a committed transaction.
type Receipt struct {
	TxID   string   `json:"tx_id"`
	Method string   `json:"method"`
	Caller string   `json:"caller"`
	Block  uint64   `json:"block"`
	Events []Record `json:"events"`
}

// Find returns the first event named name in the receipt.
func (r Receipt) Find(name string) (Record, bool) {
	for _, ev := range r.Events {
		if ev.Name == name {
			return ev, true
		}
	}
	return Record{}, false
}

func toLogEntry(r Record) (state.LogEntry, error) {
	raw, err := state.Marshal(r)
	if err != nil {
		return state.LogEntry{}, err
	}
	return state.LogEntry{
		Seq:    r.Seq,
		TxID:   r.TxID,
		Module: r.Module.Hex(),
		Name:   r.Name,
		Block:  r.Block,
		Data:   raw,
	}, nil
}

func fromLogEntry(e state.LogEntry) (Record, error) {
	var r Record
	if err := state.Unmarshal(e.Data, &r); err != nil {
		return Record{}, err
	}
	return r, nil
}

// buffer collects the events of one transaction.
type buffer struct {
	events []chain.Event
}

func (b *buffer) Emit(ev chain.Event) {
	b.events = append(b.events, ev)
}
