// Package audit writes one JSON line per security-relevant action: committed
// chain events, issued tokens, sealed blocks.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"arkavo.org/accesscore/internal/auth"
	"arkavo.org/accesscore/internal/host"
	"arkavo.org/accesscore/internal/obs"
)

type requestIDKey struct{}

// WithRequestID tags ctx so entries written under it carry the request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID = strings.TrimSpace(requestID); requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// Entry is the shape of an audit line.
type Entry struct {
	TS        string         `json:"ts"`
	Type      string         `json:"type"`
	Event     string         `json:"event"`
	RequestID string         `json:"request_id,omitempty"`
	Caller    string         `json:"caller,omitempty"`
	Fields    map[string]any `json:"fields"`
}

func newEntry(ctx context.Context, event string, fields map[string]any) Entry {
	e := Entry{
		TS:     time.Now().UTC().Format(time.RFC3339Nano),
		Type:   "audit",
		Event:  event,
		Fields: make(map[string]any, len(fields)),
	}
	if ctx != nil {
		e.RequestID, _ = ctx.Value(requestIDKey{}).(string)
		if caller, ok := auth.CallerFromContext(ctx); ok {
			e.Caller = caller.Hex()
		}
	}
	for k, v := range fields {
		e.Fields[k] = v
	}
	return e
}

// LogEvent writes an audit entry for event.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	data, err := json.Marshal(newEntry(ctx, event, fields))
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

// LogRecord audits a committed chain event under "chain.<Name>".
func LogRecord(ctx context.Context, rec host.Record) error {
	fields := map[string]any{
		"seq":    rec.Seq,
		"tx_id":  rec.TxID,
		"block":  rec.Block,
		"module": rec.Module.Hex(),
		"data":   rec.Data,
	}
	if len(rec.Topics) > 0 {
		fields["topics"] = rec.Topics
	}
	return LogEvent(ctx, "chain."+rec.Name, fields)
}

// Subscriber returns a host subscriber that audits every committed event.
func Subscriber() host.Subscriber {
	return func(ctx context.Context, recs []host.Record) {
		for _, r := range recs {
			if err := LogRecord(ctx, r); err != nil {
				obs.Error("audit write failed", map[string]any{"seq": r.Seq, "error": err.Error()})
			}
		}
	}
}
