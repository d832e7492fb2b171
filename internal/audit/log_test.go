package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"arkavo.org/accesscore/internal/auth"
	"arkavo.org/accesscore/internal/chain"
	"arkavo.org/accesscore/internal/host"
	"arkavo.org/accesscore/internal/obs"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(original) })
	return &buf
}

func TestLogEvent(t *testing.T) {
	buf := captureLog(t)
	caller := chain.Address{0x42}

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithCaller(ctx, caller)

	if err := LogEvent(ctx, "audit.test", map[string]any{"foo": "bar"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	line := buf.String()
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "audit.test" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["caller"] != caller.Hex() {
		t.Fatalf("unexpected caller: %v", entry["caller"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["foo"] != "bar" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}

func TestSubscriberAuditsRecords(t *testing.T) {
	buf := captureLog(t)
	sub := Subscriber()
	sub(context.Background(), []host.Record{
		{Seq: 1, TxID: "tx-a", Block: 3, Module: chain.Address{0x01}, Name: "SessionCreated", Data: json.RawMessage(`{"ok":true}`)},
		{Seq: 2, TxID: "tx-a", Block: 3, Module: chain.Address{0x01}, Name: "SessionRevoked", Data: json.RawMessage(`{}`)},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 audit lines, got %d", len(lines))
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["event"] != "chain.SessionCreated" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	fields := entry["fields"].(map[string]any)
	if fields["tx_id"] != "tx-a" || fields["seq"] != float64(1) {
		t.Fatalf("unexpected fields: %v", fields)
	}
	if data, ok := fields["data"].(map[string]any); !ok || data["ok"] != true {
		t.Fatalf("payload not embedded: %v", fields["data"])
	}
}

func TestLogRecordIncludesTopics(t *testing.T) {
	buf := captureLog(t)
	topic := chain.LabelHash("scope:media")
	if err := LogRecord(context.Background(), host.Record{Seq: 9, Name: "ScopeRequirementSet", Topics: []chain.Hash{topic}, Data: json.RawMessage(`{}`)}); err != nil {
		t.Fatal(err)
	}
	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	topics, ok := entry.Fields["topics"].([]any)
	if !ok || len(topics) != 1 || topics[0] != topic.Hex() {
		t.Fatalf("unexpected topics: %v", entry.Fields["topics"])
	}
	if entry.RequestID != "" || entry.Caller != "" {
		t.Fatalf("unexpected context fields: %+v", entry)
	}
}
