package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"taxpilot.io/internal/auth"
	"taxpilot.io/internal/obs"
)

func TestLogSinkRecord(t *testing.T) {
	var buf bytes.Buffer
	logger, err := obs.NewLogger("info", "json", &buf)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	sink := NewLogSink(logger)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithIdentity(ctx, auth.AccessPayload{UserID: "user-42", Roles: []string{auth.RoleAdmin}})

	err = sink.Record(ctx, auth.AuditEntry{
		Action:     auth.ActionRoleAssign,
		Resource:   "user",
		ResourceID: "user-7",
		Metadata:   map[string]any{"role": "EDITOR"},
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
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
	if entry["event"] != auth.ActionRoleAssign {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["user_id"] != "user-42" {
		t.Fatalf("unexpected user id: %v", entry["user_id"])
	}
	if entry["resource_id"] != "user-7" {
		t.Fatalf("unexpected resource id: %v", entry["resource_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["role"] != "EDITOR" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogSinkRequiresAction(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := obs.NewLogger("info", "json", &buf)
	if err := NewLogSink(logger).Record(context.Background(), auth.AuditEntry{}); err == nil {
		t.Fatal("expected error for empty action")
	}
	if buf.Len() != 0 {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
