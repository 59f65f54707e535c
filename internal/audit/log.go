// Package audit provides AuditLogger collaborators for the auth service.
package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"taxpilot.io/internal/auth"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogSink writes audit entries as structured log lines with type=audit.
type LogSink struct {
	log logrus.FieldLogger
}

func NewLogSink(l logrus.FieldLogger) *LogSink {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &LogSink{log: l}
}

var _ auth.AuditLogger = (*LogSink)(nil)

// Record writes one entry enriched with request and user context.
func (s *LogSink) Record(ctx context.Context, e auth.AuditEntry) error {
	action := strings.TrimSpace(e.Action)
	if action == "" {
		return errors.New("audit action is required")
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	fields := logrus.Fields{
		"type":        "audit",
		"event":       action,
		"resource":    e.Resource,
		"occurred_at": e.OccurredAt.Format(time.RFC3339Nano),
	}
	if e.ResourceID != "" {
		fields["resource_id"] = e.ResourceID
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		fields["request_id"] = rid
	}
	userID := e.UserID
	if userID == "" {
		userID, _ = auth.UserIDFromContext(ctx)
	}
	if userID != "" {
		fields["user_id"] = userID
	}
	meta := make(map[string]any, len(e.Metadata))
	for k, v := range e.Metadata {
		meta[k] = v
	}
	fields["fields"] = meta
	s.log.WithFields(fields).Info("audit")
	return nil
}
