package audit

import (
	"context"
	"strings"

	"go.uber.org/zap"
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

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Log reads the ledger and mirrors committed entries to the structured log.
type Log struct {
	store  Store
	logger *zap.Logger
}

func NewLog(store Store, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{store: store, logger: logger}
}

// Emit writes a committed entry to the log stream. Persistence happens in the store
// transaction that produced the entry; Emit never fails the caller.
func (l *Log) Emit(ctx context.Context, e Entry) {
	rid := e.RequestID
	if rid == "" {
		rid = RequestIDFromContext(ctx)
	}
	fields := []zap.Field{
		zap.String("type", "audit"),
		zap.String("audit_id", e.ID),
		zap.String("authorization_id", e.AuthorizationID),
		zap.String("action", string(e.Action)),
		zap.String("actor_id", e.ActorID),
		zap.String("actor_role", e.ActorRole),
		zap.String("status_from", e.StatusFrom),
		zap.String("status_to", e.StatusTo),
		zap.Time("occurred_at", e.Timestamp),
	}
	if rid != "" {
		fields = append(fields, zap.String("request_id", rid))
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}
	if len(e.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", e.Metadata))
	}
	l.logger.Info("authorization."+string(e.Action), fields...)
}

// Entries returns the ledger for one authorization, oldest first.
func (l *Log) Entries(ctx context.Context, authorizationID string) ([]Entry, error) {
	return l.store.ListByAuthorization(ctx, authorizationID)
}
