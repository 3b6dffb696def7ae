// Package authz owns the seller-product authorization lifecycle: the state
// machine, its typed errors and the command service that persists transitions
// together with their audit entries.
package authz

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"sellergate.io/internal/audit"
	"sellergate.io/internal/feature"
	"sellergate.io/internal/ids"
	"sellergate.io/internal/obs"
)

var tracer = otel.Tracer("sellergate.authz")

// Invalidator drops cached gate decisions for a pair. Implementations must not
// fail the caller.
type Invalidator interface {
	InvalidateCache(ctx context.Context, sellerID, productID string)
}

// Service executes authorization commands.
type Service struct {
	store        Store
	ledger       *audit.Log
	flag         feature.Source
	invalidator  Invalidator
	metrics      obs.Metrics
	logger       *zap.Logger
	now          func() time.Time
	productLimit int
	cooldownDays int
}

// Option configures Service behavior.
type Option func(*Service) error

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithProductLimit sets the maximum number of approved products per seller.
func WithProductLimit(n int) Option {
	return func(s *Service) error {
		if n <= 0 {
			return errors.New("authz: product limit must be positive")
		}
		s.productLimit = n
		return nil
	}
}

// WithCooldownDays sets the cooldown applied when a rejection names none.
func WithCooldownDays(days int) Option {
	return func(s *Service) error {
		if days <= 0 {
			return errors.New("authz: cooldown days must be positive")
		}
		s.cooldownDays = days
		return nil
	}
}

func WithMetrics(m obs.Metrics) Option {
	return func(s *Service) error {
		if m != nil {
			s.metrics = m
		}
		return nil
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// WithInvalidator registers the cache that must forget a pair after every write.
func WithInvalidator(inv Invalidator) Option {
	return func(s *Service) error {
		s.invalidator = inv
		return nil
	}
}

// NewService wires a command service. ledger reads back what store appends.
func NewService(store Store, ledger *audit.Log, flag feature.Source, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("authz: store is required")
	}
	if ledger == nil {
		return nil, errors.New("authz: audit log is required")
	}
	if flag == nil {
		return nil, errors.New("authz: feature source is required")
	}
	svc := &Service{
		store:        store,
		ledger:       ledger,
		flag:         flag,
		metrics:      obs.NopMetrics{},
		logger:       zap.NewNop(),
		now:          func() time.Time { return time.Now().UTC() },
		productLimit: DefaultProductLimit,
		cooldownDays: DefaultCooldownDays,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// ProductLimit returns the configured per-seller cap.
func (s *Service) ProductLimit() int { return s.productLimit }

// RequestInput carries a seller's request for a product.
type RequestInput struct {
	SellerID   string
	ProductID  string
	SupplierID string
	Metadata   Metadata
}

// Request creates or re-opens the authorization for a (seller, product) pair.
func (s *Service) Request(ctx context.Context, in RequestInput) (Record, error) {
	in.SellerID = strings.TrimSpace(in.SellerID)
	in.ProductID = strings.TrimSpace(in.ProductID)
	in.SupplierID = strings.TrimSpace(in.SupplierID)

	ev := RequestEvent{
		SellerID:   in.SellerID,
		ProductID:  in.ProductID,
		SupplierID: in.SupplierID,
		Metadata:   in.Metadata,
	}
	if in.SellerID == "" || in.ProductID == "" {
		return Record{}, s.finish(ctx, ev, Record{}, invalidInput("seller_id and product_id are required"))
	}

	enabled, err := s.flag.Enabled(ctx)
	if err != nil {
		return Record{}, s.finish(ctx, ev, Record{}, systemError(err))
	}
	if !enabled {
		return Record{}, s.finish(ctx, ev, Record{}, ErrFeatureDisabled)
	}

	id, err := ids.NewAt(s.now())
	if err != nil {
		return Record{}, s.finish(ctx, ev, Record{}, systemError(err))
	}
	ev.ID = id
	return s.run(ctx, ByPair(in.SellerID, in.ProductID), ev)
}

// Approve grants a pending request.
func (s *Service) Approve(ctx context.Context, id string, actor Actor) (Record, error) {
	return s.byID(ctx, id, ApproveEvent{Actor: actor})
}

// Reject declines a pending request. A non-positive cooldownDays applies the
// configured default.
func (s *Service) Reject(ctx context.Context, id string, actor Actor, reason string, cooldownDays int) (Record, error) {
	if cooldownDays <= 0 {
		cooldownDays = s.cooldownDays
	}
	return s.byID(ctx, id, RejectEvent{Actor: actor, Reason: reason, CooldownDays: cooldownDays})
}

// Revoke permanently withdraws an approval.
func (s *Service) Revoke(ctx context.Context, id string, actor Actor, reason string) (Record, error) {
	return s.byID(ctx, id, RevokeEvent{Actor: actor, Reason: reason})
}

// Cancel withdraws a pending request. Only the requesting seller may cancel.
func (s *Service) Cancel(ctx context.Context, id, sellerID string) (Record, error) {
	return s.byID(ctx, id, CancelEvent{SellerID: strings.TrimSpace(sellerID)})
}

// Get returns one record.
func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	rec, err := s.store.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return Record{}, systemError(err)
	}
	return rec, nil
}

// AuditLogs returns the ledger for one authorization, oldest first.
func (s *Service) AuditLogs(ctx context.Context, authorizationID string) ([]audit.Entry, error) {
	entries, err := s.ledger.Entries(ctx, strings.TrimSpace(authorizationID))
	if err != nil {
		return nil, systemError(err)
	}
	return entries, nil
}

func (s *Service) byID(ctx context.Context, id string, ev Event) (Record, error) {
	target := ByID(id)
	if target.ID == "" {
		return Record{}, s.finish(ctx, ev, Record{}, invalidInput("authorization id is required"))
	}
	return s.run(ctx, target, ev)
}

// run applies ev inside the store's unit of work, then emits the audit line and
// invalidates the pair.
func (s *Service) run(ctx context.Context, target Target, ev Event) (Record, error) {
	op := string(ev.Action())
	ctx, span := tracer.Start(ctx, "authz."+op,
		trace.WithAttributes(
			attribute.String("authorization.id", target.ID),
			attribute.String("seller.id", target.SellerID),
			attribute.String("product.id", target.ProductID),
		),
	)
	defer span.End()

	now := s.now().UTC()
	requestID := audit.RequestIDFromContext(ctx)
	rec, entry, err := s.store.Mutate(ctx, target, func(current *Record, approved int) (Record, audit.Entry, error) {
		next, err := Apply(current, ev, Env{Now: now, ApprovedCount: approved, ProductLimit: s.productLimit})
		if err != nil {
			return Record{}, audit.Entry{}, err
		}
		entry, err := EntryFor(ev, current, next, now)
		if err != nil {
			return Record{}, audit.Entry{}, err
		}
		entry.RequestID = requestID
		return next, entry, nil
	})
	if err != nil {
		err = systemError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(CodeOf(err)))
		return Record{}, s.finish(ctx, ev, rec, err)
	}

	s.ledger.Emit(ctx, entry)
	if s.invalidator != nil {
		s.invalidator.InvalidateCache(ctx, rec.SellerID, rec.ProductID)
	}
	span.SetAttributes(attribute.String("authorization.status", string(rec.Status)))
	span.SetStatus(codes.Ok, "")
	return rec, s.finish(ctx, ev, rec, nil)
}

// finish records the outcome of a command and returns err unchanged.
func (s *Service) finish(ctx context.Context, ev Event, rec Record, err error) error {
	op := string(ev.Action())
	if err == nil {
		s.metrics.CommandCompleted(op, obs.OutcomeSuccess, "")
		return nil
	}
	code := CodeOf(err)
	s.metrics.CommandCompleted(op, obs.OutcomeError, string(code))
	switch code {
	case CodeCooldownActive:
		s.metrics.CooldownBlocked()
	case CodeLimitReached:
		s.metrics.LimitReached(op)
	}

	fields := []zap.Field{
		zap.String("op", op),
		zap.String("code", string(code)),
		zap.Error(err),
	}
	if rid := audit.RequestIDFromContext(ctx); rid != "" {
		fields = append(fields, zap.String("request_id", rid))
	}
	if rec.ID != "" {
		fields = append(fields, zap.String("authorization_id", rec.ID))
	}
	if code == CodeSystemError {
		s.logger.Error("authorization command failed", fields...)
	} else {
		s.logger.Debug("authorization command rejected", fields...)
	}
	return err
}
