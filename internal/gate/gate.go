// Package gate answers "may this seller sell this product" on the hot path. It
// reads through a decision cache, fails closed on store errors and fails open
// when the feature flag is off.
package gate

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"sellergate.io/internal/authz"
	"sellergate.io/internal/cache"
	"sellergate.io/internal/feature"
	"sellergate.io/internal/obs"
)

const DefaultTTL = 30 * time.Second

// generationShards bounds the invalidation counters. Pairs sharing a shard only
// cost each other a skipped cache write.
const generationShards = 1024

var tracer = otel.Tracer("sellergate.gate")

// Store is the read side the gate needs. Implementations must not block on
// in-progress writes for longer than a row read.
type Store interface {
	HasApproved(ctx context.Context, sellerID, productID string) (bool, error)
	// ApprovedAmong answers for every product in one round trip.
	ApprovedAmong(ctx context.Context, sellerID string, productIDs []string) (map[string]bool, error)
	ApprovedProducts(ctx context.Context, sellerID string) ([]string, error)
	FindByPair(ctx context.Context, sellerID, productID string) (authz.Record, error)
	CountApproved(ctx context.Context, sellerID string) (int, error)
}

// Service is the gate query service.
type Service struct {
	store        Store
	cache        cache.Cache
	flag         feature.Source
	metrics      obs.Metrics
	logger       *zap.Logger
	ttl          time.Duration
	productLimit int
	now          func() time.Time

	checks singleflight.Group
	warms  singleflight.Group

	// invalidations counts InvalidateCache calls per shard. A fill that read
	// the store under an older count must not leave its decision cached.
	invalidations [generationShards]atomic.Uint64
}

var _ authz.Invalidator = (*Service)(nil)

type Option func(*Service)

// WithTTL sets how long decisions stay cached.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithProductLimit must match the command service so CanRequest agrees with it.
func WithProductLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.productLimit = n
		}
	}
}

func WithMetrics(m obs.Metrics) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func New(store Store, c cache.Cache, flag feature.Source, opts ...Option) *Service {
	s := &Service{
		store:        store,
		cache:        c,
		flag:         flag,
		metrics:      obs.NopMetrics{},
		logger:       zap.NewNop(),
		ttl:          DefaultTTL,
		productLimit: authz.DefaultProductLimit,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// enabled reads the flag. A failed read keeps the gate enforcing.
func (s *Service) enabled(ctx context.Context) bool {
	on, err := s.flag.Enabled(ctx)
	if err != nil {
		s.logger.Warn("feature flag read failed; enforcing gate", zap.Error(err))
		return true
	}
	s.metrics.FeatureState(on)
	return on
}

// IsApproved reports whether the seller may sell the product. It never returns an
// error: store failures deny, a disabled gate allows.
func (s *Service) IsApproved(ctx context.Context, sellerID, productID string) bool {
	start := time.Now()
	sellerID, productID = strings.TrimSpace(sellerID), strings.TrimSpace(productID)
	ctx, span := tracer.Start(ctx, "gate.IsApproved", trace.WithAttributes(
		attribute.String("seller.id", sellerID),
		attribute.String("product.id", productID),
	))
	defer span.End()

	if !s.enabled(ctx) {
		s.metrics.GateChecked(obs.SourceDisabled, time.Since(start))
		span.SetAttributes(attribute.String("gate.source", obs.SourceDisabled))
		return true
	}

	approved, found, err := s.cache.Get(ctx, sellerID, productID)
	if err != nil {
		s.cacheFailed("get", err)
	} else if found {
		s.metrics.GateChecked(obs.SourceCacheHit, time.Since(start))
		span.SetAttributes(attribute.String("gate.source", obs.SourceCacheHit))
		return approved
	}

	v, err, _ := s.checks.Do(cache.Key(sellerID, productID), func() (any, error) {
		gen := s.generation(sellerID, productID)
		ok, err := s.store.HasApproved(ctx, sellerID, productID)
		if err != nil {
			return false, err
		}
		_, _ = s.fill(ctx, sellerID, map[string]uint64{productID: gen}, map[string]bool{productID: ok})
		return ok, nil
	})
	if err != nil {
		s.logger.Error("gate store lookup failed; denying",
			zap.String("seller_id", sellerID),
			zap.String("product_id", productID),
			zap.Error(err),
		)
		s.metrics.GateChecked(obs.SourceError, time.Since(start))
		span.RecordError(err)
		return false
	}
	s.metrics.GateChecked(obs.SourceCacheMiss, time.Since(start))
	span.SetAttributes(attribute.String("gate.source", obs.SourceCacheMiss))
	return v.(bool)
}

// BulkResult is the outcome of a multi-product check.
type BulkResult struct {
	Results       map[string]bool `json:"results"`
	Authorized    []string        `json:"authorized"`
	Unauthorized  []string        `json:"unauthorized"`
	CacheHitRate  float64         `json:"cache_hit_rate"`
	ExecutionTime time.Duration   `json:"execution_time_ns"`
}

// BulkIsApproved checks many products for one seller with a single cache
// multi-get and at most one store query.
func (s *Service) BulkIsApproved(ctx context.Context, sellerID string, productIDs []string) BulkResult {
	start := time.Now()
	sellerID = strings.TrimSpace(sellerID)
	unique := dedupe(productIDs)
	ctx, span := tracer.Start(ctx, "gate.BulkIsApproved", trace.WithAttributes(
		attribute.String("seller.id", sellerID),
		attribute.Int("products", len(unique)),
	))
	defer span.End()

	decisions := make(map[string]bool, len(unique))
	hits := 0
	if !s.enabled(ctx) {
		for _, pid := range unique {
			decisions[pid] = true
		}
	} else {
		cached, err := s.cache.GetMany(ctx, sellerID, unique)
		if err != nil {
			s.cacheFailed("get_many", err)
			cached = nil
		}
		var misses []string
		for _, pid := range unique {
			if v, ok := cached[pid]; ok {
				decisions[pid] = v
				hits++
			} else {
				misses = append(misses, pid)
			}
		}
		if len(misses) > 0 {
			if err := s.fillMisses(ctx, sellerID, misses, decisions); err != nil {
				s.logger.Error("gate bulk lookup failed; denying all",
					zap.String("seller_id", sellerID),
					zap.Int("products", len(unique)),
					zap.Error(err),
				)
				span.RecordError(err)
				for _, pid := range unique {
					decisions[pid] = false
				}
				hits = 0
			}
		}
	}

	res := BulkResult{
		Results:      decisions,
		Authorized:   []string{},
		Unauthorized: []string{},
	}
	for _, pid := range unique {
		if decisions[pid] {
			res.Authorized = append(res.Authorized, pid)
		} else {
			res.Unauthorized = append(res.Unauthorized, pid)
		}
	}
	if len(unique) > 0 {
		res.CacheHitRate = float64(hits) / float64(len(unique))
	}
	res.ExecutionTime = time.Since(start)
	s.metrics.BulkChecked(len(unique), res.CacheHitRate, res.ExecutionTime)
	return res
}

func (s *Service) fillMisses(ctx context.Context, sellerID string, misses []string, decisions map[string]bool) error {
	gens := s.generationsOf(sellerID, misses)
	approved, err := s.store.ApprovedAmong(ctx, sellerID, misses)
	if err != nil {
		return err
	}
	backfill := make(map[string]bool, len(misses))
	for _, pid := range misses {
		backfill[pid] = approved[pid]
		decisions[pid] = approved[pid]
	}
	_, _ = s.fill(ctx, sellerID, gens, backfill)
	return nil
}

func shardOf(sellerID, productID string) uint64 {
	return xxhash.Sum64String(cache.Key(sellerID, productID)) % generationShards
}

func (s *Service) generation(sellerID, productID string) uint64 {
	return s.invalidations[shardOf(sellerID, productID)].Load()
}

func (s *Service) generationsOf(sellerID string, productIDs []string) map[string]uint64 {
	out := make(map[string]uint64, len(productIDs))
	for _, pid := range productIDs {
		out[pid] = s.generation(sellerID, pid)
	}
	return out
}

// fill caches decisions read from the store. gens holds each pair's generation
// from before the read. Pairs invalidated since then are skipped, and pairs
// invalidated while the write was in flight are deleted again. Write errors are
// logged here before they are returned.
func (s *Service) fill(ctx context.Context, sellerID string, gens map[string]uint64, decisions map[string]bool) (int, error) {
	fresh := make(map[string]bool, len(decisions))
	for pid, ok := range decisions {
		if s.generation(sellerID, pid) == gens[pid] {
			fresh[pid] = ok
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	var err error
	if len(fresh) == 1 {
		for pid, ok := range fresh {
			if err = s.cache.Set(ctx, sellerID, pid, ok, s.ttl); err != nil {
				s.cacheFailed("set", err)
			}
		}
	} else if err = s.cache.SetMany(ctx, sellerID, fresh, s.ttl); err != nil {
		s.cacheFailed("set_many", err)
	}
	if err != nil {
		return 0, err
	}
	for pid := range fresh {
		if s.generation(sellerID, pid) != gens[pid] {
			if err := s.cache.Delete(ctx, sellerID, pid); err != nil {
				s.cacheFailed("delete", err)
			}
			delete(fresh, pid)
		}
	}
	return len(fresh), nil
}

// StatusResult explains a pair's state for user-facing surfaces.
type StatusResult struct {
	IsAuthorized    bool         `json:"is_authorized"`
	Status          authz.Status `json:"status"`
	AuthorizationID string       `json:"authorization_id,omitempty"`
	Reason          string       `json:"reason,omitempty"`
	CooldownUntil   *time.Time   `json:"cooldown_until,omitempty"`
	DaysRemaining   int          `json:"days_remaining,omitempty"`
	CanRequest      bool         `json:"can_request"`
	ErrorCode       authz.Code   `json:"error_code,omitempty"`
	Message         string       `json:"message,omitempty"`
}

// Status reads the store directly so cooldown and revocation details are exact.
// While the gate is disabled the record is still reported, marked authorized.
// It has no side effects.
func (s *Service) Status(ctx context.Context, sellerID, productID string) StatusResult {
	sellerID, productID = strings.TrimSpace(sellerID), strings.TrimSpace(productID)
	ctx, span := tracer.Start(ctx, "gate.Status", trace.WithAttributes(
		attribute.String("seller.id", sellerID),
		attribute.String("product.id", productID),
	))
	defer span.End()

	enabled := s.enabled(ctx)
	rec, err := s.store.FindByPair(ctx, sellerID, productID)
	switch {
	case errors.Is(err, authz.ErrNotFound):
		rec = authz.Record{Status: authz.StatusNone}
	case err != nil:
		span.RecordError(err)
		res := s.statusFailed(sellerID, productID, err)
		if !enabled {
			res = disabledStatus(StatusResult{Status: authz.StatusNone})
		}
		return res
	}

	now := s.now().UTC()
	res := StatusResult{
		IsAuthorized:    rec.Status == authz.StatusApproved,
		Status:          rec.Status,
		AuthorizationID: rec.ID,
	}
	requestable := false
	switch rec.Status {
	case authz.StatusApproved:
		res.Message = "authorized"
	case authz.StatusRequested:
		res.ErrorCode = authz.CodeAlreadyRequested
		res.Message = "awaiting supplier review"
	case authz.StatusRevoked:
		res.Reason = rec.RevocationReason
		res.ErrorCode = authz.CodePermanentlyRevoked
		res.Message = "authorization was permanently revoked"
	case authz.StatusRejected:
		res.Reason = rec.RejectionReason
		if rec.InCooldown(now) {
			until := rec.CooldownUntil.UTC()
			res.CooldownUntil = &until
			res.DaysRemaining = authz.DaysRemaining(until, now)
			res.ErrorCode = authz.CodeCooldownActive
			res.Message = "request rejected; re-request blocked by cooldown"
		} else {
			requestable = true
		}
	default:
		requestable = true
	}

	if !enabled {
		return disabledStatus(res)
	}
	if requestable {
		count, err := s.store.CountApproved(ctx, sellerID)
		if err != nil {
			span.RecordError(err)
			return s.statusFailed(sellerID, productID, err)
		}
		if count >= s.productLimit {
			res.ErrorCode = authz.CodeLimitReached
			res.Message = "seller product limit reached"
		} else {
			res.CanRequest = true
			if res.Message == "" {
				res.Message = "not authorized; request available"
			}
		}
	}
	return res
}

// disabledStatus keeps the record details but reports the pair as sellable.
func disabledStatus(res StatusResult) StatusResult {
	res.IsAuthorized = true
	res.CanRequest = false
	res.ErrorCode = authz.CodeFeatureDisabled
	res.Message = "seller authorization is disabled; all products are sellable"
	return res
}

func (s *Service) statusFailed(sellerID, productID string, err error) StatusResult {
	s.logger.Error("gate status lookup failed",
		zap.String("seller_id", sellerID),
		zap.String("product_id", productID),
		zap.Error(err),
	)
	return StatusResult{
		IsAuthorized: false,
		ErrorCode:    authz.CodeSystemError,
		Message:      "authorization status unavailable",
	}
}

// InvalidateCache forgets the pair so the next check reads the store. Fills that
// started before the call do not repopulate it. Failures are logged; the TTL
// bounds staleness.
func (s *Service) InvalidateCache(ctx context.Context, sellerID, productID string) {
	sellerID, productID = strings.TrimSpace(sellerID), strings.TrimSpace(productID)
	s.invalidations[shardOf(sellerID, productID)].Add(1)
	s.checks.Forget(cache.Key(sellerID, productID))
	err := s.cache.Delete(ctx, sellerID, productID)
	s.metrics.CacheInvalidated(err == nil)
	if err != nil {
		s.logger.Warn("gate cache invalidation failed",
			zap.String("seller_id", sellerID),
			zap.String("product_id", productID),
			zap.Error(err),
		)
	}
}

// WarmCache preloads every approved pair of the seller and returns how many were
// cached. It does nothing while the gate is disabled.
func (s *Service) WarmCache(ctx context.Context, sellerID string) (int, error) {
	sellerID = strings.TrimSpace(sellerID)
	if sellerID == "" {
		return 0, errors.New("gate: seller id is required")
	}
	if !s.enabled(ctx) {
		return 0, nil
	}
	v, err, _ := s.warms.Do(sellerID, func() (any, error) {
		// Shard counters only grow, so a snapshot of the whole array taken
		// before the read is enough to detect any later invalidation.
		var before [generationShards]uint64
		for i := range s.invalidations {
			before[i] = s.invalidations[i].Load()
		}
		products, err := s.store.ApprovedProducts(ctx, sellerID)
		if err != nil {
			return 0, err
		}
		if len(products) == 0 {
			return 0, nil
		}
		gens := make(map[string]uint64, len(products))
		decisions := make(map[string]bool, len(products))
		for _, pid := range products {
			gens[pid] = before[shardOf(sellerID, pid)]
			decisions[pid] = true
		}
		return s.fill(ctx, sellerID, gens, decisions)
	})
	if err != nil {
		return 0, err
	}
	n := v.(int)
	s.metrics.CacheWarmed(n)
	return n, nil
}

func (s *Service) cacheFailed(op string, err error) {
	s.metrics.CacheError(op)
	s.logger.Warn("gate cache error", zap.String("op", op), zap.Error(err))
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
