package authz

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"sellergate.io/internal/audit"
	"sellergate.io/internal/ids"
)

const (
	// DefaultProductLimit caps approved products per seller.
	DefaultProductLimit = 10
	// DefaultCooldownDays is applied when a rejection does not name a cooldown.
	DefaultCooldownDays = 30
	// MinReasonLength is the shortest accepted rejection reason, in characters.
	MinReasonLength = 10

	day = 24 * time.Hour
)

// Event is a command applied to a record. The set of events is closed.
type Event interface {
	Action() audit.Action
	isEvent()
}

// RequestEvent asks for permission to sell a product. ID is used only when the
// pair has no record yet.
type RequestEvent struct {
	ID         string
	SellerID   string
	ProductID  string
	SupplierID string
	Metadata   Metadata
}

// ApproveEvent grants a pending request.
type ApproveEvent struct {
	Actor Actor
}

// RejectEvent declines a pending request and starts a cooldown.
type RejectEvent struct {
	Actor        Actor
	Reason       string
	CooldownDays int
}

// RevokeEvent permanently withdraws an approval.
type RevokeEvent struct {
	Actor  Actor
	Reason string
}

// CancelEvent withdraws a pending request on behalf of the seller who made it.
type CancelEvent struct {
	SellerID string
}

func (RequestEvent) Action() audit.Action { return audit.ActionRequest }
func (ApproveEvent) Action() audit.Action { return audit.ActionApprove }
func (RejectEvent) Action() audit.Action  { return audit.ActionReject }
func (RevokeEvent) Action() audit.Action  { return audit.ActionRevoke }
func (CancelEvent) Action() audit.Action  { return audit.ActionCancel }

func (RequestEvent) isEvent() {}
func (ApproveEvent) isEvent() {}
func (RejectEvent) isEvent()  {}
func (RevokeEvent) isEvent()  {}
func (CancelEvent) isEvent()  {}

// Env is the context a transition is evaluated in. ApprovedCount is the seller's
// approved total observed under the store's per-seller serialization.
type Env struct {
	Now           time.Time
	ApprovedCount int
	ProductLimit  int
}

func (e Env) limit() int {
	if e.ProductLimit <= 0 {
		return DefaultProductLimit
	}
	return e.ProductLimit
}

// Apply evaluates ev against current (nil when the pair has no record) and returns
// the next record state or a typed error. It performs no I/O.
func Apply(current *Record, ev Event, env Env) (Record, error) {
	now := env.Now.UTC()
	switch e := ev.(type) {
	case RequestEvent:
		return applyRequest(current, e, env, now)
	case ApproveEvent:
		next, err := guard(current, e.Actor, StatusRequested, "approve")
		if err != nil {
			return Record{}, err
		}
		if env.ApprovedCount >= env.limit() {
			return Record{}, ErrLimitReached
		}
		next.Status = StatusApproved
		next.ApprovedAt = timePtr(now)
		next.ApprovedBy = e.Actor.ID
		next.UpdatedAt = now
		return next, nil
	case RejectEvent:
		if !validReason(e.Reason, MinReasonLength) {
			return Record{}, ErrReasonRequired
		}
		next, err := guard(current, e.Actor, StatusRequested, "reject")
		if err != nil {
			return Record{}, err
		}
		days := e.CooldownDays
		if days <= 0 {
			days = DefaultCooldownDays
		}
		next.Status = StatusRejected
		next.RejectedAt = timePtr(now)
		next.RejectedBy = e.Actor.ID
		next.RejectionReason = strings.TrimSpace(e.Reason)
		next.CooldownUntil = timePtr(now.Add(time.Duration(days) * day))
		next.RejectionCount++
		next.UpdatedAt = now
		return next, nil
	case RevokeEvent:
		if !validReason(e.Reason, 1) {
			return Record{}, ErrReasonRequired
		}
		next, err := guard(current, e.Actor, StatusApproved, "revoke")
		if err != nil {
			return Record{}, err
		}
		next.Status = StatusRevoked
		next.RevokedAt = timePtr(now)
		next.RevokedBy = e.Actor.ID
		next.RevocationReason = strings.TrimSpace(e.Reason)
		next.UpdatedAt = now
		return next, nil
	case CancelEvent:
		if current == nil {
			return Record{}, ErrNotFound
		}
		if current.SellerID != e.SellerID {
			return Record{}, ErrForbidden
		}
		if current.Status != StatusRequested {
			return Record{}, invalidStatus(current.Status, "cancel")
		}
		next := current.Clone()
		next.Status = StatusCancelled
		next.CancelledAt = timePtr(now)
		next.UpdatedAt = now
		return next, nil
	default:
		return Record{}, fmt.Errorf("authz: unsupported event %T", ev)
	}
}

func applyRequest(current *Record, e RequestEvent, env Env, now time.Time) (Record, error) {
	var next Record
	if current == nil {
		next = Record{
			ID:        e.ID,
			SellerID:  e.SellerID,
			ProductID: e.ProductID,
		}
		if next.ID == "" {
			id, err := ids.NewAt(now)
			if err != nil {
				return Record{}, err
			}
			next.ID = id
		}
	} else {
		switch current.Status {
		case StatusRevoked:
			return Record{}, ErrPermanentlyRevoked
		case StatusApproved:
			return Record{}, ErrAlreadyApproved
		case StatusRequested:
			return Record{}, ErrAlreadyRequested
		case StatusRejected:
			if current.InCooldown(now) {
				return Record{}, cooldownError(DaysRemaining(*current.CooldownUntil, now))
			}
		}
		next = current.Clone()
	}
	if env.ApprovedCount >= env.limit() {
		return Record{}, ErrLimitReached
	}

	if e.SupplierID != "" {
		next.SupplierID = e.SupplierID
	}
	meta := e.Metadata.clone()
	meta.PreviousRejectionCount = next.RejectionCount
	next.Metadata = meta

	next.Status = StatusRequested
	next.RequestedAt = now
	next.RejectedAt = nil
	next.RejectedBy = ""
	next.RejectionReason = ""
	next.CooldownUntil = nil
	next.CancelledAt = nil
	next.UpdatedAt = now
	return next, nil
}

// guard checks existence, actor scope and the required source status.
func guard(current *Record, actor Actor, want Status, op string) (Record, error) {
	if current == nil {
		return Record{}, ErrNotFound
	}
	if !mayModerate(actor, *current) {
		return Record{}, ErrForbidden
	}
	if current.Status != want {
		return Record{}, invalidStatus(current.Status, op)
	}
	return current.Clone(), nil
}

// mayModerate reports whether actor can approve, reject or revoke rec. Suppliers
// are limited to their own products.
func mayModerate(actor Actor, rec Record) bool {
	switch actor.Role {
	case RoleAdmin:
		return true
	case RoleSupplier:
		return actor.ID != "" && actor.ID == rec.SupplierID
	default:
		return false
	}
}

// CanView reports whether actor may read rec and its audit trail: admins always,
// sellers their own records, suppliers the records they may moderate.
func CanView(actor Actor, rec Record) bool {
	if actor.Role == RoleSeller {
		return actor.ID != "" && actor.ID == rec.SellerID
	}
	return mayModerate(actor, rec)
}

func validReason(reason string, minLen int) bool {
	return utf8.RuneCountInString(strings.TrimSpace(reason)) >= minLen
}

// DaysRemaining rounds the time left until `until` up to whole days.
func DaysRemaining(until, now time.Time) int {
	left := until.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(float64(left) / float64(day)))
}

// EntryFor builds the audit entry for a completed transition. Every event maps to
// exactly one entry.
func EntryFor(ev Event, before *Record, after Record, now time.Time) (audit.Entry, error) {
	id, err := ids.NewAt(now)
	if err != nil {
		return audit.Entry{}, err
	}
	entry := audit.Entry{
		ID:              id,
		AuthorizationID: after.ID,
		Action:          ev.Action(),
		StatusTo:        string(after.Status),
		Timestamp:       now.UTC(),
	}
	if before != nil {
		entry.StatusFrom = string(before.Status)
	}

	switch e := ev.(type) {
	case RequestEvent:
		entry.ActorID = after.SellerID
		entry.ActorRole = string(RoleSeller)
		entry.Metadata = map[string]any{
			"supplier_id":              after.SupplierID,
			"product_id":               after.ProductID,
			"previous_rejection_count": after.Metadata.PreviousRejectionCount,
		}
		if after.Metadata.Justification != "" {
			entry.Metadata["justification"] = after.Metadata.Justification
		}
	case ApproveEvent:
		entry.ActorID = e.Actor.ID
		entry.ActorRole = string(e.Actor.Role)
	case RejectEvent:
		entry.ActorID = e.Actor.ID
		entry.ActorRole = string(e.Actor.Role)
		entry.Reason = after.RejectionReason
		if after.CooldownUntil != nil {
			entry.Metadata = map[string]any{
				"cooldown_until":  after.CooldownUntil.UTC().Format(time.RFC3339),
				"rejection_count": after.RejectionCount,
			}
		}
	case RevokeEvent:
		entry.ActorID = e.Actor.ID
		entry.ActorRole = string(e.Actor.Role)
		entry.Reason = after.RevocationReason
	case CancelEvent:
		entry.ActorID = e.SellerID
		entry.ActorRole = string(RoleSeller)
	default:
		return audit.Entry{}, fmt.Errorf("authz: no audit mapping for %T", ev)
	}
	return entry, nil
}
