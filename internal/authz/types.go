package authz

import (
	"strings"
	"time"
)

// Status is the lifecycle state of an authorization record.
type Status string

const (
	StatusRequested Status = "requested"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusRevoked   Status = "revoked"
	StatusCancelled Status = "cancelled"

	// StatusNone is reported for pairs that have never been requested. It is never stored.
	StatusNone Status = "none"
)

// Valid reports whether s is a storable status.
func (s Status) Valid() bool {
	switch s {
	case StatusRequested, StatusApproved, StatusRejected, StatusRevoked, StatusCancelled:
		return true
	}
	return false
}

// Role identifies who performs a command.
type Role string

const (
	RoleSeller   Role = "seller"
	RoleSupplier Role = "supplier"
	RoleAdmin    Role = "admin"
)

// Actor is the authenticated caller of a command.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Metadata holds the seller's free-form justification and fields derived by the
// service. PreviousRejectionCount is written by the service only.
type Metadata struct {
	Justification          string         `json:"justification,omitempty"`
	Fields                 map[string]any `json:"fields,omitempty"`
	PreviousRejectionCount int            `json:"previous_rejection_count"`
}

func (m Metadata) clone() Metadata {
	out := m
	if len(m.Fields) > 0 {
		out.Fields = make(map[string]any, len(m.Fields))
		for k, v := range m.Fields {
			out.Fields[k] = v
		}
	} else {
		out.Fields = nil
	}
	return out
}

// Record is the single live permission entity for a (seller, product) pair.
// SupplierID is descriptive metadata; it is not part of the key.
type Record struct {
	ID         string `json:"id"`
	SellerID   string `json:"seller_id"`
	ProductID  string `json:"product_id"`
	SupplierID string `json:"supplier_id"`
	Status     Status `json:"status"`

	RequestedAt time.Time `json:"requested_at"`

	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	ApprovedBy string     `json:"approved_by,omitempty"`

	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectedBy      string     `json:"rejected_by,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	CooldownUntil   *time.Time `json:"cooldown_until,omitempty"`
	RejectionCount  int        `json:"rejection_count"`

	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	RevokedBy        string     `json:"revoked_by,omitempty"`
	RevocationReason string     `json:"revocation_reason,omitempty"`

	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	Metadata  Metadata  `json:"metadata"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (r Record) Clone() Record {
	out := r
	out.ApprovedAt = cloneTime(r.ApprovedAt)
	out.RejectedAt = cloneTime(r.RejectedAt)
	out.CooldownUntil = cloneTime(r.CooldownUntil)
	out.RevokedAt = cloneTime(r.RevokedAt)
	out.CancelledAt = cloneTime(r.CancelledAt)
	out.Metadata = r.Metadata.clone()
	return out
}

// InCooldown reports whether the record is rejected with a cooldown still running at now.
func (r Record) InCooldown(now time.Time) bool {
	return r.Status == StatusRejected && r.CooldownUntil != nil && now.Before(*r.CooldownUntil)
}

// Target selects the record a command applies to: by id for supplier/admin
// commands, by pair for requests.
type Target struct {
	ID        string
	SellerID  string
	ProductID string
}

// ByID targets an existing record.
func ByID(id string) Target { return Target{ID: strings.TrimSpace(id)} }

// ByPair targets the record of a (seller, product) pair, which may not exist yet.
func ByPair(sellerID, productID string) Target {
	return Target{SellerID: strings.TrimSpace(sellerID), ProductID: strings.TrimSpace(productID)}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtr(t time.Time) *time.Time { return &t }
