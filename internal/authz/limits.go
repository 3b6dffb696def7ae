package authz

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Cooldown describes a rejected product the seller cannot re-request yet.
type Cooldown struct {
	AuthorizationID string    `json:"authorization_id"`
	ProductID       string    `json:"product_id"`
	SupplierID      string    `json:"supplier_id"`
	CooldownUntil   time.Time `json:"cooldown_until"`
	DaysRemaining   int       `json:"days_remaining"`
}

// Limits summarizes a seller's quota usage.
type Limits struct {
	SellerID       string     `json:"seller_id"`
	CurrentCount   int        `json:"current_count"`
	MaxLimit       int        `json:"max_limit"`
	RemainingSlots int        `json:"remaining_slots"`
	Cooldowns      []Cooldown `json:"cooldowns"`
}

// SellerLimits reports approved usage against the cap and the active cooldowns.
func (s *Service) SellerLimits(ctx context.Context, sellerID string) (Limits, error) {
	sellerID = strings.TrimSpace(sellerID)
	if sellerID == "" {
		return Limits{}, invalidInput("seller_id is required")
	}
	count, err := s.store.CountApproved(ctx, sellerID)
	if err != nil {
		return Limits{}, systemError(err)
	}
	rejected, err := s.store.ListRejected(ctx, sellerID)
	if err != nil {
		return Limits{}, systemError(err)
	}

	now := s.now().UTC()
	out := Limits{
		SellerID:       sellerID,
		CurrentCount:   count,
		MaxLimit:       s.productLimit,
		RemainingSlots: max(s.productLimit-count, 0),
		Cooldowns:      []Cooldown{},
	}
	for _, rec := range rejected {
		if !rec.InCooldown(now) {
			continue
		}
		out.Cooldowns = append(out.Cooldowns, Cooldown{
			AuthorizationID: rec.ID,
			ProductID:       rec.ProductID,
			SupplierID:      rec.SupplierID,
			CooldownUntil:   rec.CooldownUntil.UTC(),
			DaysRemaining:   DaysRemaining(*rec.CooldownUntil, now),
		})
	}
	sort.Slice(out.Cooldowns, func(i, j int) bool {
		return out.Cooldowns[i].CooldownUntil.Before(out.Cooldowns[j].CooldownUntil)
	})
	return out, nil
}
