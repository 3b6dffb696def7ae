// Package cache stores gate decisions per (seller, product) pair. Entries are
// booleans with a TTL; callers treat any cache error as a miss.
package cache

import (
	"context"
	"time"
)

// KeyPrefix namespaces gate entries in shared key-value stores.
const KeyPrefix = "gate:auth:"

// Cache is the gate decision cache.
type Cache interface {
	// Get returns the cached decision and whether an unexpired entry exists.
	Get(ctx context.Context, sellerID, productID string) (approved bool, found bool, err error)
	// GetMany returns decisions for the products that have entries; misses are absent.
	GetMany(ctx context.Context, sellerID string, productIDs []string) (map[string]bool, error)
	Set(ctx context.Context, sellerID, productID string, approved bool, ttl time.Duration) error
	SetMany(ctx context.Context, sellerID string, decisions map[string]bool, ttl time.Duration) error
	Delete(ctx context.Context, sellerID, productID string) error
}

// Key returns the storage key for a pair.
func Key(sellerID, productID string) string {
	return KeyPrefix + sellerID + ":" + productID
}
