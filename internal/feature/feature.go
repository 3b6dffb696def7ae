// Package feature exposes the runtime switch that turns the seller authorization
// gate on and off. Sources are read on every call and never cached so an operator
// toggle takes effect immediately.
package feature

import (
	"context"
	"sync/atomic"
)

// Source reports whether the gate is enabled.
type Source interface {
	Enabled(ctx context.Context) (bool, error)
}

// Setter is implemented by sources that operators can flip at runtime.
type Setter interface {
	SetEnabled(ctx context.Context, enabled bool) error
}

// Toggle is an in-process flag. It is suitable for single-instance deployments and
// tests; multi-instance deployments use the database-backed source.
type Toggle struct {
	enabled atomic.Bool
}

var (
	_ Source = (*Toggle)(nil)
	_ Setter = (*Toggle)(nil)
)

// NewToggle returns a toggle with the given initial state.
func NewToggle(enabled bool) *Toggle {
	t := &Toggle{}
	t.enabled.Store(enabled)
	return t
}

func (t *Toggle) Enabled(context.Context) (bool, error) {
	return t.enabled.Load(), nil
}

func (t *Toggle) SetEnabled(_ context.Context, enabled bool) error {
	t.enabled.Store(enabled)
	return nil
}

// Static is a fixed flag value.
type Static bool

func (s Static) Enabled(context.Context) (bool, error) { return bool(s), nil }
