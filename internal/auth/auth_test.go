package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sellergate.io/internal/authz"
)

func TestGenerateAndParse(t *testing.T) {
	tokens, err := NewTokens("test-secret", WithIssuer("test-issuer"))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	token, expiresAt, err := tokens.Generate("supplier-7", authz.RoleSupplier, 30*time.Minute)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expected future expiration, got %v", expiresAt)
	}

	claims, err := tokens.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	actor := claims.Actor()
	if actor.ID != "supplier-7" || actor.Role != authz.RoleSupplier {
		t.Fatalf("unexpected actor %+v", actor)
	}
	if claims.Issuer != "test-issuer" {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
}

func TestParseRejects(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tokens, err := NewTokens("test-secret", WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	expired, _, err := tokens.Generate("seller-1", authz.RoleSeller, time.Minute)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	other, _ := NewTokens("other-secret", WithClock(func() time.Time { return now }))
	forged, _, _ := other.Generate("seller-1", authz.RoleAdmin, time.Hour)

	foreignIssuer, _ := NewTokens("test-secret", WithIssuer("elsewhere"), WithClock(func() time.Time { return now }))
	foreign, _, _ := foreignIssuer.Generate("seller-1", authz.RoleSeller, time.Hour)

	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: "root",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			Subject:   "seller-1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	now = now.Add(10 * time.Minute)
	for name, tok := range map[string]string{
		"empty":   "  ",
		"garbage": "not-a-token",
		"expired": expired,
		"forged":  forged,
		"issuer":  foreign,
		"role":    badRole,
	} {
		if _, err := tokens.Parse(tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestGenerateValidation(t *testing.T) {
	if _, err := NewTokens(" "); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
	tokens, _ := NewTokens("s")
	if _, _, err := tokens.Generate("", authz.RoleSeller, time.Minute); err == nil {
		t.Fatalf("expected subject error")
	}
	if _, _, err := tokens.Generate("x", authz.Role("owner"), time.Minute); err == nil {
		t.Fatalf("expected role error")
	}
	if _, _, err := tokens.Generate("x", authz.RoleSeller, 0); err == nil {
		t.Fatalf("expected ttl error")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := ActorFromContext(ctx); ok {
		t.Fatalf("expected no actor")
	}
	ctx = ContextWithActor(ctx, authz.Actor{ID: "admin-1", Role: authz.RoleAdmin})
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.ID != "admin-1" {
		t.Fatalf("unexpected actor %+v", actor)
	}
	if !HasRole(ctx, authz.RoleSupplier, authz.RoleAdmin) {
		t.Fatalf("expected admin role")
	}
	if HasRole(ctx, authz.RoleSeller) {
		t.Fatalf("unexpected seller role")
	}
}
