package auth

import (
	"context"
	"testing"
)

func TestClaimsFromContextRoundTrip(t *testing.T) {
	claims := &CheckClaims{WaitID: 7, Operator: "alice", Decision: true}
	ctx := WithClaims(context.Background(), claims)

	got := ClaimsFromContext(ctx)
	if got == nil {
		t.Fatal("expected claims, got nil")
	}
	if got.WaitID != 7 || got.Operator != "alice" || !got.Decision {
		t.Fatalf("unexpected claims: %+v", got)
	}
}

func TestClaimsFromContextMissing(t *testing.T) {
	if got := ClaimsFromContext(context.Background()); got != nil {
		t.Fatalf("expected nil claims, got %+v", got)
	}
}
