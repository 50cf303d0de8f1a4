package auth

import "context"

type ctxKey struct{}

// WithClaims returns a new context carrying c, so a verified check-token's
// operator/decision can travel alongside a request without threading it
// through every function signature (e.g. into the log call that records
// who answered a barrier).
func WithClaims(ctx context.Context, c *CheckClaims) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// ClaimsFromContext extracts claims attached by WithClaims.
// Returns nil if no claims are present.
func ClaimsFromContext(ctx context.Context) *CheckClaims {
	c, _ := ctx.Value(ctxKey{}).(*CheckClaims)
	return c
}
