// Package auth issues and verifies the tokens operators use to respond to
// check barriers, and hashes operator console passwords.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CheckClaims binds a check-barrier response to the specific wait id it
// answers, so a token issued for one check can't be replayed against a
// later one that happens to share an operator.
type CheckClaims struct {
	WaitID   int64  `json:"wait_id"`
	Operator string `json:"operator"`
	Decision bool   `json:"decision"`
	jwt.RegisteredClaims
}

// CheckTokenService issues and verifies signed check-response tokens.
type CheckTokenService struct {
	secret   []byte
	duration time.Duration
}

// NewCheckTokenService creates a token service with the given HMAC secret
// and token lifetime. duration should cover however long an operator may
// reasonably take to respond to a check barrier.
func NewCheckTokenService(secret []byte, duration time.Duration) *CheckTokenService {
	return &CheckTokenService{
		secret:   secret,
		duration: duration,
	}
}

// IssueCheckResponse signs a token asserting that operator answered
// waitID with decision. The caller still applies the decision to the
// Automator; the token exists so the response can travel through an
// untrusted transport (e.g. a paged-out operator console) and be
// verified before it's applied.
func (ts *CheckTokenService) IssueCheckResponse(waitID int64, operator string, decision bool) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ts.duration)

	claims := CheckClaims{
		WaitID:   waitID,
		Operator: operator,
		Decision: decision,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign check token: %w", err)
	}

	return signed, expiresAt, nil
}

// VerifyCheckResponse parses and validates a check-response token,
// returning an error if it's malformed, expired, or doesn't answer
// wantWaitID.
func (ts *CheckTokenService) VerifyCheckResponse(tokenString string, wantWaitID int64) (*CheckClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CheckClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse check token: %w", err)
	}

	claims, ok := token.Claims.(*CheckClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid check token claims")
	}
	if claims.WaitID != wantWaitID {
		return nil, fmt.Errorf("check token answers wait id %d, expected %d", claims.WaitID, wantWaitID)
	}

	return claims, nil
}
