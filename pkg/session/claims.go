package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/openedc/ledgercore/pkg/authz"
	"github.com/openedc/ledgercore/pkg/fault"
)

// DefaultLeeway tolerates modest clock skew between the identity provider
// and this service during token validation.
const DefaultLeeway = 30 * time.Second

// Claims is the token shape the external identity provider supplies per
// request: caller identity, selected active role, and granted-role set.
// Roles named in the token are a hint only — the store re-resolves the
// granted set from the assignment table on every transaction.
type Claims struct {
	jwt.RegisteredClaims
	SessionID  string   `json:"sid"`
	ActiveRole string   `json:"active_role"`
	Roles      []string `json:"roles"`
}

// Verifier validates identity-provider tokens.
type Verifier struct {
	secret []byte
	leeway time.Duration
}

// NewVerifier creates a Verifier for HMAC-signed tokens.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), leeway: DefaultLeeway}
}

// Verify parses and validates a token string and returns its claims.
func (v *Verifier) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return v.secret, nil
		},
		jwt.WithLeeway(v.leeway),
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
	)
	if err != nil {
		return nil, fault.Wrap(fault.Authorization, "token validation failed", err)
	}
	if !token.Valid {
		return nil, fault.Authorizationf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fault.Authorizationf("token carries no subject")
	}
	return claims, nil
}

// Role returns the parsed active role declared in the claims.
func (c *Claims) Role() (authz.Role, error) {
	return authz.ParseRole(c.ActiveRole)
}
