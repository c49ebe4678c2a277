package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	id "fundgate/pkg/domain"
)

// NewToken mints a signed HS256 token for the given identity. Token issuance
// belongs to the console's auth service; this helper exists for tests and
// local tooling.
func NewToken(signingKey string, userID id.UserID, role id.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: string(role),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(signingKey))
}
