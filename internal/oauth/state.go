package oauth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// stateTTL bounds how long an issued authorization URL stays usable.
const stateTTL = 10 * time.Minute

// The state parameter is a short-lived HS256 token instead of a server-side
// nonce table: verification stays stateless across restarts and across the
// multiple processes that may share the token file.
func (c *Coordinator) newState() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(c.cfg.StateSecret))
}

func (c *Coordinator) verifyState(state string) error {
	if state == "" {
		return ErrInvalidState
	}
	tok, err := jwt.ParseWithClaims(state, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(c.cfg.StateSecret), nil
	})
	if err != nil || !tok.Valid {
		return ErrInvalidState
	}
	return nil
}
