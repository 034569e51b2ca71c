package session

import (
	"fmt"

	"github.com/duelbackend/arena/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// verifyToken parses and validates an access token, returning the player
// address carried in its subject claim. Issuance is out of scope (spec §1
// Non-goals); this only verifies tokens minted elsewhere.
func verifyToken(secret []byte, tokenString string) (string, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return "", domain.ErrTokenInvalid
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", domain.ErrTokenInvalid
	}
	return sub, nil
}
