package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/duelbackend/arena/internal/config"
	"github.com/duelbackend/arena/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// CtxAddress is the gin.Context key the authenticated player's address is
// stored under by AuthMiddleware.
const CtxAddress = "address"

// ──────────────────────────────────────────────────────────────────────────────
// AuthMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// AuthMiddleware validates the Bearer token in the Authorization header and
// stores the player address carried in its subject claim in the gin context.
// Issuance is out of scope (§1 Non-goals); this mirrors the verification
// internal/session applies to the WS handshake.
func AuthMiddleware(cfg *config.JWTConfig) gin.HandlerFunc {
	secret := []byte(cfg.AccessSecret)
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": domain.ErrUnauthorized.Error()})
			return
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")
		address, err := verifyToken(secret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": domain.ErrTokenInvalid.Error()})
			return
		}

		c.Set(CtxAddress, address)
		c.Next()
	}
}

// verifyToken parses an HS256 access token and returns the address carried
// in its subject claim. Duplicated from internal/session/auth.go (unexported
// there) rather than imported, to avoid internal/api depending on
// internal/session for a three-line parse.
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

// ──────────────────────────────────────────────────────────────────────────────
// AdminMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// AdminMiddleware restricts a route to addresses in cfg.Authorities. Must be
// placed after AuthMiddleware in the chain.
func AdminMiddleware(cfg *config.AdminConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		address := GetAddress(c)
		if address == "" || !cfg.IsAuthority(address) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": domain.ErrUnauthorized.Error()})
			return
		}
		c.Next()
	}
}

// GetAddress retrieves the authenticated player's address from the gin
// context. Returns "" if AuthMiddleware was not applied.
func GetAddress(c *gin.Context) string {
	v, _ := c.Get(CtxAddress)
	addr, _ := v.(string)
	return addr
}
