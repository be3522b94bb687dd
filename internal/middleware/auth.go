package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"chat-directory/internal/models"
)

// Claims are the token claims issued by the auth service.
type Claims struct {
	UID     int64 `json:"uid"`
	IsAdmin bool  `json:"is_admin"`
	jwt.RegisteredClaims
}

// VerifyToken parses and validates a bearer token, returning the caller
// identity. Token issuance lives in the auth service; only verification
// happens here.
func VerifyToken(secret []byte, token string) (models.Caller, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return models.Caller{}, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UID == 0 {
		return models.Caller{}, errors.New("invalid token")
	}
	return models.Caller{UID: claims.UID, IsAdmin: claims.IsAdmin}, nil
}

// AuthMiddleware validates the Authorization header and stores the caller
// identity in the gin context.
func AuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		caller, err := VerifyToken(secret, parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("userID", caller.UID)
		c.Set("isAdmin", caller.IsAdmin)
		c.Next()
	}
}

// CallerFromContext rebuilds the caller identity stored by AuthMiddleware.
func CallerFromContext(c *gin.Context) models.Caller {
	return models.Caller{
		UID:     c.GetInt64("userID"),
		IsAdmin: c.GetBool("isAdmin"),
	}
}
