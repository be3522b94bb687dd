package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, secret []byte, uid int64, isAdmin bool, expiresIn time.Duration) string {
	t.Helper()
	claims := &Claims{
		UID:     uid,
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

func TestVerifyToken(t *testing.T) {
	token := signToken(t, testSecret, 7, true, time.Hour)

	caller, err := VerifyToken(testSecret, token)
	require.NoError(t, err)
	require.Equal(t, int64(7), caller.UID)
	require.True(t, caller.IsAdmin)
}

func TestVerifyTokenRejectsBadInput(t *testing.T) {
	_, err := VerifyToken(testSecret, "not-a-token")
	require.Error(t, err)

	_, err = VerifyToken(testSecret, signToken(t, []byte("other-secret"), 7, false, time.Hour))
	require.Error(t, err)

	_, err = VerifyToken(testSecret, signToken(t, testSecret, 7, false, -time.Hour))
	require.Error(t, err)

	// A token with no uid claim carries no identity.
	_, err = VerifyToken(testSecret, signToken(t, testSecret, 0, false, time.Hour))
	require.Error(t, err)
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(AuthMiddleware(testSecret))
	router.GET("/whoami", func(c *gin.Context) {
		caller := CallerFromContext(c)
		c.JSON(http.StatusOK, gin.H{"uid": caller.UID, "is_admin": caller.IsAdmin})
	})

	perform := func(authorization string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, req)
		return recorder
	}

	require.Equal(t, http.StatusUnauthorized, perform("").Code)
	require.Equal(t, http.StatusUnauthorized, perform("Token abc").Code)
	require.Equal(t, http.StatusUnauthorized, perform("Bearer garbage").Code)

	recorder := perform("Bearer " + signToken(t, testSecret, 7, false, time.Hour))
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), `"uid":7`)
}
