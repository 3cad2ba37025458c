package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestUserIDFromToken(t *testing.T) {
	token := signToken(t, testSecret, "42")

	userID, err := UserIDFromToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, 42, userID)
}

func TestUserIDFromTokenWrongSecret(t *testing.T) {
	token := signToken(t, "other-secret", "42")

	_, err := UserIDFromToken(testSecret, token)
	assert.Error(t, err)
}

func TestUserIDFromTokenBadSubject(t *testing.T) {
	for _, subject := range []string{"", "abc", "0", "-3"} {
		token := signToken(t, testSecret, subject)

		_, err := UserIDFromToken(testSecret, token)
		assert.Error(t, err, "subject %q", subject)
	}
}

func TestAuthMiddlewareSetsUserID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(testSecret))
	r.GET("/check", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetInt("userID")})
	})

	req := httptest.NewRequest(http.MethodGet, "/check", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "7"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user_id":7}`, rec.Body.String())
}

func TestAuthMiddlewareRejectsMissingHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(testSecret))
	r.GET("/check", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/check", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareRejectsMalformedHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(testSecret))
	r.GET("/check", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/check", nil)
	req.Header.Set("Authorization", "Token abc")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
