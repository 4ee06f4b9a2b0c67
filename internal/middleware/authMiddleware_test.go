package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bezhas/chat-gatekeeper/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubValidator struct {
	identity *service.Identity
	err      error
}

func (s *stubValidator) ValidateToken(token string) (*service.Identity, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.identity, nil
}

func newAuthRouter(v *stubValidator, extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	handlers := append([]gin.HandlerFunc{RequireAuth(v)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id": c.GetString("user_id"),
			"role":    c.GetString("role"),
		})
	})
	router.GET("/protected", handlers...)

	return router
}

func getProtected(router *gin.Engine, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRequireAuthMissingHeader(t *testing.T) {
	router := newAuthRouter(&stubValidator{})

	assert.Equal(t, http.StatusUnauthorized, getProtected(router, "").Code)
}

func TestRequireAuthMalformedHeader(t *testing.T) {
	router := newAuthRouter(&stubValidator{})

	for _, header := range []string{"token-without-scheme", "Basic abc123", "Bearer "} {
		assert.Equal(t, http.StatusUnauthorized, getProtected(router, header).Code, "header %q", header)
	}
}

func TestRequireAuthInvalidToken(t *testing.T) {
	router := newAuthRouter(&stubValidator{err: service.ErrInvalidToken})

	assert.Equal(t, http.StatusUnauthorized, getProtected(router, "Bearer bad-token").Code)
}

func TestRequireAuthSetsIdentity(t *testing.T) {
	router := newAuthRouter(&stubValidator{
		identity: &service.Identity{UserID: "u-1", Email: "alice@example.com", Role: "user"},
	})

	w := getProtected(router, "Bearer good-token")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":"u-1"`)
	assert.Contains(t, w.Body.String(), `"role":"user"`)
}

func TestRequireAdminBlocksRegularUser(t *testing.T) {
	router := newAuthRouter(&stubValidator{
		identity: &service.Identity{UserID: "u-1", Role: "user"},
	}, RequireAdmin())

	assert.Equal(t, http.StatusForbidden, getProtected(router, "Bearer good-token").Code)
}

func TestRequireAdminAllowsAdmin(t *testing.T) {
	router := newAuthRouter(&stubValidator{
		identity: &service.Identity{UserID: "u-1", Role: "admin"},
	}, RequireAdmin())

	assert.Equal(t, http.StatusOK, getProtected(router, "Bearer good-token").Code)
}
