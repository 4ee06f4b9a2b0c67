package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bezhas/chat-gatekeeper/internal/models"
	"github.com/bezhas/chat-gatekeeper/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memUsers struct {
	byEmail map[string]*models.User
}

func (m *memUsers) Create(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	m.byEmail[user.Email] = user
	return nil
}

func (m *memUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return m.byEmail[email], nil
}

func (m *memUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	for _, u := range m.byEmail {
		if u.ID.String() == id {
			return u, nil
		}
	}
	return nil, nil
}

func newAuthTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)

	auth := service.NewAuthService(&memUsers{byEmail: make(map[string]*models.User)}, "test-secret", time.Hour)
	h := NewAuthHandler(auth)

	router := gin.New()
	router.POST("/auth/register", h.Register)
	router.POST("/auth/login", h.Login)
	router.GET("/auth/me", func(c *gin.Context) {
		c.Set("user_id", c.Query("user_id"))
		h.Me(c)
	})

	return router
}

func postJSON(router *gin.Engine, path string, body map[string]interface{}) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRegisterAndLogin(t *testing.T) {
	router := newAuthTestRouter()

	w := postJSON(router, "/auth/register", map[string]interface{}{
		"email":    "alice@example.com",
		"password": "password123",
		"name":     "Alice",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = postJSON(router, "/auth/login", map[string]interface{}{
		"email":    "alice@example.com",
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["token"])
}

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	router := newAuthTestRouter()

	body := map[string]interface{}{
		"email":    "alice@example.com",
		"password": "password123",
		"name":     "Alice",
	}
	require.Equal(t, http.StatusCreated, postJSON(router, "/auth/register", body).Code)
	assert.Equal(t, http.StatusConflict, postJSON(router, "/auth/register", body).Code)
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	router := newAuthTestRouter()

	w := postJSON(router, "/auth/register", map[string]interface{}{
		"email":    "alice@example.com",
		"password": "short",
		"name":     "Alice",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoginBadCredentials(t *testing.T) {
	router := newAuthTestRouter()

	w := postJSON(router, "/auth/login", map[string]interface{}{
		"email":    "nobody@example.com",
		"password": "password123",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMeUnknownUser(t *testing.T) {
	router := newAuthTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/auth/me?user_id="+uuid.NewString(), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
