package service

import (
	"context"
	"testing"
	"time"

	"github.com/bezhas/chat-gatekeeper/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// In-memory UserStore keyed by email
type fakeUsers struct {
	byEmail map[string]*models.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byEmail: make(map[string]*models.User)}
}

func (f *fakeUsers) Create(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	f.byEmail[user.Email] = user
	return nil
}

func (f *fakeUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return f.byEmail[email], nil
}

func (f *fakeUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	for _, u := range f.byEmail {
		if u.ID.String() == id {
			return u, nil
		}
	}
	return nil, nil
}

func newTestAuth() (*AuthService, *fakeUsers) {
	users := newFakeUsers()
	return NewAuthService(users, "test-secret", time.Hour), users
}

func TestRegisterLoginValidateRoundtrip(t *testing.T) {
	auth, _ := newTestAuth()
	ctx := context.Background()

	user, err := auth.Register(ctx, "alice@example.com", "password123", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "user", user.Role)
	assert.NotEqual(t, uuid.Nil, user.ID)
	assert.NotEqual(t, "password123", user.PasswordHash)

	token, err := auth.Login(ctx, "alice@example.com", "password123")
	require.NoError(t, err)

	id, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), id.UserID)
	assert.Equal(t, "alice@example.com", id.Email)
	assert.Equal(t, "user", id.Role)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	auth, _ := newTestAuth()
	ctx := context.Background()

	_, err := auth.Register(ctx, "alice@example.com", "password123", "Alice")
	require.NoError(t, err)

	_, err = auth.Register(ctx, "alice@example.com", "otherpassword", "Alice Again")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestLoginWrongPassword(t *testing.T) {
	auth, _ := newTestAuth()
	ctx := context.Background()

	_, err := auth.Register(ctx, "alice@example.com", "password123", "Alice")
	require.NoError(t, err)

	_, err = auth.Login(ctx, "alice@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = auth.Login(ctx, "nobody@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateTokenExpired(t *testing.T) {
	auth, _ := newTestAuth()

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": uuid.NewString(),
		"exp": time.Now().Add(-time.Minute).Unix(),
		"iat": time.Now().Add(-2 * time.Hour).Unix(),
	})
	signed, err := expired.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = auth.ValidateToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	auth, _ := newTestAuth()

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": uuid.NewString(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := forged.SignedString([]byte("some-other-secret"))
	require.NoError(t, err)

	_, err = auth.ValidateToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = auth.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenMissingSubject(t *testing.T) {
	auth, _ := newTestAuth()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = auth.ValidateToken(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenDefaultsRole(t *testing.T) {
	auth, _ := newTestAuth()

	// Tokens minted before roles existed carry no role claim
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": uuid.NewString(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	id, err := auth.ValidateToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "user", id.Role)
}

func TestAdminRoleSurvivesRoundtrip(t *testing.T) {
	auth, users := newTestAuth()
	ctx := context.Background()

	user, err := auth.Register(ctx, "root@example.com", "password123", "Root")
	require.NoError(t, err)
	users.byEmail["root@example.com"].Role = "admin"

	token, err := auth.Login(ctx, "root@example.com", "password123")
	require.NoError(t, err)

	id, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", id.Role)
	assert.Equal(t, user.ID.String(), id.UserID)
}

func TestGetUserByID(t *testing.T) {
	auth, _ := newTestAuth()
	ctx := context.Background()

	user, err := auth.Register(ctx, "alice@example.com", "password123", "Alice")
	require.NoError(t, err)

	found, err := auth.GetUserByID(ctx, user.ID.String())
	require.NoError(t, err)
	assert.Equal(t, user.Email, found.Email)

	_, err = auth.GetUserByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrUserNotFound)
}
