package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/cohort-portal-api/internal/middleware"
	"github.com/noah-isme/cohort-portal-api/internal/models"
	"github.com/noah-isme/cohort-portal-api/internal/service"
	"github.com/noah-isme/cohort-portal-api/pkg/mailer"
)

type memoryUserRepo struct {
	users map[string]*models.User
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: make(map[string]*models.User)}
}

func (m *memoryUserRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	user, ok := m.users[models.NormalizeEmail(email)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (m *memoryUserRepo) FindByID(_ context.Context, id string) (*models.User, error) {
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryUserRepo) Create(_ context.Context, user *models.User) error {
	user.ID = "user-" + user.Email
	m.users[user.Email] = user
	return nil
}

func (m *memoryUserRepo) SetOTP(_ context.Context, id, code string, expires time.Time, passwordHash string) error {
	for _, u := range m.users {
		if u.ID == id {
			u.OTPCode = &code
			u.OTPExpires = &expires
			u.PasswordHash = passwordHash
		}
	}
	return nil
}

func (m *memoryUserRepo) MarkVerified(_ context.Context, id string) error {
	for _, u := range m.users {
		if u.ID == id {
			u.Verified = true
			u.OTPCode = nil
			u.OTPExpires = nil
		}
	}
	return nil
}

func (m *memoryUserRepo) UpdateProfile(_ context.Context, _ *models.User) error {
	return nil
}

type nopSender struct{}

func (nopSender) Send(context.Context, mailer.Message) error { return nil }

func newTestAuthStack() (*service.AuthService, *memoryUserRepo) {
	repo := newMemoryUserRepo()
	svc := service.NewAuthService(repo, nopSender{}, nil, nil, nil, zap.NewNop(), service.AuthConfig{
		TokenSecret:        "test-secret",
		TokenExpiry:        time.Hour,
		AllowedEmailDomain: "@cloud.neduet.edu.pk",
	})
	return svc, repo
}

func postJSON(t *testing.T, router *gin.Engine, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)
	return rec
}

func newAuthRouter(svc *service.AuthService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewAuthHandler(svc)
	r := gin.New()
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/request-otp", h.RequestOTP)
	r.POST("/auth/verify-otp", h.VerifyOTP)
	r.GET("/auth/me", middleware.JWT(svc), h.Me)
	return r
}

func TestAuthHandlerRegisterAndLogin(t *testing.T) {
	svc, _ := newTestAuthStack()
	router := newAuthRouter(svc)

	rec := postJSON(t, router, "/auth/register", gin.H{
		"name":     "Sara Ahmed",
		"email":    "sara@cloud.neduet.edu.pk",
		"password": "secret123",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = postJSON(t, router, "/auth/login", gin.H{
		"email":    "sara@cloud.neduet.edu.pk",
		"password": "secret123",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data models.AuthResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.NotEmpty(t, envelope.Data.Token)
	assert.Equal(t, models.RoleStudent, envelope.Data.Role)
}

func TestAuthHandlerRegisterRejectsForeignDomain(t *testing.T) {
	svc, _ := newTestAuthStack()
	router := newAuthRouter(svc)

	rec := postJSON(t, router, "/auth/register", gin.H{
		"email":    "outsider@gmail.com",
		"password": "secret123",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "VALIDATION_ERROR", envelope.Error.Code)
}

func TestAuthHandlerOTPFlow(t *testing.T) {
	svc, repo := newTestAuthStack()
	router := newAuthRouter(svc)

	rec := postJSON(t, router, "/auth/request-otp", gin.H{
		"name":     "New Student",
		"email":    "new@cloud.neduet.edu.pk",
		"password": "secret123",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	user := repo.users["new@cloud.neduet.edu.pk"]
	require.NotNil(t, user)
	require.NotNil(t, user.OTPCode)

	rec = postJSON(t, router, "/auth/verify-otp", gin.H{
		"email": "new@cloud.neduet.edu.pk",
		"otp":   *user.OTPCode,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, user.Verified)
}

func TestAuthHandlerMeRequiresToken(t *testing.T) {
	svc, _ := newTestAuthStack()
	router := newAuthRouter(svc)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthHandlerMeReturnsProfile(t *testing.T) {
	svc, _ := newTestAuthStack()
	router := newAuthRouter(svc)

	rec := postJSON(t, router, "/auth/register", gin.H{
		"email":    "sara@cloud.neduet.edu.pk",
		"password": "secret123",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var envelope struct {
		Data models.AuthResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+envelope.Data.Token)
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sara@cloud.neduet.edu.pk")
}
