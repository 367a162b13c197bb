package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/cohort-portal-api/internal/models"
	appErrors "github.com/noah-isme/cohort-portal-api/pkg/errors"
)

type mockDirectoryRepo struct {
	users     []models.User
	listCalls int
}

func (m *mockDirectoryRepo) FindByID(_ context.Context, id string) (*models.User, error) {
	for i := range m.users {
		if m.users[i].ID == id {
			return &m.users[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockDirectoryRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	for i := range m.users {
		if m.users[i].Email == email {
			return &m.users[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockDirectoryRepo) List(_ context.Context, filter models.UserFilter) ([]models.User, int, error) {
	m.listCalls++
	if filter.Role == nil {
		return m.users, len(m.users), nil
	}
	var out []models.User
	for _, u := range m.users {
		if u.Role == *filter.Role {
			out = append(out, u)
		}
	}
	return out, len(out), nil
}

type stubCache struct {
	store map[string][]byte
}

func (s *stubCache) Get(_ context.Context, key string, dest interface{}) error {
	payload, ok := s.store[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(payload, dest)
}

func (s *stubCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if s.store == nil {
		s.store = make(map[string][]byte)
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.store[key] = payload
	return nil
}

func (s *stubCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(s.store, key)
	}
	return nil
}

func TestListStudentsCachesRoster(t *testing.T) {
	repo := &mockDirectoryRepo{users: []models.User{
		{ID: "stu-1", Email: "sara@cloud.neduet.edu.pk", Role: models.RoleStudent},
		{ID: "adm-1", Email: "admin@cloud.neduet.edu.pk", Role: models.RoleAdmin},
	}}
	cache := &stubCache{}
	svc := NewUserService(repo, cache, time.Minute, zap.NewNop())

	students, err := svc.ListStudents(context.Background())
	require.NoError(t, err)
	require.Len(t, students, 1)
	assert.Equal(t, "stu-1", students[0].ID)
	assert.Equal(t, 1, repo.listCalls)

	// Second call is served from cache.
	cached, err := svc.ListStudents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, students, cached)
	assert.Equal(t, 1, repo.listCalls)
}

func TestListStudentsCacheInvalidation(t *testing.T) {
	repo := &mockDirectoryRepo{users: []models.User{
		{ID: "stu-1", Email: "sara@cloud.neduet.edu.pk", Role: models.RoleStudent},
	}}
	cache := &stubCache{}
	svc := NewUserService(repo, cache, time.Minute, zap.NewNop())

	_, err := svc.ListStudents(context.Background())
	require.NoError(t, err)

	require.NoError(t, cache.Delete(context.Background(), cacheKeyStudents))

	_, err = svc.ListStudents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, repo.listCalls)
}

func TestGetUserNotFound(t *testing.T) {
	svc := NewUserService(&mockDirectoryRepo{}, &stubCache{}, time.Minute, zap.NewNop())

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
