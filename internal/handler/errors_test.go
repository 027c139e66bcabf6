package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"stockledger/internal/model"
	"stockledger/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

// driverErr stands in for the raw text a failing database driver would return.
var driverErr = errors.New(`pq: relation "users" does not exist`)

func perform(h gin.HandlerFunc, method, target string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, target, nil)
	h(c)
	return w
}

func TestRespondErrorMapsDomainTaxonomy(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", fmt.Errorf("%w: quantity must be positive", model.ErrValidation), http.StatusBadRequest},
		{"not found", fmt.Errorf("%w: product x", model.ErrNotFound), http.StatusNotFound},
		{"insufficient stock", fmt.Errorf("%w: requested 5", model.ErrInsufficientStock), http.StatusConflict},
		{"state transition", fmt.Errorf("%w: completed", model.ErrInvalidStateTransition), http.StatusConflict},
		{"concurrency", model.ErrConcurrencyConflict, http.StatusConflict},
		{"storage fault", driverErr, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := perform(func(c *gin.Context) { respondError(c, tc.err) }, http.MethodGet, "/")
			assert.Equal(t, tc.want, w.Code)
			if tc.want == http.StatusInternalServerError {
				assert.NotContains(t, w.Body.String(), "pq:")
				assert.Contains(t, w.Body.String(), "Internal server error")
			}
		})
	}
}

type stubUserService struct {
	service.UserService
	listErr error
	getErr  error
}

func (s *stubUserService) ListUsers(ctx context.Context, page, limit int) ([]service.UserResponse, int64, error) {
	return nil, 0, s.listErr
}

func (s *stubUserService) GetUserByID(ctx context.Context, id string) (*service.UserResponse, error) {
	return nil, s.getErr
}

type stubRoleService struct {
	service.RoleService
	listErr error
}

func (s *stubRoleService) ListRoles(ctx context.Context) ([]service.RoleResponse, error) {
	return nil, s.listErr
}

type stubAuditService struct {
	service.AuditService
	err error
}

func (s *stubAuditService) GetAuditLogs(ctx context.Context, page, limit int) ([]service.AuditLogResponse, int64, error) {
	return nil, 0, s.err
}

func TestUserListHidesStorageFaults(t *testing.T) {
	h := NewUserHandler(&stubUserService{listErr: fmt.Errorf("list users: %w", driverErr)})

	w := perform(h.ListUsers, http.MethodGet, "/users")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, strings.Contains(w.Body.String(), "pq:"), "driver text must not reach the client")
	assert.Contains(t, w.Body.String(), "Internal server error")
}

func TestUserLookupKeepsNotFoundStatus(t *testing.T) {
	h := NewUserHandler(&stubUserService{getErr: fmt.Errorf("%w: user abc", model.ErrNotFound)})

	w := perform(h.GetUserByID, http.MethodGet, "/users/abc")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoleListHidesStorageFaults(t *testing.T) {
	h := NewRoleHandler(&stubRoleService{listErr: fmt.Errorf("failed to fetch roles: %w", driverErr)})

	w := perform(h.ListRoles, http.MethodGet, "/api/roles")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, strings.Contains(w.Body.String(), "pq:"), "driver text must not reach the client")
}

func TestAuditLogsHideStorageFaults(t *testing.T) {
	h := NewAuditHandler(&stubAuditService{err: fmt.Errorf("count audit logs: %w", driverErr)})

	w := perform(h.GetAuditLogs, http.MethodGet, "/api/audit-logs")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, strings.Contains(w.Body.String(), "pq:"), "driver text must not reach the client")
}
