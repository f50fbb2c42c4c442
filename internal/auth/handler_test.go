package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/mesaviva/mesaviva/internal/auth"
	"github.com/mesaviva/mesaviva/internal/authz"
	"github.com/mesaviva/mesaviva/internal/shared"
)

// newAuthRouter wires the handler behind the same session middleware shape
// the application uses.
func newAuthRouter(t *testing.T, repo auth.Repository, graph authz.GraphStore) (http.Handler, *shared.SessionManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(client, "test_session", time.Hour, false)

	var compiler *authz.Compiler
	if graph != nil {
		compiler = authz.NewCompiler(graph)
	}
	handler := auth.NewHandler(nil, auth.NewService(repo, compiler, nil), sessions, time.Hour)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sess, err := sessions.Load(req.Context(), req)
			require.NoError(t, err)
			ctx := shared.ContextWithSession(req.Context(), sess)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Route("/api/auth", handler.MountRoutes)
	return r, sessions
}

func TestLoginSuccessEmbedsClaims(t *testing.T) {
	user := activeUser(t, "correct-horse-battery")
	graph := &stubGraph{grants: map[uuid.UUID][]authz.Grant{
		user.ID: {{ModuleKey: "ORDER_MODULE", Operations: []string{"CREATE", "SELECT"}}},
	}}
	router, sessions := newAuthRouter(t, &stubRepo{user: user}, graph)

	body := strings.NewReader(`{"email":"staff@bistro.example","password":"correct-horse-battery"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", body)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)

	var payload struct {
		UserID      string                  `json:"userId"`
		TenantID    string                  `json:"tenantId"`
		Permissions []authz.SimplifiedGrant `json:"permissions"`
		Modules     []string                `json:"modules"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &payload))
	require.Equal(t, user.ID.String(), payload.UserID)
	require.Equal(t, []string{"ORDER_MODULE"}, payload.Modules)
	require.Equal(t, []authz.SimplifiedGrant{
		{Module: "ORDER_MODULE", Actions: []string{"CREATE", "SELECT"}},
	}, payload.Permissions)

	// The session cookie points at stored claims.
	cookies := res.Result().Cookies()
	require.NotEmpty(t, cookies)

	follow := httptest.NewRequest(http.MethodGet, "/", nil)
	follow.AddCookie(cookies[0])
	sess, err := sessions.Load(context.Background(), follow)
	require.NoError(t, err)
	require.Equal(t, user.ID.String(), sess.User())
	require.Equal(t, user.TenantID.String(), sess.Tenant())
	require.Contains(t, sess.Permissions(), "ORDER_MODULE:CREATE")
	require.Equal(t, []string{"WAITER"}, sess.Roles())
}

func TestLoginInvalidCredentials(t *testing.T) {
	user := activeUser(t, "correct-horse-battery")
	router, _ := newAuthRouter(t, &stubRepo{user: user}, nil)

	body := strings.NewReader(`{"email":"staff@bistro.example","password":"wrong-password"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", body)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusUnauthorized, res.Code)
	require.Empty(t, res.Result().Cookies())
}

func TestLoginValidationFailure(t *testing.T) {
	router, _ := newAuthRouter(t, &stubRepo{}, nil)

	body := strings.NewReader(`{"email":"not-an-email","password":"short"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", body)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestLogoutDestroysSession(t *testing.T) {
	user := activeUser(t, "correct-horse-battery")
	router, _ := newAuthRouter(t, &stubRepo{user: user}, nil)

	body := strings.NewReader(`{"email":"staff@bistro.example","password":"correct-horse-battery"}`)
	loginReq := httptest.NewRequest(http.MethodPost, "/api/auth/login", body)
	loginRes := httptest.NewRecorder()
	router.ServeHTTP(loginRes, loginReq)
	require.Equal(t, http.StatusOK, loginRes.Code)
	cookies := loginRes.Result().Cookies()
	require.NotEmpty(t, cookies)

	logoutReq := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	logoutReq.AddCookie(cookies[0])
	logoutRes := httptest.NewRecorder()
	router.ServeHTTP(logoutRes, logoutReq)

	require.Equal(t, http.StatusNoContent, logoutRes.Code)
	var cleared bool
	for _, c := range logoutRes.Result().Cookies() {
		if c.Name == "test_session" && c.MaxAge < 0 {
			cleared = true
		}
	}
	require.True(t, cleared, "expected session cookie to be expired")
}
