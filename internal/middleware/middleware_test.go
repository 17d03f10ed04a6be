package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-sync/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-sync/pkg/errors"
)

type stubValidator struct {
	tokens map[string]*models.JWTClaims
}

func (s stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := s.tokens[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

type stubResolver struct {
	sessions map[string]string
}

func (s stubResolver) Resolve(sessionID, userID string, isAdmin bool) (models.Actor, error) {
	owner, ok := s.sessions[sessionID]
	if !ok {
		return models.Actor{}, appErrors.ErrSessionNotConnected
	}
	if owner != userID {
		return models.Actor{}, appErrors.ErrForbidden
	}
	return models.Actor{UserID: userID, SessionID: sessionID, IsAdmin: isAdmin}, nil
}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	validator := stubValidator{tokens: map[string]*models.JWTClaims{
		"alice-token": {UserID: "alice", Role: models.RoleCoordinator},
		"root-token":  {UserID: "root", Role: models.RoleAdmin},
	}}
	resolver := stubResolver{sessions: map[string]string{"s-alice": "alice", "s-root": "root"}}

	authed := r.Group("/", JWT(validator))
	authed.GET("/events", func(c *gin.Context) {
		claims, _ := Claims(c)
		c.String(http.StatusOK, claims.UserID)
	})
	authed.POST("/locks", Session(resolver), func(c *gin.Context) {
		actor, ok := Actor(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, actor)
	})
	authed.GET("/admin/locks", RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func serve(r *gin.Engine, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWT(t *testing.T) {
	r := newTestRouter()

	w := serve(r, http.MethodGet, "/events", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(r, http.MethodGet, "/events", map[string]string{"Authorization": "Token alice-token"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid authorization header")

	w = serve(r, http.MethodGet, "/events", map[string]string{"Authorization": "Bearer alice-token"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())

	w = serve(r, http.MethodGet, "/events?access_token=alice-token", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, http.MethodPost, "/locks?access_token=alice-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "query tokens are only accepted on GET")
}

func TestSession(t *testing.T) {
	r := newTestRouter()
	bearer := map[string]string{"Authorization": "Bearer alice-token"}

	w := serve(r, http.MethodPost, "/locks", bearer)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
	assert.Contains(t, w.Body.String(), "SESSION_NOT_CONNECTED")

	w = serve(r, http.MethodPost, "/locks", map[string]string{"Authorization": "Bearer alice-token", SessionHeader: "s-root"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serve(r, http.MethodPost, "/locks", map[string]string{"Authorization": "Bearer alice-token", SessionHeader: "s-alice"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userId":"alice","sessionId":"s-alice","isAdmin":false}`, w.Body.String())

	w = serve(r, http.MethodPost, "/locks", map[string]string{"Authorization": "Bearer root-token", SessionHeader: "s-root"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"isAdmin":true`)
}

func TestRequireAdmin(t *testing.T) {
	r := newTestRouter()

	w := serve(r, http.MethodGet, "/admin/locks", map[string]string{"Authorization": "Bearer alice-token"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serve(r, http.MethodGet, "/admin/locks", map[string]string{"Authorization": "Bearer root-token"})
	assert.Equal(t, http.StatusNoContent, w.Code)
}
