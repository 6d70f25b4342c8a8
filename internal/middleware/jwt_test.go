package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobportal/backend/internal/auth"
	"github.com/jobportal/backend/internal/models"
)

func protectedRouter(svc *auth.JWTService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(JWT(svc))
	r.GET("/me", func(c *gin.Context) {
		id, ok := UserID(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, id.String())
	})
	r.GET("/admin", RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/super", RequireRole(models.RoleSuperAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func do(r *gin.Engine, target, header string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestJWT(t *testing.T) {
	svc := auth.NewJWTService("test-secret", 1)
	r := protectedRouter(svc)
	id := uuid.New()
	token, err := svc.Generate(id, "ann@example.com", string(models.RoleAdmin))
	require.NoError(t, err)

	w := do(r, "/me", "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id.String(), w.Body.String())

	assert.Equal(t, http.StatusOK, do(r, "/me?token="+token, "").Code, "query token for websocket handshakes")
	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", "Token "+token).Code)

	other := auth.NewJWTService("other-secret", 1)
	forged, _ := other.Generate(id, "ann@example.com", string(models.RoleSuperAdmin))
	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", "Bearer "+forged).Code)
}

func TestRequireRole(t *testing.T) {
	svc := auth.NewJWTService("test-secret", 1)
	r := protectedRouter(svc)
	admin, _ := svc.Generate(uuid.New(), "a@example.com", string(models.RoleAdmin))
	super, _ := svc.Generate(uuid.New(), "s@example.com", string(models.RoleSuperAdmin))
	employer, _ := svc.Generate(uuid.New(), "e@example.com", string(models.RoleEmployer))

	assert.Equal(t, http.StatusNoContent, do(r, "/admin", "Bearer "+admin).Code)
	assert.Equal(t, http.StatusNoContent, do(r, "/admin", "Bearer "+super).Code)
	assert.Equal(t, http.StatusForbidden, do(r, "/admin", "Bearer "+employer).Code)
	assert.Equal(t, http.StatusForbidden, do(r, "/super", "Bearer "+admin).Code)
	assert.Equal(t, http.StatusNoContent, do(r, "/super", "Bearer "+super).Code)
}
