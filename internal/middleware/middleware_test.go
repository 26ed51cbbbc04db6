package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/wa-attendance-api/internal/models"
	"github.com/noah-isme/wa-attendance-api/internal/whatsapp"
	appErrors "github.com/noah-isme/wa-attendance-api/pkg/errors"
)

type stubValidator struct {
	claims *models.JWTClaims
	err    error
	token  string
}

func (s *stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	s.token = token
	return s.claims, s.err
}

type observed struct {
	method string
	path   string
	status int
}

type stubObserver struct {
	calls []observed
}

func (o *stubObserver) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	o.calls = append(o.calls, observed{method: method, path: path, status: status})
}

func protectedRouter(validator TokenValidator, roles ...models.UserRole) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/students", JWT(validator), RequireRoles(roles...), func(c *gin.Context) {
		c.String(http.StatusOK, Claims(c).UserID)
	})
	return router
}

func TestJWTRequiresBearerToken(t *testing.T) {
	router := protectedRouter(&stubValidator{claims: &models.JWTClaims{UserID: "ops"}}, models.RoleAdmin)

	for _, header := range []string{"", "Basic abc", "Bearer "} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/students", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, header)
	}
}

func TestJWTRejectsInvalidToken(t *testing.T) {
	router := protectedRouter(&stubValidator{err: appErrors.Clone(appErrors.ErrUnauthorized, "token expired")}, models.RoleAdmin)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/students", nil)
	req.Header.Set("Authorization", "Bearer stale")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "token expired")
}

func TestRequireRoles(t *testing.T) {
	validator := &stubValidator{claims: &models.JWTClaims{UserID: "op-1", Role: models.RoleOperator}}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/students", nil)
	req.Header.Set("Authorization", "bearer good-token")
	protectedRouter(validator, models.RoleAdmin).ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "good-token", validator.token)

	w = httptest.NewRecorder()
	protectedRouter(validator, models.RoleAdmin, models.RoleOperator).ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "op-1", w.Body.String())
}

func TestRequireRolesWithoutClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/", RequireRoles(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMetricsRecordsRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	observer := &stubObserver{}
	router := gin.New()
	router.Use(Metrics(observer))
	router.GET("/students/:id", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/students/42", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	require.Len(t, observer.calls, 2)
	assert.Equal(t, observed{method: http.MethodGet, path: "/students/:id", status: http.StatusAccepted}, observer.calls[0])
	assert.Equal(t, "unmatched", observer.calls[1].path)
	assert.Equal(t, http.StatusNotFound, observer.calls[1].status)
}

func TestWebhookSignature(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/webhook", WebhookSignature("app-secret", 0), func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusOK, string(body))
	})
	payload := []byte(`{"object":"whatsapp_business_account"}`)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	req.Header.Set(SignatureHeader, whatsapp.Sign("app-secret", payload))
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(payload), w.Body.String())

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	req.Header.Set(SignatureHeader, whatsapp.Sign("other-secret", payload))
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	open := gin.New()
	open.POST("/webhook", WebhookSignature("", 0), func(c *gin.Context) { c.Status(http.StatusOK) })
	w = httptest.NewRecorder()
	open.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload)))
	assert.Equal(t, http.StatusOK, w.Code)
}
