package common

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capkernel/kernel/internal/domain/entities"
)

func newTestContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, w
}

func TestGetPrincipal_MissingFromContext(t *testing.T) {
	c, _ := newTestContext()
	_, err := GetPrincipal(c)
	assert.Error(t, err)
}

func TestGetPrincipal_AcceptsStringOrPrincipalType(t *testing.T) {
	c, _ := newTestContext()
	c.Set("principal", "alice")
	p, err := GetPrincipal(c)
	require.NoError(t, err)
	assert.Equal(t, entities.Principal("alice"), p)

	c2, _ := newTestContext()
	c2.Set("principal", entities.Principal("bob"))
	p2, err := GetPrincipal(c2)
	require.NoError(t, err)
	assert.Equal(t, entities.Principal("bob"), p2)
}

func TestHandleServiceError_NilIsNotHandled(t *testing.T) {
	c, _ := newTestContext()
	assert.False(t, HandleServiceError(c, nil, "capability"))
}

func TestHandleServiceError_MapsNotFoundTo404(t *testing.T) {
	c, w := newTestContext()
	handled := HandleServiceError(c, errors.New("capability not found"), "capability")
	assert.True(t, handled)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleServiceError_MapsDeniedTo403(t *testing.T) {
	c, w := newTestContext()
	HandleServiceError(c, errors.New("capability denied"), "capability")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandleServiceError_MapsUnknownTo500(t *testing.T) {
	c, w := newTestContext()
	HandleServiceError(c, errors.New("disk on fire"), "capability")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestExtractPagination_ClampsToMaxLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/?limit=10000&offset=5", nil)

	p := ExtractPagination(c, 50, 500)
	assert.Equal(t, 500, p.Limit)
	assert.Equal(t, 5, p.Offset)
}

func TestExtractPagination_DefaultsWhenMissing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	p := ExtractPagination(c, 50, 500)
	assert.Equal(t, 50, p.Limit)
	assert.Equal(t, 0, p.Offset)
}

func TestParseTime_RejectsEmptyAndInvalid(t *testing.T) {
	_, err := ParseTime("")
	assert.Error(t, err)

	_, err = ParseTime("not-a-time")
	assert.Error(t, err)
}

func TestParseTime_AcceptsRFC3339(t *testing.T) {
	got, err := ParseTime("2026-01-02T15:04:05Z")
	require.NoError(t, err)
	assert.Equal(t, 2026, got.Year())
}

func TestMaxRequestBodySizeMiddleware_RejectsOversizedBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(MaxRequestBodySizeMiddleware())
	router.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too large")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	oversized := strings.Repeat("a", (1<<20)+1)
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewReader([]byte(oversized)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestMaxRequestBodySizeMiddleware_AllowsBodyWithinLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(MaxRequestBodySizeMiddleware())
	router.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		require.NoError(t, err)
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewReader([]byte("small body")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
