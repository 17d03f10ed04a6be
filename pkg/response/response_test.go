package response

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/sma-timetable-sync/pkg/errors"
)

func newContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, w
}

func TestPageOf(t *testing.T) {
	p := PageOf(20, 10, 25)
	assert.Equal(t, 3, p.Page)
	assert.Equal(t, 10, p.PageSize)
	assert.Equal(t, 25, p.TotalCount)

	assert.Equal(t, 1, PageOf(0, 0, 4).Page, "unbounded reads are a single page")
}

func TestPaged(t *testing.T) {
	c, w := newContext()
	Paged(c, []string{"m-1"}, 10, 10, 11)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{"data":["m-1"],"pagination":{"page":2,"page_size":10,"total_count":11}}`, w.Body.String())
}

func TestError(t *testing.T) {
	c, w := newContext()
	Error(c, appErrors.ErrLockDenied)

	require.Equal(t, appErrors.ErrLockDenied.Status, w.Code)
	assert.Equal(t, "no-cache", w.Header().Get("Pragma"))
	assert.Contains(t, w.Body.String(), `"code":"`+appErrors.ErrLockDenied.Code+`"`)
	assert.NotContains(t, w.Body.String(), `"data"`)
}
