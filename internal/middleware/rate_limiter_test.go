package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter(t *testing.T) {
	const burst = 3
	e := echo.New()
	e.GET("/ws/chat/:room", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}, RateLimiter(0.01, burst))

	hit := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/ws/chat/1_2", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < burst; i++ {
		require.Equal(t, http.StatusOK, hit("192.0.2.2:1234").Code, "request %d", i+1)
	}
	rec := hit("192.0.2.2:1234")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "Too many requests")

	assert.Equal(t, http.StatusOK, hit("192.0.2.3:1234").Code, "other clients are unaffected")
}
