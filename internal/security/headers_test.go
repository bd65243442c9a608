package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestHeadersMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(HeadersMiddleware())
	router.GET("/v1/plans", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"plans": []string{}})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/plans", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'none'")
}

func TestCORSMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name        string
		allowed     []string
		origin      string
		wantOrigin  string
		wantCreds   string
		wantPrefExp int
	}{
		{"allowed origin", []string{"https://desk.example.com"}, "https://desk.example.com", "https://desk.example.com", "true", http.StatusNoContent},
		{"wildcard drops credentials", []string{"*"}, "https://kiosk.example.com", "https://kiosk.example.com", "", http.StatusNoContent},
		{"disallowed origin", []string{"https://desk.example.com"}, "https://evil.example.com", "", "", http.StatusForbidden},
		{"empty list", nil, "https://desk.example.com", "", "", http.StatusForbidden},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := gin.New()
			router.Use(CORSMiddleware(tc.allowed))
			router.POST("/v1/orders/quote", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodPost, "/v1/orders/quote", nil)
			req.Header.Set("Origin", tc.origin)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tc.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tc.wantCreds, w.Header().Get("Access-Control-Allow-Credentials"))

			pre := httptest.NewRequest(http.MethodOptions, "/v1/orders/quote", nil)
			pre.Header.Set("Origin", tc.origin)
			w = httptest.NewRecorder()
			router.ServeHTTP(w, pre)
			assert.Equal(t, tc.wantPrefExp, w.Code)
		})
	}
}

func TestCORSMiddleware_AllowsIdempotencyKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORSMiddleware([]string{"https://desk.example.com"}))

	req := httptest.NewRequest(http.MethodOptions, "/v1/accounts/mbr_1/approve", nil)
	req.Header.Set("Origin", "https://desk.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")
}

func TestParseOrigins(t *testing.T) {
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, ParseOrigins(" https://a.example.com, ,https://b.example.com "))
	assert.Nil(t, ParseOrigins(""))
}
