package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestLimiter_BurstPerIP(t *testing.T) {
	l := NewLimiter(rate.Every(time.Hour), 2, time.Minute)
	defer l.Stop()

	if !l.allow("192.0.2.1") || !l.allow("192.0.2.1") {
		t.Fatal("allow() denied within burst")
	}
	if l.allow("192.0.2.1") {
		t.Error("allow() passed beyond burst")
	}
	// 另一个 IP 用自己的桶
	if !l.allow("192.0.2.2") {
		t.Error("allow() denied a fresh IP")
	}
}

func TestLimiter_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewLimiter(rate.Every(time.Hour), 1, time.Minute)
	defer l.Stop()

	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", w.Code)
	}
}
