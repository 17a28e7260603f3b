package mw

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Limiter 按客户端 IP 维护令牌桶。同一个 Limiter 挂在哪组路由上，
// 就代表那组路由的独立预算：凭据接口、普通 API 和 websocket 握手
// 各用各的，互不挤占。
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    rate.Limit
	burst   int
	idle    time.Duration
	stop    chan struct{}
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewLimiter(r rate.Limit, burst int, idle time.Duration) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		rate:    r,
		burst:   burst,
		idle:    idle,
		stop:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

func (l *Limiter) allow(ip string) bool {
	l.mu.Lock()
	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[ip] = b
	}
	b.seen = time.Now()
	l.mu.Unlock()
	return b.lim.Allow()
}

// sweep 回收超过 idle 没再出现的 IP 的桶。
func (l *Limiter) sweep() {
	ticker := time.NewTicker(l.idle)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-l.idle)
			l.mu.Lock()
			for ip, b := range l.buckets {
				if b.seen.Before(cutoff) {
					delete(l.buckets, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Stop 停止回收 goroutine，用于优雅停服。
func (l *Limiter) Stop() {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
}

// Middleware 超出预算的请求直接回 429。
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(clientIP(c.Request.RemoteAddr)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

func clientIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
