package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

type rateWindow struct {
	hits    int
	resetAt time.Time
}

// pruneThreshold bounds the bucket map; event senders are few, so crossing it
// means expired windows are piling up.
const pruneThreshold = 1024

// RateLimit caps events per client IP inside a fixed window. Over-limit
// callers get 429 with a Retry-After hint so a well-behaved chat framework
// can back off instead of hammering the webhook.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	var mu sync.Mutex
	windows := make(map[string]*rateWindow)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIPForRateLimit(r)
			now := time.Now()

			mu.Lock()
			if len(windows) > pruneThreshold {
				for key, win := range windows {
					if now.After(win.resetAt) {
						delete(windows, key)
					}
				}
			}
			win, ok := windows[ip]
			if !ok || now.After(win.resetAt) {
				win = &rateWindow{resetAt: now.Add(per)}
				windows[ip] = win
			}
			if win.hits >= limit {
				retryAfter := win.resetAt
				mu.Unlock()
				seconds := int(time.Until(retryAfter).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			win.hits++
			mu.Unlock()

			next.ServeHTTP(w, r)
		})
	}
}

// clientIPForRateLimit keys the bucket by the nearest verifiable client IP.
// Unlike the locale lookup it insists on parseable addresses, otherwise a
// forged X-Forwarded-For would hand out fresh buckets for free.
func clientIPForRateLimit(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if ip == "" {
				continue
			}
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if net.ParseIP(host) != nil {
			return host
		}
	} else if net.ParseIP(r.RemoteAddr) != nil {
		return r.RemoteAddr
	}

	return r.RemoteAddr
}
