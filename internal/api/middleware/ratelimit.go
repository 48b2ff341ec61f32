// ratelimit.go — ограничение частоты запросов к API на ключ (или IP).
// Token bucket из golang.org/x/time/rate: burst = лимит окна,
// пополнение равномерное в пределах окна.
package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apierrors "github.com/bigkaa/goartstore/site-host/internal/api/errors"
)

// pruneThreshold — число клиентов, после которого новые клиенты
// запускают удаление неактивных.
const pruneThreshold = 1024

// RateLimiter — набор token bucket по ключу клиента.
type RateLimiter struct {
	limit  int
	window time.Duration
	every  rate.Limit

	mu       sync.Mutex
	limiters map[string]*clientLimiter
	now      func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter создаёт ограничитель: limit запросов за window.
// limit <= 0 отключает ограничение.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		limit:    limit,
		window:   window,
		limiters: make(map[string]*clientLimiter),
		now:      time.Now,
	}
	if limit > 0 && window > 0 {
		rl.every = rate.Every(window / time.Duration(limit))
	}
	return rl
}

// Limit возвращает лимит запросов за окно.
func (rl *RateLimiter) Limit() int { return rl.limit }

// Window возвращает длительность окна.
func (rl *RateLimiter) Window() time.Duration { return rl.window }

// Allow расходует токен клиента key.
func (rl *RateLimiter) Allow(key string) bool {
	if rl.every == 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cl, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) >= pruneThreshold {
			rl.prune(now)
		}
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.every, rl.limit)}
		rl.limiters[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

// prune удаляет клиентов, не обращавшихся дольше окна:
// их bucket к этому моменту полностью восстановлен. Вызывается под mu.
func (rl *RateLimiter) prune(now time.Time) int {
	cutoff := now.Add(-rl.window)
	removed := 0
	for key, cl := range rl.limiters {
		if cl.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
			removed++
		}
	}
	return removed
}

// Middleware возвращает HTTP middleware. Ключ клиента — хэш API-ключа
// из контекста (после APIKeyAuth), иначе IP-адрес.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := APIKeyHashFromContext(r.Context())
			if key == "" {
				key = ClientIP(r)
			}
			if !rl.Allow(key) {
				w.Header().Set("Retry-After", strconv.Itoa(int(rl.retryAfter().Seconds())))
				apierrors.RateLimited(w, "Rate limit exceeded. Try again later.")
				return
			}
			if rl.limit > 0 {
				w.Header().Set("RateLimit-Limit", strconv.Itoa(rl.limit))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) retryAfter() time.Duration {
	d := rl.window / time.Duration(max(rl.limit, 1))
	if d < time.Second {
		d = time.Second
	}
	return d
}

// ClientIP возвращает IP клиента из RemoteAddr (chi RealIP уже подставил
// X-Forwarded-For, если он используется).
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
