// passcache.go — кэш успешных проверок паролей страниц.
// Обёртка над hashicorp/golang-lru/v2/expirable: ресурсы защищённого бандла
// запрашиваются пачкой, и bcrypt на каждый файл недопустимо дорог.
package service

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/crypto/bcrypt"
)

var (
	passwordCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sh_password_cache_hits_total",
		Help: "Проверки пароля страницы, подтверждённые кэшем.",
	})
	passwordCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sh_password_cache_misses_total",
		Help: "Проверки пароля страницы, потребовавшие bcrypt.",
	})
)

// PasswordCache хранит отпечатки пар (хеш, пароль), прошедших bcrypt.
// Ключ включает хеш записи, поэтому смена или снятие пароля
// делает старые отпечатки недостижимыми.
type PasswordCache struct {
	cache *expirable.LRU[string, struct{}]
}

// NewPasswordCache создаёт кэш на maxSize отпечатков с временем жизни ttl.
func NewPasswordCache(maxSize int, ttl time.Duration) *PasswordCache {
	return &PasswordCache{cache: expirable.NewLRU[string, struct{}](maxSize, nil, ttl)}
}

// Verify сравнивает пароль с bcrypt-хешем. Успешный результат кэшируется,
// неуспешный — нет. Nil-кэш всегда выполняет bcrypt.
func (c *PasswordCache) Verify(passwordHash, password string) bool {
	if c == nil {
		return bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)) == nil
	}

	key := fingerprint(passwordHash, password)
	if _, ok := c.cache.Get(key); ok {
		passwordCacheHitsTotal.Inc()
		return true
	}
	passwordCacheMissesTotal.Inc()

	if bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)) != nil {
		return false
	}
	c.cache.Add(key, struct{}{})
	return true
}

// Len возвращает число отпечатков в кэше.
func (c *PasswordCache) Len() int {
	return c.cache.Len()
}

func fingerprint(passwordHash, password string) string {
	sum := sha256.Sum256([]byte(passwordHash + "\x00" + password))
	return hex.EncodeToString(sum[:])
}
