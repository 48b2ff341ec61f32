// apikey.go — аутентификация JSON API по статическим API-ключам.
// Ключ передаётся в X-API-Key или Authorization: Bearer <key>.
// В контекст запроса помещается SHA-256 ключа: он же хэш владельца записи.
package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/goartstore/site-host/internal/api/errors"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyAPIKeyHash — ключ для хэша API-ключа в контексте запроса.
const ContextKeyAPIKeyHash contextKey = "api_key_hash"

// HashKey возвращает hex SHA-256 API-ключа.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// APIKeyAuth — middleware проверки API-ключей.
type APIKeyAuth struct {
	hashes map[string]struct{}
	logger *slog.Logger
}

// NewAPIKeyAuth создаёт middleware для набора допустимых ключей.
// Пустые значения пропускаются.
func NewAPIKeyAuth(keys []string, logger *slog.Logger) *APIKeyAuth {
	hashes := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			hashes[HashKey(k)] = struct{}{}
		}
	}
	return &APIKeyAuth{
		hashes: hashes,
		logger: logger.With(slog.String("component", "api_key_auth")),
	}
}

// Configured сообщает, задан ли хотя бы один ключ.
func (a *APIKeyAuth) Configured() bool {
	return len(a.hashes) > 0
}

// Middleware возвращает HTTP middleware аутентификации.
// Нет ключа — 401, ключи не настроены — 503, неизвестный ключ — 403.
func (a *APIKeyAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractKey(r)
			if key == "" {
				apierrors.Unauthorized(w, "API key required. Use X-API-Key header or Authorization: Bearer <key>")
				return
			}
			if !a.Configured() {
				apierrors.ServiceUnavailable(w, "API not configured. Set SH_API_KEYS")
				return
			}

			hash := HashKey(key)
			if _, ok := a.hashes[hash]; !ok {
				a.logger.Debug("Неизвестный API-ключ",
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Forbidden(w, "Invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyAPIKeyHash, hash)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// APIKeyHashFromContext извлекает хэш API-ключа из контекста запроса.
// Возвращает пустую строку, если запрос не аутентифицирован.
func APIKeyHashFromContext(ctx context.Context) string {
	hash, _ := ctx.Value(ContextKeyAPIKeyHash).(string)
	return hash
}
