// Пакет errors — конструкторы стандартных ошибок API Site Host.
// Единый формат: {"error": {"code": "...", "message": "...", "details": ..., "retryable": bool}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // конфликт имени со stdlib, как и в остальных модулях

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок транспортного уровня. Коды бизнес-ошибок
// определены в пакете service и передаются через WriteError.
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	CodeRateLimited        = "RATE_LIMITED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeReconcileRunning   = "RECONCILE_IN_PROGRESS"
	CodeInternalError      = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error Detail `json:"error"`
}

// Detail — содержимое ошибки.
type Detail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	// Retryable — повтор того же запроса может пройти
	Retryable bool `json:"retryable"`
}

// WriteError записывает ответ ошибки в стандартном формате.
func WriteError(w http.ResponseWriter, statusCode int, d Detail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{Error: d})
}

// --- Конструкторы для типичных ошибок ---

// InvalidRequest — 400 некорректный запрос.
func InvalidRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, Detail{Code: CodeInvalidRequest, Message: message})
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, Detail{Code: CodeNotFound, Message: message})
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, Detail{Code: CodeUnauthorized, Message: message})
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, Detail{Code: CodeForbidden, Message: message})
}

// PayloadTooLarge — 413 тело запроса превышает лимит.
func PayloadTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, Detail{Code: CodePayloadTooLarge, Message: message})
}

// RateLimited — 429 превышен лимит запросов.
func RateLimited(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, Detail{Code: CodeRateLimited, Message: message, Retryable: true})
}

// ServiceUnavailable — 503 сервис не настроен или временно недоступен.
func ServiceUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, Detail{Code: CodeServiceUnavailable, Message: message, Retryable: true})
}

// ReconcileInProgress — 409 сверка уже выполняется.
func ReconcileInProgress(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, Detail{Code: CodeReconcileRunning, Message: message, Retryable: true})
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, Detail{Code: CodeInternalError, Message: message})
}
