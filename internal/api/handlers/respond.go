// respond.go — общие помощники ответов и отображение ошибок сервиса в HTTP.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/site-host/internal/api/errors"
	"github.com/bigkaa/goartstore/site-host/internal/service"
)

// writeJSON записывает JSON-ответ с указанным HTTP-статусом.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// statusForError возвращает HTTP-статус для категории ошибки сервиса.
func statusForError(se *service.Error) int {
	switch se.Kind {
	case service.KindInvalidInput:
		if se.Code == service.CodePayloadTooLarge {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	case service.KindConflict:
		return http.StatusConflict
	case service.KindAllocationExhausted:
		return http.StatusServiceUnavailable
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindGone:
		return http.StatusGone
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError записывает ошибку сервиса в стандартном формате.
// Внутренние подробности (пути, исходные ошибки) только логируются.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	se, ok := service.AsError(err)
	if !ok {
		se = &service.Error{Kind: service.KindInternal, Code: service.CodeInternalError, Err: err}
	}

	status := statusForError(se)
	if status >= http.StatusInternalServerError {
		logger.Error("Ошибка обработки запроса",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("code", se.Code),
			slog.String("error", se.Error()),
		)
	}

	message := se.Message
	if se.Kind == service.KindInternal || message == "" {
		message = "Internal server error"
	}

	apierrors.WriteError(w, status, apierrors.Detail{
		Code:      se.Code,
		Message:   message,
		Details:   se.Details,
		Retryable: se.Retryable(),
	})
}
