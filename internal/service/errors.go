// Пакет service — бизнес-логика Site Host: приём контента,
// жизненный цикл записей, удаление истёкших и сверка директорий.
package service

import (
	"errors"
	"fmt"
)

// Kind — категория ошибки сервиса. HTTP-слой отображает её в статус.
type Kind string

const (
	KindInvalidInput        Kind = "invalid_input"
	KindConflict            Kind = "conflict"
	KindAllocationExhausted Kind = "allocation_exhausted"
	KindExtractionFailed    Kind = "extraction_failed"
	KindNotFound            Kind = "not_found"
	KindGone                Kind = "gone"
	KindForbidden           Kind = "forbidden"
	KindUnauthorized        Kind = "unauthorized"
	KindInternal            Kind = "internal"
)

// Коды ошибок в ответах API.
const (
	CodeInvalidSlug         = "INVALID_SLUG"
	CodeSlugReserved        = "SLUG_RESERVED"
	CodeSlugConflict        = "SLUG_CONFLICT"
	CodeConcurrentUpdate    = "CONCURRENT_UPDATE"
	CodeAllocationExhausted = "ALLOCATION_EXHAUSTED"
	CodeInvalidContent      = "INVALID_CONTENT"
	CodePayloadTooLarge     = "PAYLOAD_TOO_LARGE"
	CodeInvalidBundle       = "INVALID_BUNDLE"
	CodeMissingEntryPoint   = "MISSING_ENTRY_POINT"
	CodeSizeLimitExceeded   = "SIZE_LIMIT_EXCEEDED"
	CodeExtractionFailed    = "EXTRACTION_FAILED"
	CodeNotFound            = "NOT_FOUND"
	CodeExpired             = "EXPIRED"
	CodeForbidden           = "FORBIDDEN"
	CodePasswordRequired    = "PASSWORD_REQUIRED"
	CodeInternalError       = "INTERNAL_ERROR"
)

// Error — ошибка сервиса с категорией и кодом для клиента.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Details — дополнительные сведения для клиента (например, проблемы бандла)
	Details any
	// Err — исходная ошибка, не показывается клиенту
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable сообщает, имеет ли смысл повторить запрос без изменений.
func (e *Error) Retryable() bool {
	return e.Kind == KindAllocationExhausted || e.Code == CodeConcurrentUpdate
}

// AsError извлекает *Error из цепочки ошибок.
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func internalError(message string, err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternalError, Message: message, Err: err}
}
