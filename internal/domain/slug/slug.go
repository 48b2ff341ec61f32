// Пакет slug — правила публичных идентификаторов контента:
// проверка формата, зарезервированные имена, генерация и выделение
// уникального slug с ограниченным числом попыток.
package slug

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

const (
	// MaxLength — максимальная длина slug
	MaxLength = 100
	// GeneratedLength — длина случайного slug
	GeneratedLength = 8
	// MaxAttempts — число попыток подобрать свободный случайный slug
	MaxAttempts = 10

	alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

var (
	ErrInvalid             = errors.New("недопустимый формат slug")
	ErrReserved            = errors.New("slug зарезервирован")
	ErrTaken               = errors.New("slug уже занят")
	ErrAllocationExhausted = errors.New("не удалось подобрать свободный slug")
)

var pattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// reserved — имена, занятые маршрутами сервиса.
var reserved = map[string]struct{}{
	"api":     {},
	"health":  {},
	"list":    {},
	"admin":   {},
	"static":  {},
	"assets":  {},
	"css":     {},
	"js":      {},
	"images":  {},
	"metrics": {},
}

// Normalize приводит пользовательский slug к каноническому виду.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Valid проверяет формат: 1..MaxLength символов из [a-zA-Z0-9_-].
func Valid(s string) bool {
	return len(s) >= 1 && len(s) <= MaxLength && pattern.MatchString(s)
}

// IsReserved проверяет совпадение с зарезервированным именем без учёта регистра.
func IsReserved(s string) bool {
	_, ok := reserved[strings.ToLower(s)]
	return ok
}

// Check нормализует и проверяет пользовательский slug.
// Возвращает ErrInvalid или ErrReserved.
func Check(s string) (string, error) {
	n := Normalize(s)
	if !Valid(n) {
		return "", ErrInvalid
	}
	if IsReserved(n) {
		return "", ErrReserved
	}
	return n, nil
}

// Generate возвращает случайный slug длины GeneratedLength.
func Generate() (string, error) {
	var sb strings.Builder
	sb.Grow(GeneratedLength)
	limit := big.NewInt(int64(len(alphabet)))
	for range GeneratedLength {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("ошибка генерации slug: %w", err)
		}
		sb.WriteByte(alphabet[n.Int64()])
	}
	return sb.String(), nil
}

// Checker — проверка занятости slug в хранилище.
type Checker interface {
	SlugExists(ctx context.Context, slug string) (bool, error)
}

// Allocator выделяет slug для новой загрузки.
// Выделение — предварительная проверка: окончательно уникальность
// гарантирует вставка в хранилище.
type Allocator struct {
	store       Checker
	generate    func() (string, error)
	maxAttempts int
}

// NewAllocator создаёт Allocator с крипто-случайным генератором.
func NewAllocator(store Checker) *Allocator {
	return &Allocator{
		store:       store,
		generate:    Generate,
		maxAttempts: MaxAttempts,
	}
}

// WithGenerator подменяет генератор случайных slug (для тестов).
func (a *Allocator) WithGenerator(gen func() (string, error)) *Allocator {
	a.generate = gen
	return a
}

// Allocate возвращает свободный slug.
// Если custom не пуст — проверяет формат, резерв и занятость.
// Иначе генерирует случайный slug, не более maxAttempts попыток.
func (a *Allocator) Allocate(ctx context.Context, custom string) (string, error) {
	if custom != "" {
		s, err := Check(custom)
		if err != nil {
			return "", err
		}
		exists, err := a.store.SlugExists(ctx, s)
		if err != nil {
			return "", err
		}
		if exists {
			return "", ErrTaken
		}
		return s, nil
	}

	for range a.maxAttempts {
		s, err := a.generate()
		if err != nil {
			return "", err
		}
		exists, err := a.store.SlugExists(ctx, s)
		if err != nil {
			return "", err
		}
		if !exists {
			return s, nil
		}
	}
	return "", ErrAllocationExhausted
}
