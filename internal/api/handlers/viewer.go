// viewer.go — отдача размещённого контента по slug: GET /{slug}/ и /{slug}/*.
package handlers

import (
	"html/template"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/site-host/internal/api/middleware"
	"github.com/bigkaa/goartstore/site-host/internal/domain/slug"
	"github.com/bigkaa/goartstore/site-host/internal/service"
)

// contentSecurityPolicy разрешает размещённым сайтам внешние ресурсы,
// но запрещает плагины и подмену base.
const contentSecurityPolicy = "default-src * 'unsafe-inline' 'unsafe-eval' data: blob:; " +
	"script-src * 'unsafe-inline' 'unsafe-eval'; style-src * 'unsafe-inline'; " +
	"img-src * data: blob:; font-src * data:; connect-src *; media-src * data: blob:; " +
	"object-src 'none'; base-uri 'self';"

// PasswordHeader — заголовок с паролем защищённой страницы.
const PasswordHeader = "X-Page-Password"

var errorPage = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Status}} - {{.Title}}</title>
<style>
body{font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,sans-serif;color:#333;background:#f4f5f7;display:flex;align-items:center;justify-content:center;min-height:100vh;margin:0}
.box{background:#fff;padding:3rem;border-radius:12px;box-shadow:0 10px 30px rgba(0,0,0,.08);text-align:center;max-width:500px;width:90%}
.code{font-size:3.5rem;font-weight:bold;color:#e74c3c}
input{padding:10px;border:1px solid #ccc;border-radius:6px}
button{padding:10px 18px;border:0;border-radius:6px;background:#667eea;color:#fff}
</style>
</head>
<body>
<div class="box">
<div class="code">{{.Status}}</div>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{if .PasswordForm}}<form method="get"><input type="password" name="password" placeholder="Password" autofocus> <button type="submit">Open</button></form>{{end}}
</div>
</body>
</html>
`))

type errorPageData struct {
	Status       int
	Title        string
	Message      string
	PasswordForm bool
}

// ViewerHandler — отдача файлов размещённого контента.
type ViewerHandler struct {
	content *service.ContentService
	logger  *slog.Logger
}

// NewViewerHandler создаёт обработчик просмотра.
func NewViewerHandler(content *service.ContentService, logger *slog.Logger) *ViewerHandler {
	return &ViewerHandler{
		content: content,
		logger:  logger.With(slog.String("component", "viewer")),
	}
}

// Redirect обрабатывает GET /{slug}: относительные ссылки бандла
// разрешаются только от /{slug}/. Location собирается только из
// корректного slug: "/\host" браузеры читают как "//host".
func (h *ViewerHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	name := slug.Normalize(chi.URLParam(r, "slug"))
	if !slug.Valid(name) {
		setSecurityHeaders(w)
		h.writeError(w, nil)
		return
	}

	target := "/" + name + "/"
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

// Serve обрабатывает GET /{slug}/ и GET /{slug}/*.
func (h *ViewerHandler) Serve(w http.ResponseWriter, r *http.Request) {
	password := r.URL.Query().Get("password")
	if password == "" {
		password = r.Header.Get(PasswordHeader)
	}

	setSecurityHeaders(w)

	target, err := h.content.Open(r.Context(), chi.URLParam(r, "slug"), chi.URLParam(r, "*"), password)
	if err != nil {
		h.writeError(w, err)
		return
	}

	f, err := os.Open(target.FilePath)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		h.writeError(w, err)
		return
	}

	if target.Record.IsPasswordProtected() {
		w.Header().Set("Cache-Control", "private, no-store")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=3600")
	}

	middleware.ViewsTotal.WithLabelValues("served").Inc()
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func setSecurityHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("X-Frame-Options", "SAMEORIGIN")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("Content-Security-Policy", contentSecurityPolicy)
}

// writeError отдаёт HTML-страницу ошибки для браузера.
func (h *ViewerHandler) writeError(w http.ResponseWriter, err error) {
	data := errorPageData{
		Status:  http.StatusNotFound,
		Title:   "Not Found",
		Message: "The requested content was not found.",
	}
	result := "not_found"

	if se, ok := service.AsError(err); ok {
		switch se.Kind {
		case service.KindNotFound:
		case service.KindGone:
			data = errorPageData{Status: http.StatusGone, Title: "Content Expired", Message: se.Message}
			result = "expired"
		case service.KindUnauthorized:
			data = errorPageData{Status: http.StatusUnauthorized, Title: "Password Required", Message: se.Message, PasswordForm: true}
			result = "unauthorized"
		default:
			h.logger.Error("Ошибка отдачи контента", slog.String("error", se.Error()))
			data = errorPageData{
				Status:  http.StatusInternalServerError,
				Title:   "Internal Server Error",
				Message: "An error occurred while retrieving the content.",
			}
			result = "error"
		}
	} else if err != nil {
		h.logger.Warn("Файл контента недоступен", slog.String("error", err.Error()))
	}

	middleware.ViewsTotal.WithLabelValues(result).Inc()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(data.Status)
	_ = errorPage.Execute(w, data)
}
