package archive

import (
	"path"
	"strings"
)

// blocked — расширения, при которых бандл отклоняется целиком.
var blocked = toSet(
	".exe", ".dll", ".bat", ".cmd", ".sh", ".ps1", ".msi",
	".php", ".py", ".rb", ".pl", ".cgi", ".asp", ".aspx", ".jsp",
	".jar", ".class", ".war",
	".htaccess", ".htpasswd", ".env", ".config", ".ini",
	".sql", ".db", ".sqlite", ".mdb",
	".pem", ".key", ".crt", ".pfx",
)

// allowed — стандартные веб-расширения. Прочие пропускаются с предупреждением.
var allowed = toSet(
	".html", ".htm", ".css", ".js", ".mjs",
	".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico", ".bmp",
	".woff", ".woff2", ".ttf", ".eot", ".otf",
	".json", ".xml", ".txt", ".md", ".csv",
	".mp3", ".mp4", ".webm", ".ogg", ".wav",
	".map", ".webmanifest", ".manifest",
)

func toSet(items ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[it] = struct{}{}
	}
	return m
}

// extension возвращает расширение в нижнем регистре.
// Для имён вида ".env" расширением считается всё имя.
func extension(name string) string {
	return strings.ToLower(path.Ext(name))
}

// IsBlocked проверяет расширение по списку запрещённых.
func IsBlocked(name string) bool {
	_, ok := blocked[extension(name)]
	return ok
}

// IsAllowed проверяет расширение по списку веб-расширений.
func IsAllowed(name string) bool {
	_, ok := allowed[extension(name)]
	return ok
}

// IsPlatformMetadata распознаёт служебные файлы macOS-архиваторов.
func IsPlatformMetadata(name string) bool {
	if strings.HasPrefix(name, "__MACOSX/") || strings.Contains(name, "/__MACOSX/") {
		return true
	}
	base := path.Base(name)
	return strings.HasPrefix(base, "._") || base == ".DS_Store"
}

// normalizeName приводит разделители к "/".
func normalizeName(name string) string {
	return strings.ReplaceAll(name, `\`, "/")
}

// IsSafePath проверяет нормализованный путь записи архива:
// не абсолютный, без сегментов "..", без NUL и без буквы диска.
func IsSafePath(name string) bool {
	if name == "" || strings.ContainsRune(name, 0) {
		return false
	}
	if strings.HasPrefix(name, "/") {
		return false
	}
	if len(name) >= 2 && name[1] == ':' {
		return false
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}
