package loader

import (
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Resolve maps a specifier to a canonical identity: a builtin name or an absolute file path.
// A nil from resolves against the host root.
func (l *Loader) Resolve(specifier string, from *Module) (string, error) {
	if from == nil {
		from = l.main
	}

	if name := strings.TrimPrefix(specifier, "node:"); l.natives[name] != nil {
		return name, nil
	}

	if isPathSpecifier(specifier) {
		p := specifier
		if !filepath.IsAbs(p) {
			p = filepath.Join(from.Dir, p)
		}
		if id, ok := l.resolvePath(p); ok {
			return id, nil
		}
		return "", &ResolveError{Specifier: specifier, From: from.Dir}
	}

	dir := from.Dir
	for {
		if filepath.Base(dir) != "node_modules" {
			if id, ok := l.resolvePath(filepath.Join(dir, "node_modules", specifier)); ok {
				return id, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", &ResolveError{Specifier: specifier, From: from.Dir}
}

func isPathSpecifier(s string) bool {
	return s == "." || s == ".." ||
		strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") ||
		filepath.IsAbs(s)
}

func (l *Loader) resolvePath(p string) (string, bool) {
	if l.isFile(p) {
		return p, true
	}
	if id, ok := l.tryExtensions(p); ok {
		return id, true
	}
	return l.tryDirectory(p)
}

func (l *Loader) tryExtensions(p string) (string, bool) {
	for _, ext := range l.extensions {
		if l.isFile(p + ext) {
			return p + ext, true
		}
	}
	return "", false
}

func (l *Loader) tryDirectory(dir string) (string, bool) {
	if main := l.packageMain(dir); main != "" {
		m := filepath.Join(dir, main)
		if l.isFile(m) {
			return m, true
		}
		if id, ok := l.tryExtensions(m); ok {
			return id, true
		}
		if id, ok := l.tryExtensions(filepath.Join(m, "index")); ok {
			return id, true
		}
	}
	return l.tryExtensions(filepath.Join(dir, "index"))
}

// packageMain returns the "main" field of dir/package.json, or "" when absent or unreadable
func (l *Loader) packageMain(dir string) string {
	pkgPath := filepath.Join(dir, "package.json")
	if !l.isFile(pkgPath) {
		return ""
	}

	data, err := afero.ReadFile(l.fs, pkgPath)
	if err != nil {
		l.logger.Debug("failed to read package.json", zap.String("path", pkgPath), zap.Error(err))
		return ""
	}

	var pkg struct {
		Main string `json:"main"`
	}
	if err := sonic.Unmarshal(data, &pkg); err != nil {
		l.logger.Debug("ignoring malformed package.json", zap.String("path", pkgPath), zap.Error(err))
		return ""
	}
	return pkg.Main
}

func (l *Loader) isFile(p string) bool {
	fi, err := l.fs.Stat(p)
	return err == nil && !fi.IsDir()
}
