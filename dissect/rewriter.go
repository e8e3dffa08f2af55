package dissect

import (
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/isdmx/dissect/loader"
)

// shebangRe matches an interpreter directive on the first line only
var shebangRe = regexp.MustCompile(`^#![^\n\r\x{2028}\x{2029}]*`)

// textualRe is the best-effort keyword substitution; it also hits literals and comments
var textualRe = regexp.MustCompile(`const |let `)

// StripShebang removes a leading interpreter directive line, keeping the line break
func StripShebang(source string) string {
	return shebangRe.ReplaceAllString(source, "")
}

// LowerTextual replaces every "const " and "let " in text with "var "
func LowerTextual(text string) string {
	return textualRe.ReplaceAllString(text, "var ")
}

// Rewrite turns module source into the dissection template. Top-level function
// declarations always become context bindings; const and let only with ReplaceConstWithVar.
func Rewrite(source string, opts Options) (string, error) {
	source = HoistFunctions(StripShebang(source))

	lower := opts.ReplaceConstWithVar
	if lower && opts.Lowering != LoweringTextual {
		source = LowerBlockScoped(source)
	}

	wrapped, err := Wrap(source)
	if err != nil {
		return "", err
	}

	if lower && opts.Lowering == LoweringTextual {
		wrapped = LowerTextual(wrapped)
	}
	return wrapped, nil
}

// rewrite is the loader compile hook. Every file loses its interpreter
// directive; only the request's target is wrapped.
func (e *Engine) rewrite(req *loader.Request, source string) (string, error) {
	source = StripShebang(source)

	target, ok := Target(req)
	if !ok || target != req.Filename {
		return source, nil
	}

	out, err := Rewrite(source, e.opts)
	if err != nil {
		return "", fmt.Errorf("failed to rewrite %s: %w", target, err)
	}

	e.metrics.ObserveDissection()
	e.logger.Info("module dissected",
		zap.String("target", target),
		zap.Bool("replace_const_with_var", e.opts.ReplaceConstWithVar),
		zap.String("lowering", string(e.opts.Lowering)))
	return out, nil
}
