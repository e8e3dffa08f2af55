package loader

import (
	"errors"
	"fmt"
)

// ErrModuleNotFound is matched by every resolution failure
var ErrModuleNotFound = errors.New("module not found")

// ResolveError reports a specifier that could not be resolved to a file or builtin
type ResolveError struct {
	Specifier string
	From      string
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("cannot find module '%s' from '%s'", e.Specifier, e.From)
}

// Unwrap allows errors.Is(err, ErrModuleNotFound)
func (*ResolveError) Unwrap() error {
	return ErrModuleNotFound
}

// codeModuleNotFound is the `code` property carried by resolution errors thrown into JavaScript
const codeModuleNotFound = "MODULE_NOT_FOUND"
