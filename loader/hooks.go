package loader

import (
	"go.uber.org/zap"
)

// Request is one load request travelling through the pipeline.
// Hooks may attach values to it; they live exactly as long as the request.
type Request struct {
	// Specifier is the specifier that will be resolved, possibly rewritten by BeforeResolve hooks
	Specifier string
	// Original is the specifier as the caller passed it
	Original string
	// From is the requesting module, nil for requests issued from the host root
	From *Module
	// Filename is the resolved identity, empty until resolution succeeds
	Filename string

	values map[any]any
}

// SetValue attaches a value to the request
func (r *Request) SetValue(key, value any) {
	if r.values == nil {
		r.values = make(map[any]any)
	}
	r.values[key] = value
}

// Value returns a value attached with SetValue, or nil
func (r *Request) Value(key any) any {
	return r.values[key]
}

// DeleteValue removes a value attached with SetValue
func (r *Request) DeleteValue(key any) {
	delete(r.values, key)
}

// Hooks is a named set of pipeline callbacks. Nil callbacks are skipped.
type Hooks struct {
	Name string

	// BeforeResolve runs before the request's specifier is resolved.
	// Returning an error aborts the request with that error.
	BeforeResolve func(req *Request) error

	// OnCompile runs once per file, on the first load of that file, with the
	// request that caused the load. It returns the source text to compile.
	OnCompile func(req *Request, source string) (string, error)

	// AfterLoad runs after every request, including failed ones.
	AfterLoad func(req *Request, err error)
}

// Use appends hooks to the pipeline. Hooks run in registration order.
func (l *Loader) Use(h Hooks) {
	l.hooks = append(l.hooks, h)
	l.logger.Debug("loader hooks registered", zap.String("hooks", h.Name))
}

func (l *Loader) runBeforeResolve(req *Request) error {
	for _, h := range l.hooks {
		if h.BeforeResolve == nil {
			continue
		}
		if err := h.BeforeResolve(req); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) runOnCompile(req *Request, source string) (string, error) {
	for _, h := range l.hooks {
		if h.OnCompile == nil {
			continue
		}
		var err error
		source, err = h.OnCompile(req, source)
		if err != nil {
			return "", err
		}
	}
	return source, nil
}

func (l *Loader) runAfterLoad(req *Request, err error) {
	for _, h := range l.hooks {
		if h.AfterLoad != nil {
			h.AfterLoad(req, err)
		}
	}
}
