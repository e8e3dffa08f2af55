package dissect

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/isdmx/dissect/loader"
	"github.com/isdmx/dissect/metrics"
)

const (
	// Marker is the specifier suffix that requests dissection
	Marker = ".dissect"
	// SourceExtension replaces Marker to obtain the real specifier
	SourceExtension = ".js"
	// NativeName is the builtin module exposing the configuration call to JavaScript
	NativeName = "dissect"
)

// ErrAlreadyInstalled is returned by Install when the engine is already bound to a loader
var ErrAlreadyInstalled = errors.New("engine is already installed")

// Engine intercepts a loader's pipeline and rewrites marker requests into introspectable modules
type Engine struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	opts    Options
	loader  *loader.Loader
}

// New creates an engine. Options apply on top of DefaultOptions.
func New(logger *zap.Logger, m *metrics.Metrics, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		logger:  logger,
		metrics: m,
		opts:    DefaultOptions(),
	}
	e.Configure(opts...)
	return e
}

// Install registers the engine's hooks and its builtin module into l
func (e *Engine) Install(l *loader.Loader) error {
	if e.loader != nil {
		return ErrAlreadyInstalled
	}
	e.loader = l

	l.Use(loader.Hooks{
		Name:          "dissect",
		BeforeResolve: e.classify,
		OnCompile:     e.rewrite,
		AfterLoad:     e.afterLoad,
	})
	l.RegisterNative(NativeName, e.native)

	e.logger.Debug("dissect engine installed",
		zap.String("root", l.Root()),
		zap.Bool("replace_const_with_var", e.opts.ReplaceConstWithVar),
		zap.Bool("clear_cache", e.opts.ClearCache),
		zap.String("lowering", string(e.opts.Lowering)))
	return nil
}

// Configure applies opts; keys not mentioned keep their current value
func (e *Engine) Configure(opts ...Option) {
	for _, opt := range opts {
		opt(&e.opts)
	}
}

// Options returns the current configuration
func (e *Engine) Options() Options {
	return e.opts
}

// Loader returns the loader the engine is installed in, or nil
func (e *Engine) Loader() *loader.Loader {
	return e.loader
}

// Load requires specifier in dissected form from the loader root and returns its introspection handle.
// A specifier without Marker is converted: "./a.js" and "./a" both load "./a.dissect".
// Any other extension is rejected since the dissected form always resolves to a .js file.
func (e *Engine) Load(specifier string) (*Handle, error) {
	if e.loader == nil {
		return nil, errors.New("engine is not installed")
	}
	base := strings.TrimSuffix(specifier, Marker)
	if ext := path.Ext(base); ext != "" && ext != SourceExtension {
		return nil, fmt.Errorf("cannot dissect %s: unsupported extension %q", specifier, ext)
	}
	specifier = strings.TrimSuffix(base, SourceExtension) + Marker

	exports, err := e.loader.Require(specifier)
	if err != nil {
		return nil, err
	}
	return Inspect(e.loader.Runtime(), exports)
}

// native builds the `dissect` builtin: a configuration function
// accepting { replaceConstWithVar, clearCache, lowering }.
func (e *Engine) native(vm *goja.Runtime) (goja.Value, error) {
	configure := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		arg := call.Argument(0)
		if goja.IsUndefined(arg) || goja.IsNull(arg) {
			return goja.Undefined()
		}
		obj, ok := arg.(*goja.Object)
		if !ok {
			panic(vm.NewTypeError("configuration must be an object"))
		}

		var opts []Option
		if v := obj.Get("replaceConstWithVar"); v != nil && !goja.IsUndefined(v) {
			opts = append(opts, WithReplaceConstWithVar(v.ToBoolean()))
		}
		if v := obj.Get("clearCache"); v != nil && !goja.IsUndefined(v) {
			opts = append(opts, WithClearCache(v.ToBoolean()))
		}
		if v := obj.Get("lowering"); v != nil && !goja.IsUndefined(v) {
			mode, err := ParseLowering(v.String())
			if err != nil {
				panic(vm.NewTypeError(err.Error()))
			}
			opts = append(opts, WithLowering(mode))
		}

		e.Configure(opts...)
		return goja.Undefined()
	}).(*goja.Object)

	if err := configure.Set("marker", Marker); err != nil {
		return nil, err
	}
	return configure, nil
}
