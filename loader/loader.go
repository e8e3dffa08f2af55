package loader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dop251/goja"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/isdmx/dissect/metrics"
	"github.com/isdmx/dissect/sandbox"
)

// Module wrapper, same parameter list as a CommonJS host
const (
	wrapperHead = "(function (exports, require, module, __filename, __dirname) {"
	wrapperTail = "\n})"
)

// Native builds the exports of a builtin module. It is called once per Loader.
type Native func(vm *goja.Runtime) (goja.Value, error)

// Loader is a CommonJS-style module host. It is not safe for concurrent use.
type Loader struct {
	vm      *goja.Runtime
	fs      afero.Fs
	logger  *zap.Logger
	metrics *metrics.Metrics

	root         string
	extensions   []string
	maxCallStack int

	natives       map[string]Native
	nativeExports map[string]goja.Value
	cache         map[string]*Module
	hooks         []Hooks

	main      *Module
	cacheView *goja.Object
}

// Option defines a functional option for Loader
type Option func(*Loader)

// WithFS sets the filesystem modules are read from
func WithFS(fs afero.Fs) Option {
	return func(l *Loader) {
		l.fs = fs
	}
}

// WithRoot sets the directory requests from the host root resolve against
func WithRoot(dir string) Option {
	return func(l *Loader) {
		l.root = dir
	}
}

// WithExtensions sets the extensions tried when a specifier names no file directly
func WithExtensions(exts ...string) Option {
	return func(l *Loader) {
		l.extensions = exts
	}
}

// WithMaxCallStackSize limits the JavaScript call stack depth
func WithMaxCallStackSize(n int) Option {
	return func(l *Loader) {
		l.maxCallStack = n
	}
}

// WithNative registers a builtin module
func WithNative(name string, native Native) Option {
	return func(l *Loader) {
		l.natives[name] = native
	}
}

// WithMetrics sets the collector for load counters
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loader) {
		l.metrics = m
	}
}

// DefaultExtensions are tried in order when resolving extensionless specifiers
var DefaultExtensions = []string{".js", ".json"}

// New creates a Loader with a fresh runtime
func New(logger *zap.Logger, opts ...Option) (*Loader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Loader{
		vm:            goja.New(),
		fs:            afero.NewOsFs(),
		logger:        logger,
		extensions:    DefaultExtensions,
		natives:       map[string]Native{"vm": sandbox.Native},
		nativeExports: make(map[string]goja.Value),
		cache:         make(map[string]*Module),
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to determine root directory: %w", err)
		}
		l.root = wd
	}
	root, err := filepath.Abs(l.root)
	if err != nil {
		return nil, fmt.Errorf("invalid root directory %s: %w", l.root, err)
	}
	l.root = root

	if l.maxCallStack > 0 {
		l.vm.SetMaxCallStackSize(l.maxCallStack)
	}

	if err := l.setupGlobals(); err != nil {
		return nil, fmt.Errorf("failed to set up globals: %w", err)
	}

	l.cacheView = l.vm.NewDynamicObject(&cacheView{l: l})
	l.main = l.newModule(filepath.Join(l.root, "[root]"), l.root, nil)

	return l, nil
}

// Runtime returns the runtime shared by every module of this loader
func (l *Loader) Runtime() *goja.Runtime {
	return l.vm
}

// Root returns the absolute root directory
func (l *Loader) Root() string {
	return l.root
}

// Main returns the pseudo module requests from the host root are issued from
func (l *Loader) Main() *Module {
	return l.main
}

// Require loads a module relative to the host root
func (l *Loader) Require(specifier string) (goja.Value, error) {
	return l.RequireFrom(specifier, nil)
}

// RequireFrom loads a module on behalf of from. A nil from means the host root.
func (l *Loader) RequireFrom(specifier string, from *Module) (exports goja.Value, err error) {
	req := &Request{Specifier: specifier, Original: specifier, From: from}
	defer func() {
		l.runAfterLoad(req, err)
	}()

	if err = l.runBeforeResolve(req); err != nil {
		return nil, err
	}

	id, err := l.Resolve(req.Specifier, from)
	if err != nil {
		l.metrics.ObserveFailure("resolve")
		return nil, err
	}
	req.Filename = id

	if native, ok := l.natives[id]; ok {
		return l.loadNative(id, native)
	}

	if mod, ok := l.cache[id]; ok {
		return mod.Exports(), nil
	}

	mod := l.newModule(id, filepath.Dir(id), from)
	l.cache[id] = mod

	if err = l.load(req, mod); err != nil {
		if l.cache[id] == mod {
			delete(l.cache, id)
		}
		return nil, err
	}
	parent := from
	if parent == nil {
		parent = l.main
	}
	parent.addChild(mod)

	mod.markLoaded()
	return mod.Exports(), nil
}

// RegisterNative adds or replaces a builtin module. Builtins take precedence over files.
func (l *Loader) RegisterNative(name string, native Native) {
	l.natives[name] = native
	delete(l.nativeExports, name)
}

// Cached returns the cached record for id
func (l *Loader) Cached(id string) (*Module, bool) {
	mod, ok := l.cache[id]
	return mod, ok
}

// Evict removes id from the module cache. It reports whether a record was removed.
func (l *Loader) Evict(id string) bool {
	if _, ok := l.cache[id]; !ok {
		return false
	}
	delete(l.cache, id)
	l.metrics.ObserveEviction()
	l.logger.Debug("module evicted from cache", zap.String("module", id))
	return true
}

func (l *Loader) load(req *Request, mod *Module) error {
	raw, err := afero.ReadFile(l.fs, mod.Filename)
	if err != nil {
		l.metrics.ObserveFailure("read")
		return fmt.Errorf("failed to read %s: %w", mod.Filename, err)
	}

	source, err := l.runOnCompile(req, string(raw))
	if err != nil {
		l.metrics.ObserveFailure("compile")
		return fmt.Errorf("compile hook failed for %s: %w", mod.Filename, err)
	}

	if filepath.Ext(mod.Filename) == ".json" {
		return l.loadJSON(mod, source)
	}
	return l.execute(mod, source)
}

func (l *Loader) execute(mod *Module, source string) error {
	l.logger.Debug("compiling module", zap.String("module", mod.ID))

	prg, err := goja.Compile(mod.Filename, wrapperHead+source+wrapperTail, false)
	if err != nil {
		l.metrics.ObserveFailure("compile")
		return fmt.Errorf("failed to compile %s: %w", mod.Filename, err)
	}

	wrapper, err := l.vm.RunProgram(prg)
	if err != nil {
		l.metrics.ObserveFailure("compile")
		return err
	}
	fn, ok := goja.AssertFunction(wrapper)
	if !ok {
		return fmt.Errorf("failed to compile %s: module wrapper is not a function", mod.Filename)
	}

	exports := mod.Exports()
	_, err = fn(exports,
		exports,
		mod.object.Get("require"),
		mod.object,
		l.vm.ToValue(mod.Filename),
		l.vm.ToValue(mod.Dir),
	)
	if err != nil {
		// Errors thrown by the module body propagate unchanged
		l.metrics.ObserveFailure("execute")
		return err
	}

	l.metrics.ObserveLoad("file")
	return nil
}

func (l *Loader) loadJSON(mod *Module, source string) error {
	parse, ok := goja.AssertFunction(l.vm.Get("JSON").ToObject(l.vm).Get("parse"))
	if !ok {
		return errors.New("JSON.parse is not available")
	}

	v, err := parse(goja.Undefined(), l.vm.ToValue(source))
	if err != nil {
		l.metrics.ObserveFailure("execute")
		return fmt.Errorf("failed to parse %s: %w", mod.Filename, err)
	}
	if err := mod.object.Set("exports", v); err != nil {
		return fmt.Errorf("failed to set exports of %s: %w", mod.Filename, err)
	}

	l.metrics.ObserveLoad("json")
	return nil
}

func (l *Loader) loadNative(id string, native Native) (goja.Value, error) {
	if exports, ok := l.nativeExports[id]; ok {
		return exports, nil
	}

	exports, err := native(l.vm)
	if err != nil {
		l.metrics.ObserveFailure("native")
		return nil, fmt.Errorf("failed to initialize builtin module %s: %w", id, err)
	}
	l.nativeExports[id] = exports
	l.metrics.ObserveLoad("native")
	return exports, nil
}

func (l *Loader) makeRequire(mod *Module) *goja.Object {
	require := l.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		specifier := call.Argument(0)
		if goja.IsUndefined(specifier) || goja.IsNull(specifier) || specifier.String() == "" {
			panic(l.vm.NewTypeError("the \"id\" argument must be a non-empty string"))
		}

		exports, err := l.RequireFrom(specifier.String(), mod)
		if err != nil {
			l.throw(err)
		}
		return exports
	}).(*goja.Object)

	_ = require.Set("resolve", func(call goja.FunctionCall) goja.Value {
		id, err := l.Resolve(call.Argument(0).String(), mod)
		if err != nil {
			l.throw(err)
		}
		return l.vm.ToValue(id)
	})
	_ = require.Set("cache", l.cacheView)

	return require
}

// throw rethrows err into JavaScript. Exceptions keep their original value.
func (l *Loader) throw(err error) {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		panic(ex.Value())
	}

	jsErr := l.vm.NewGoError(err)
	if errors.Is(err, ErrModuleNotFound) {
		_ = jsErr.Set("code", codeModuleNotFound)
	}
	panic(jsErr)
}
