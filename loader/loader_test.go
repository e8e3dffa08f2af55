package loader

import (
	"errors"
	"testing"

	"github.com/dop251/goja"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newTestLoader(t *testing.T, files map[string]string, opts ...Option) *Loader {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
	}

	l, err := New(zaptest.NewLogger(t), append([]Option{WithFS(fs), WithRoot("/project")}, opts...)...)
	require.NoError(t, err)
	return l
}

func TestResolve(t *testing.T) {
	l := newTestLoader(t, map[string]string{
		"/project/a.js":                           "",
		"/project/b.json":                         "{}",
		"/project/exact.txt":                      "",
		"/project/dir/index.js":                   "",
		"/project/pkg/package.json":               `{"main": "lib/entry"}`,
		"/project/pkg/lib/entry.js":               "",
		"/project/broken/package.json":            `{not json`,
		"/project/broken/index.js":                "",
		"/project/node_modules/dep/index.js":      "",
		"/node_modules/top/index.js":              "",
		"/project/sub/node_modules/near/index.js": "",
	})

	tests := []struct {
		name      string
		specifier string
		want      string
	}{
		{"exact file", "./exact.txt", "/project/exact.txt"},
		{"js extension", "./a", "/project/a.js"},
		{"json extension", "./b", "/project/b.json"},
		{"directory index", "./dir", "/project/dir/index.js"},
		{"package main", "./pkg", "/project/pkg/lib/entry.js"},
		{"malformed package.json", "./broken", "/project/broken/index.js"},
		{"absolute", "/project/a.js", "/project/a.js"},
		{"node_modules", "dep", "/project/node_modules/dep/index.js"},
		{"node_modules walking up", "top", "/node_modules/top/index.js"},
		{"builtin", "vm", "vm"},
		{"builtin with prefix", "node:vm", "vm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := l.Resolve(tt.specifier, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("RelativeToRequestingModule", func(t *testing.T) {
		from := l.newModule("/project/sub/x.js", "/project/sub", nil)
		got, err := l.Resolve("near", from)
		require.NoError(t, err)
		assert.Equal(t, "/project/sub/node_modules/near/index.js", got)

		got, err = l.Resolve("../a", from)
		require.NoError(t, err)
		assert.Equal(t, "/project/a.js", got)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := l.Resolve("./missing", nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrModuleNotFound)

		var resolveErr *ResolveError
		require.ErrorAs(t, err, &resolveErr)
		assert.Equal(t, "./missing", resolveErr.Specifier)
		assert.Equal(t, "/project", resolveErr.From)
		assert.Contains(t, err.Error(), "cannot find module './missing' from '/project'")

		_, err = l.Resolve("nope", nil)
		assert.ErrorIs(t, err, ErrModuleNotFound)
	})
}

func TestRequire(t *testing.T) {
	t.Run("ModuleBindings", func(t *testing.T) {
		l := newTestLoader(t, map[string]string{
			"/project/lib/a.js": `
				module.exports = {
					filename: __filename,
					dirname: __dirname,
					sameExports: exports === module.exports,
					thisIsExports: this === exports,
					id: module.id,
					hasGlobal: global === globalThis,
				};`,
		})

		v, err := l.Require("./lib/a")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"filename":      "/project/lib/a.js",
			"dirname":       "/project/lib",
			"sameExports":   true,
			"thisIsExports": true,
			"id":            "/project/lib/a.js",
			"hasGlobal":     true,
		}, v.Export())
	})

	t.Run("NestedRelativeRequire", func(t *testing.T) {
		l := newTestLoader(t, map[string]string{
			"/project/main.js":     "module.exports = require('./lib/one') + 1;",
			"/project/lib/one.js":  "module.exports = require('./two') * 10;",
			"/project/lib/two.js":  "module.exports = 2;",
			"/project/data.json":   `{"answer": 42}`,
			"/project/usesJSON.js": "module.exports = require('./data.json').answer;",
		})

		v, err := l.Require("./main")
		require.NoError(t, err)
		assert.Equal(t, int64(21), v.ToInteger())

		v, err = l.Require("./usesJSON")
		require.NoError(t, err)
		assert.Equal(t, int64(42), v.ToInteger())
	})

	t.Run("Cache", func(t *testing.T) {
		l := newTestLoader(t, map[string]string{
			"/project/counter.js": "globalThis.runs = (globalThis.runs || 0) + 1; module.exports = {};",
		})

		first, err := l.Require("./counter")
		require.NoError(t, err)
		second, err := l.Require("./counter.js")
		require.NoError(t, err)
		assert.True(t, first.SameAs(second))
		assert.Equal(t, int64(1), l.Runtime().Get("runs").ToInteger())

		mod, ok := l.Cached("/project/counter.js")
		require.True(t, ok)
		assert.True(t, mod.Loaded)

		assert.True(t, l.Evict("/project/counter.js"))
		assert.False(t, l.Evict("/project/counter.js"))

		third, err := l.Require("./counter")
		require.NoError(t, err)
		assert.False(t, first.SameAs(third))
		assert.Equal(t, int64(2), l.Runtime().Get("runs").ToInteger())
	})

	t.Run("Children", func(t *testing.T) {
		l := newTestLoader(t, map[string]string{
			"/project/main.js": "require('./a'); require('./b'); require('./a'); module.exports = module.children.length;",
			"/project/a.js":    "",
			"/project/b.js":    "",
		})

		v, err := l.Require("./main")
		require.NoError(t, err)
		assert.Equal(t, int64(2), v.ToInteger())

		mod, ok := l.Cached("/project/main.js")
		require.True(t, ok)
		require.Len(t, mod.Children, 2)
		assert.Equal(t, "/project/a.js", mod.Children[0].ID)
		assert.Equal(t, "/project/b.js", mod.Children[1].ID)
		assert.Same(t, mod, mod.Children[0].Parent)

		require.Len(t, l.Main().Children, 1)
		assert.Same(t, mod, l.Main().Children[0])
	})

	t.Run("RequireCacheView", func(t *testing.T) {
		l := newTestLoader(t, map[string]string{
			"/project/a.js": "module.exports = 1;",
			"/project/main.js": `
				require('./a');
				var id = require.resolve('./a');
				var before = Object.keys(require.cache).indexOf(id) >= 0;
				delete require.cache[id];
				module.exports = { before: before, after: id in require.cache };`,
		})

		v, err := l.Require("./main")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"before": true, "after": false}, v.Export())
	})

	t.Run("Cycle", func(t *testing.T) {
		l := newTestLoader(t, map[string]string{
			"/project/a.js": "exports.early = true; var b = require('./b'); exports.sawB = b.done;",
			"/project/b.js": "var a = require('./a'); exports.sawEarly = a.early; exports.done = true;",
		})

		v, err := l.Require("./a")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"early": true, "sawB": true}, v.Export())

		b, err := l.Require("./b")
		require.NoError(t, err)
		assert.Equal(t, true, b.ToObject(l.Runtime()).Get("sawEarly").Export())
	})

	t.Run("FailedLoadLeavesNoCacheEntry", func(t *testing.T) {
		l := newTestLoader(t, map[string]string{
			"/project/boom.js":   "throw new RangeError('boom');",
			"/project/syntax.js": "module.exports = {",
		})

		_, err := l.Require("./boom")
		require.Error(t, err)
		var ex *goja.Exception
		require.ErrorAs(t, err, &ex)
		assert.Contains(t, ex.Value().String(), "RangeError: boom")
		_, ok := l.Cached("/project/boom.js")
		assert.False(t, ok)

		_, err = l.Require("./syntax")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to compile")
		_, ok = l.Cached("/project/syntax.js")
		assert.False(t, ok)
	})

	t.Run("MissingModuleInJavaScript", func(t *testing.T) {
		l := newTestLoader(t, map[string]string{
			"/project/main.js": `
				try {
					require('./missing');
					module.exports = 'loaded';
				} catch (e) {
					module.exports = e.code;
				}`,
		})

		v, err := l.Require("./main")
		require.NoError(t, err)
		assert.Equal(t, "MODULE_NOT_FOUND", v.String())
	})

	t.Run("EmptySpecifier", func(t *testing.T) {
		l := newTestLoader(t, map[string]string{
			"/project/main.js": "try { require(''); } catch (e) { module.exports = e instanceof TypeError; }",
		})

		v, err := l.Require("./main")
		require.NoError(t, err)
		assert.True(t, v.ToBoolean())
	})

	t.Run("Native", func(t *testing.T) {
		calls := 0
		l := newTestLoader(t, map[string]string{
			"/project/main.js": "module.exports = require('answer').value + require('node:answer').value;",
		}, WithNative("answer", func(vm *goja.Runtime) (goja.Value, error) {
			calls++
			obj := vm.NewObject()
			return obj, obj.Set("value", 21)
		}))

		v, err := l.Require("./main")
		require.NoError(t, err)
		assert.Equal(t, int64(42), v.ToInteger())
		assert.Equal(t, 1, calls)
	})

	t.Run("NativeFailure", func(t *testing.T) {
		l := newTestLoader(t, nil)
		l.RegisterNative("broken", func(*goja.Runtime) (goja.Value, error) {
			return nil, errors.New("no backend")
		})

		_, err := l.Require("broken")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize builtin module broken")
	})
}

func TestHooks(t *testing.T) {
	t.Run("OrderAndRewrite", func(t *testing.T) {
		l := newTestLoader(t, map[string]string{
			"/project/real.js": "module.exports = 'SOURCE';",
		})

		var events []string
		l.Use(Hooks{
			Name: "first",
			BeforeResolve: func(req *Request) error {
				events = append(events, "first.before:"+req.Specifier)
				if req.Specifier == "./alias" {
					req.Specifier = "./real"
				}
				return nil
			},
			OnCompile: func(req *Request, source string) (string, error) {
				events = append(events, "first.compile:"+req.Filename)
				return source + " module.exports += '-first';", nil
			},
			AfterLoad: func(req *Request, err error) {
				events = append(events, "first.after:"+req.Original)
			},
		})
		l.Use(Hooks{
			Name: "second",
			OnCompile: func(_ *Request, source string) (string, error) {
				events = append(events, "second.compile")
				return source + " module.exports += '-second';", nil
			},
			AfterLoad: func(_ *Request, err error) {
				events = append(events, "second.after")
			},
		})

		v, err := l.Require("./alias")
		require.NoError(t, err)
		assert.Equal(t, "SOURCE-first-second", v.String())
		assert.Equal(t, []string{
			"first.before:./alias",
			"first.compile:/project/real.js",
			"second.compile",
			"first.after:./alias",
			"second.after",
		}, events)

		// Cached: no compile step
		events = nil
		_, err = l.Require("./real")
		require.NoError(t, err)
		assert.Equal(t, []string{"first.before:./real", "first.after:./real", "second.after"}, events)
	})

	t.Run("AfterLoadSeesFailures", func(t *testing.T) {
		l := newTestLoader(t, map[string]string{
			"/project/boom.js": "throw new Error('boom');",
		})

		var failures []error
		l.Use(Hooks{
			Name: "observer",
			AfterLoad: func(_ *Request, err error) {
				failures = append(failures, err)
			},
		})

		_, err := l.Require("./missing")
		require.Error(t, err)
		_, err = l.Require("./boom")
		require.Error(t, err)

		require.Len(t, failures, 2)
		assert.ErrorIs(t, failures[0], ErrModuleNotFound)
		assert.Error(t, failures[1])
	})

	t.Run("BeforeResolveError", func(t *testing.T) {
		l := newTestLoader(t, map[string]string{"/project/a.js": ""})
		denied := errors.New("denied")
		l.Use(Hooks{
			Name:          "deny",
			BeforeResolve: func(*Request) error { return denied },
		})

		_, err := l.Require("./a")
		assert.ErrorIs(t, err, denied)
	})

	t.Run("CompileError", func(t *testing.T) {
		l := newTestLoader(t, map[string]string{"/project/a.js": ""})
		l.Use(Hooks{
			Name: "fail",
			OnCompile: func(*Request, string) (string, error) {
				return "", errors.New("cannot transform")
			},
		})

		_, err := l.Require("./a")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "compile hook failed for /project/a.js")
		_, ok := l.Cached("/project/a.js")
		assert.False(t, ok)
	})

	t.Run("RequestValues", func(t *testing.T) {
		req := &Request{}
		assert.Nil(t, req.Value("k"))
		req.SetValue("k", 1)
		assert.Equal(t, 1, req.Value("k"))
		req.DeleteValue("k")
		assert.Nil(t, req.Value("k"))
	})
}

func TestConsole(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/project/log.js", []byte(`
		console.log('hello', 42);
		console.warn('careful');
		console.debug('details');
	`), 0o644))

	l, err := New(zap.New(core), WithFS(fs), WithRoot("/project"))
	require.NoError(t, err)
	_, err = l.Require("./log")
	require.NoError(t, err)

	entries := logs.FilterField(zap.String("source", "console.log")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "hello 42", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)

	warns := logs.FilterField(zap.String("source", "console.warn")).All()
	require.Len(t, warns, 1)
	assert.Equal(t, zapcore.WarnLevel, warns[0].Level)

	assert.Equal(t, 1, logs.FilterField(zap.String("source", "console.debug")).Len())
}

func TestMaxCallStackSize(t *testing.T) {
	l := newTestLoader(t, map[string]string{
		"/project/deep.js": "function f(n) { return n === 0 ? 0 : 1 + f(n - 1); } module.exports = f(1000);",
	}, WithMaxCallStackSize(100))

	_, err := l.Require("./deep")
	require.Error(t, err)
}
