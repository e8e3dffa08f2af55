package dissect

import (
	"path/filepath"
	"testing"

	"github.com/dop251/goja"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/dissect/loader"
	"github.com/isdmx/dissect/metrics"
)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *loader.Loader) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	root, err := filepath.Abs("testdata")
	require.NoError(t, err)

	l, err := loader.New(logger, loader.WithRoot(root))
	require.NoError(t, err)

	e := New(logger, nil, opts...)
	require.NoError(t, e.Install(l))
	return e, l
}

func absent(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v)
}

func fixture(t *testing.T, name string) string {
	t.Helper()
	p, err := filepath.Abs(filepath.Join("testdata", name))
	require.NoError(t, err)
	return p
}

func TestDissectedSample(t *testing.T) {
	for _, replace := range []bool{false, true} {
		name := "ReplaceConstWithVarOff"
		if replace {
			name = "ReplaceConstWithVarOn"
		}

		t.Run(name, func(t *testing.T) {
			e, l := newTestEngine(t, WithReplaceConstWithVar(replace))
			vm := l.Runtime()

			h, err := e.Load("./sample.dissect")
			require.NoError(t, err)

			t.Run("ExportsKeepExportedKeys", func(t *testing.T) {
				v, err := h.Call("hello")
				require.NoError(t, err)
				assert.Equal(t, "World!", v.String())
				assert.Equal(t, int64(49), h.Exports().Get("number").ToInteger())
				assert.ElementsMatch(t, []string{"hello", "number", "consoleTest", "returnNonExistent"}, h.Keys())
			})

			t.Run("ExportsCarryAccessors", func(t *testing.T) {
				_, ok := goja.AssertFunction(h.Exports().Get(GetterName))
				assert.True(t, ok)
				_, ok = goja.AssertFunction(h.Exports().Get(SetterName))
				assert.True(t, ok)
			})

			t.Run("GetAndSetFileScopedVariables", func(t *testing.T) {
				v, err := h.Get("fileLevelVar")
				require.NoError(t, err)
				assert.Equal(t, map[string]any{"key": "value"}, v.Export())

				v, err = h.Set("fileLevelVar", -1)
				require.NoError(t, err)
				assert.Equal(t, int64(-1), v.ToInteger())

				v, err = h.Get("fileLevelVar")
				require.NoError(t, err)
				assert.Equal(t, int64(-1), v.ToInteger())
			})

			t.Run("BlockScopedDeclarations", func(t *testing.T) {
				notExposed, err := h.Get("notExposed")
				require.NoError(t, err)
				notExposedAgain, err := h.Get("notExposedAgain")
				require.NoError(t, err)

				if !replace {
					assert.True(t, absent(notExposed))
					assert.True(t, absent(notExposedAgain))
					return
				}
				_, ok := goja.AssertFunction(notExposed)
				assert.True(t, ok)
				assert.Equal(t, int64(34), notExposedAgain.ToInteger())
			})

			t.Run("InjectedVariablesAreSeenByModuleCode", func(t *testing.T) {
				v, err := h.Get("nonExistent")
				require.NoError(t, err)
				assert.True(t, absent(v))

				v, err = h.Set("nonExistent", 3)
				require.NoError(t, err)
				assert.Equal(t, int64(3), v.ToInteger())

				v, err = h.Get("nonExistent")
				require.NoError(t, err)
				assert.Equal(t, int64(3), v.ToInteger())

				v, err = h.Call("returnNonExistent")
				require.NoError(t, err)
				assert.Equal(t, int64(3), v.ToInteger())
			})

			t.Run("ModuleCanWriteToGlobal", func(t *testing.T) {
				global := vm.GlobalObject()
				assert.True(t, global.Get("thisIsSetBySample").ToBoolean())
				assert.True(t, global.Get("anotherOneSetBySample").ToBoolean())
			})

			t.Run("GlobalIsNotTainted", func(t *testing.T) {
				global := vm.GlobalObject()
				assert.True(t, absent(global.Get("fileLevelVar")))
				assert.True(t, absent(global.Get("notExposed")))
				assert.True(t, absent(global.Get("nonExistent")))
			})

			t.Run("StubbingGlobalStaysLocal", func(t *testing.T) {
				dummy, err := vm.RunString("({ log: function () { return 3; } })")
				require.NoError(t, err)
				realConsole := vm.Get("console")

				_, err = h.Set("console", dummy)
				require.NoError(t, err)

				v, err := h.Get("console")
				require.NoError(t, err)
				assert.True(t, v.SameAs(dummy))

				v, err = h.Call("consoleTest", 4)
				require.NoError(t, err)
				assert.Equal(t, int64(3), v.ToInteger())
				assert.True(t, vm.Get("console").SameAs(realConsole))
			})

			t.Run("GetIgnoresGlobalKeys", func(t *testing.T) {
				require.NoError(t, vm.Set("thisIsInGlobal", "value"))
				v, err := h.Get("thisIsInGlobal")
				require.NoError(t, err)
				assert.True(t, absent(v))
			})

			t.Run("DissectedModulesAreCached", func(t *testing.T) {
				again, err := l.Require("./sample.dissect")
				require.NoError(t, err)
				assert.True(t, again.SameAs(h.Exports()))

				plain, err := l.Require("./sample.js")
				require.NoError(t, err)
				assert.True(t, plain.SameAs(h.Exports()))
			})

			t.Run("MissingModulesFailAsUsual", func(t *testing.T) {
				_, err := l.Require("./same.dissect")
				require.Error(t, err)
				assert.ErrorIs(t, err, loader.ErrModuleNotFound)

				_, err = l.Require("./saple.js")
				require.Error(t, err)
				assert.ErrorIs(t, err, loader.ErrModuleNotFound)
			})
		})
	}
}

func TestMissingTargetDoesNotLeak(t *testing.T) {
	e, l := newTestEngine(t)

	_, err := e.Load("./same.dissect")
	require.Error(t, err)

	// The next ordinary load must compile unmodified
	exports, err := l.Require("./sample.js")
	require.NoError(t, err)
	_, err = Inspect(l.Runtime(), exports)
	assert.ErrorIs(t, err, ErrNotDissected)

	// and an unrelated marker load is still rewritten
	h, err := e.Load("./inner.dissect")
	require.NoError(t, err)
	v, err := h.Get("innerValue")
	require.NoError(t, err)
	assert.Equal(t, "inner", v.String())
}

func TestDependenciesLoadUndissected(t *testing.T) {
	e, l := newTestEngine(t)

	h, err := e.Load("./uses_helper.dissect")
	require.NoError(t, err)
	v, err := h.Call("describe")
	require.NoError(t, err)
	assert.Equal(t, "helper:42", v.String())

	for _, specifier := range []string{"helper", "./data.json"} {
		exports, err := l.Require(specifier)
		require.NoError(t, err)
		_, err = Inspect(l.Runtime(), exports)
		assert.ErrorIs(t, err, ErrNotDissected, specifier)
	}

	helper, err := h.Get("helper")
	require.NoError(t, err)
	_, err = Inspect(l.Runtime(), helper)
	assert.ErrorIs(t, err, ErrNotDissected)
}

func TestFunctionDeclarations(t *testing.T) {
	for _, replace := range []bool{false, true} {
		name := "ReplaceConstWithVarOff"
		if replace {
			name = "ReplaceConstWithVarOn"
		}

		t.Run(name, func(t *testing.T) {
			e, l := newTestEngine(t, WithReplaceConstWithVar(replace))
			vm := l.Runtime()

			h, err := e.Load("./functions.dissect")
			require.NoError(t, err)

			t.Run("GetReturnsDeclarations", func(t *testing.T) {
				for _, fn := range []string{"helper", "topLevelFn", "count", "early"} {
					v, err := h.Get(fn)
					require.NoError(t, err)
					_, ok := goja.AssertFunction(v)
					assert.True(t, ok, fn)
				}
			})

			t.Run("DeclarationsAreHoisted", func(t *testing.T) {
				assert.Equal(t, "hoisted", h.Exports().Get("early").String())
				assert.Equal(t, "helper", h.Exports().Get("helperName").String())
			})

			t.Run("SetStubsDeclarations", func(t *testing.T) {
				v, err := h.Call("run")
				require.NoError(t, err)
				assert.Equal(t, "real", v.String())

				original, err := h.Get("helper")
				require.NoError(t, err)

				stub, err := vm.RunString("(function () { return 'stub'; })")
				require.NoError(t, err)
				_, err = h.Set("helper", stub)
				require.NoError(t, err)

				v, err = h.Call("run")
				require.NoError(t, err)
				assert.Equal(t, "stub", v.String())

				_, err = h.Set("helper", original)
				require.NoError(t, err)
				v, err = h.Call("run")
				require.NoError(t, err)
				assert.Equal(t, "real", v.String())
			})

			t.Run("DeclarationsShareContextState", func(t *testing.T) {
				_, err := h.Set("calls", 10)
				require.NoError(t, err)
				v, err := h.Call("tick")
				require.NoError(t, err)
				assert.Equal(t, int64(11), v.ToInteger())

				v, err = h.Get("calls")
				require.NoError(t, err)
				assert.Equal(t, int64(11), v.ToInteger())
			})

			t.Run("GlobalIsNotTainted", func(t *testing.T) {
				assert.True(t, absent(vm.GlobalObject().Get("helper")))
				assert.True(t, absent(vm.GlobalObject().Get("topLevelFn")))
			})
		})
	}
}

func TestThrowingModule(t *testing.T) {
	e, l := newTestEngine(t)

	_, err := e.Load("./throws.dissect")
	require.Error(t, err)

	var ex *goja.Exception
	require.ErrorAs(t, err, &ex)
	assert.Contains(t, ex.Value().String(), "TypeError: thrown by module")

	_, cached := l.Cached(fixture(t, "throws.js"))
	assert.False(t, cached)

	exports, err := l.Require("./primitive_sample.js")
	require.NoError(t, err)
	assert.Equal(t, int64(42), exports.ToInteger())
}

func TestNonExtensibleExports(t *testing.T) {
	t.Run("Primitive", func(t *testing.T) {
		e, _ := newTestEngine(t)

		h, err := e.Load("./primitive_sample")
		require.NoError(t, err)
		assert.Equal(t, int64(42), h.Exports().Get(WrapperField).ToInteger())
		assert.Equal(t, []string{WrapperField}, h.Keys())

		v, err := h.Get("hidden")
		require.NoError(t, err)
		assert.Equal(t, "inside", v.String())
	})

	t.Run("Frozen", func(t *testing.T) {
		e, _ := newTestEngine(t)

		h, err := e.Load("./frozen_sample.js")
		require.NoError(t, err)
		inner := h.Exports().Get(WrapperField).ToObject(h.Runtime())
		assert.Equal(t, "frozen", inner.Get("name").String())

		v, err := h.Get("state")
		require.NoError(t, err)
		assert.Equal(t, "initial", v.String())
	})
}

func TestClearCache(t *testing.T) {
	e, l := newTestEngine(t, WithClearCache(true))

	first, err := e.Load("./sample.dissect")
	require.NoError(t, err)
	_, cached := l.Cached(fixture(t, "sample.js"))
	assert.False(t, cached)

	second, err := e.Load("./sample.dissect")
	require.NoError(t, err)
	assert.False(t, first.Exports().SameAs(second.Exports()))

	_, err = first.Set("fileLevelVar", "changed")
	require.NoError(t, err)
	v, err := second.Get("fileLevelVar")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"key": "value"}, v.Export())
}

func TestNestedDissection(t *testing.T) {
	e, _ := newTestEngine(t)

	h, err := e.Load("./outer.dissect")
	require.NoError(t, err)

	v, err := h.Get("outerValue")
	require.NoError(t, err)
	assert.Equal(t, "outer", v.String())

	v, err = h.Call("innerValue")
	require.NoError(t, err)
	assert.Equal(t, "inner", v.String())

	inner, err := Inspect(h.Runtime(), h.Exports().Get("inner"))
	require.NoError(t, err)
	v, err = inner.Get("innerValue")
	require.NoError(t, err)
	assert.Equal(t, "inner", v.String())
}

func TestShebang(t *testing.T) {
	e, _ := newTestEngine(t)

	h, err := e.Load("./shebang.js")
	require.NoError(t, err)
	v, err := h.Get("interpreted")
	require.NoError(t, err)
	assert.True(t, v.ToBoolean())
}

func TestLoweringModes(t *testing.T) {
	t.Run("Lexical", func(t *testing.T) {
		e, _ := newTestEngine(t, WithReplaceConstWithVar(true))

		h, err := e.Load("./literals.dissect")
		require.NoError(t, err)

		exports := h.Exports()
		assert.Equal(t, "const kept in strings; let too", exports.Get("message").String())
		assert.Equal(t, "const let  inside", exports.Get("template").String())
		assert.Equal(t, int64(3), exports.Get("propertyNames").ToInteger())
		assert.Equal(t, int64(2), exports.Get("matches").ToInteger())

		v, err := h.Get("message")
		require.NoError(t, err)
		assert.Equal(t, "const kept in strings; let too", v.String())
	})

	t.Run("Textual", func(t *testing.T) {
		e, _ := newTestEngine(t, WithReplaceConstWithVar(true), WithLowering(LoweringTextual))

		h, err := e.Load("./literals.dissect")
		require.NoError(t, err)

		// Textual lowering also rewrites string contents
		assert.Equal(t, "var kept in strings; var too", h.Exports().Get("message").String())

		v, err := h.Get("template")
		require.NoError(t, err)
		assert.False(t, absent(v))
	})
}

func TestConfigureFromJavaScript(t *testing.T) {
	e, l := newTestEngine(t)

	exports, err := l.Require("./configure.js")
	require.NoError(t, err)
	assert.True(t, e.Options().ReplaceConstWithVar)
	assert.False(t, e.Options().ClearCache)

	h, err := Inspect(l.Runtime(), exports)
	require.NoError(t, err)
	v, err := h.Get("lowered")
	require.NoError(t, err)
	assert.Equal(t, "visible", v.String())

	t.Run("NoArgumentsIsNoop", func(t *testing.T) {
		configure, err := l.Require(NativeName)
		require.NoError(t, err)
		fn, ok := goja.AssertFunction(configure)
		require.True(t, ok)

		_, err = fn(goja.Undefined())
		require.NoError(t, err)
		assert.True(t, e.Options().ReplaceConstWithVar)
		assert.Equal(t, LoweringLexical, e.Options().Lowering)
	})

	t.Run("RejectsNonObjects", func(t *testing.T) {
		configure, err := l.Require(NativeName)
		require.NoError(t, err)
		fn, _ := goja.AssertFunction(configure)

		_, err = fn(goja.Undefined(), l.Runtime().ToValue(5))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "TypeError")
	})

	t.Run("RejectsUnknownLowering", func(t *testing.T) {
		configure, err := l.Require(NativeName)
		require.NoError(t, err)
		fn, _ := goja.AssertFunction(configure)

		arg, err := l.Runtime().RunString("({ lowering: 'regex' })")
		require.NoError(t, err)
		_, err = fn(goja.Undefined(), arg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid lowering mode")
	})
}

func TestEngineLifecycle(t *testing.T) {
	e, l := newTestEngine(t)
	assert.Same(t, l, e.Loader())
	assert.ErrorIs(t, e.Install(l), ErrAlreadyInstalled)

	_, err := New(nil, nil).Load("./sample.js")
	require.Error(t, err)
}

func TestLoadRejectsForeignExtensions(t *testing.T) {
	e, _ := newTestEngine(t)

	for _, specifier := range []string{"./a.mjs", "./data.json", "./a.mjs.dissect", "./a.ts"} {
		t.Run(specifier, func(t *testing.T) {
			_, err := e.Load(specifier)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "unsupported extension")
		})
	}

	for _, specifier := range []string{"./sample", "./sample.js", "./sample.dissect"} {
		t.Run(specifier, func(t *testing.T) {
			_, err := e.Load(specifier)
			assert.NoError(t, err)
		})
	}
}

func TestDissectionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	logger := zaptest.NewLogger(t)

	root, err := filepath.Abs("testdata")
	require.NoError(t, err)
	l, err := loader.New(logger, loader.WithRoot(root), loader.WithMetrics(m))
	require.NoError(t, err)
	e := New(logger, m, WithClearCache(true))
	require.NoError(t, e.Install(l))

	_, err = e.Load("./inner.js")
	require.NoError(t, err)
	_, err = e.Load("./inner.js")
	require.NoError(t, err)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Dissections))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CacheEvictions))
}
