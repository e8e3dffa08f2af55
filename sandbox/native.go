package sandbox

import (
	"errors"

	"github.com/dop251/goja"
)

// Native builds the exports of the `vm` builtin module:
//
//	createContext(obj) -> obj
//	isContext(obj) -> boolean
//	runInContext(code, ctx, options?) -> undefined
//	runInNewContext(code, obj?, options?) -> undefined
//
// options is either a filename string or an object with a `filename` field.
func Native(vm *goja.Runtime) (goja.Value, error) {
	e, err := NewEvaluator(vm)
	if err != nil {
		return nil, err
	}

	exports := vm.NewObject()
	if err := exports.Set("createContext", e.jsCreateContext); err != nil {
		return nil, err
	}
	if err := exports.Set("isContext", e.jsIsContext); err != nil {
		return nil, err
	}
	if err := exports.Set("runInContext", e.jsRunInContext); err != nil {
		return nil, err
	}
	if err := exports.Set("runInNewContext", e.jsRunInNewContext); err != nil {
		return nil, err
	}
	return exports, nil
}

func (e *Evaluator) jsCreateContext(call goja.FunctionCall) goja.Value {
	arg := call.Argument(0)
	var obj *goja.Object
	if goja.IsUndefined(arg) {
		obj = e.vm.NewObject()
	} else {
		obj = e.objectArgument(arg, "contextObject")
	}

	ctx, err := e.CreateContext(obj)
	if err != nil {
		panic(e.vm.NewGoError(err))
	}
	return ctx
}

func (e *Evaluator) jsIsContext(call goja.FunctionCall) goja.Value {
	obj := e.objectArgument(call.Argument(0), "object")
	return e.vm.ToValue(e.IsContext(obj))
}

func (e *Evaluator) jsRunInContext(call goja.FunctionCall) goja.Value {
	code := call.Argument(0).String()
	ctx := e.objectArgument(call.Argument(1), "contextifiedObject")
	return e.run(code, ctx, filenameOption(call.Argument(2)))
}

func (e *Evaluator) jsRunInNewContext(call goja.FunctionCall) goja.Value {
	code := call.Argument(0).String()

	arg := call.Argument(1)
	var obj *goja.Object
	if goja.IsUndefined(arg) {
		obj = e.vm.NewObject()
	} else {
		obj = e.objectArgument(arg, "contextObject")
	}

	ctx, err := e.CreateContext(obj)
	if err != nil {
		panic(e.vm.NewGoError(err))
	}
	return e.run(code, ctx, filenameOption(call.Argument(2)))
}

func (e *Evaluator) run(code string, ctx *goja.Object, filename string) goja.Value {
	v, err := e.RunInContext(code, ctx, filename)
	if err != nil {
		e.throw(err)
	}
	return v
}

// throw rethrows into JavaScript; exceptions from the evaluated code keep their original value
func (e *Evaluator) throw(err error) {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		panic(ex.Value())
	}

	var syntaxErr *goja.CompilerSyntaxError
	if errors.As(err, &syntaxErr) {
		if ctor, ok := goja.AssertConstructor(e.vm.Get("SyntaxError")); ok {
			if obj, cerr := ctor(nil, e.vm.ToValue(syntaxErr.Error())); cerr == nil {
				panic(obj)
			}
		}
	}

	if errors.Is(err, ErrNotContext) {
		panic(e.vm.NewTypeError(err.Error()))
	}
	panic(e.vm.NewGoError(err))
}

func (e *Evaluator) objectArgument(v goja.Value, name string) *goja.Object {
	obj, ok := v.(*goja.Object)
	if !ok {
		panic(e.vm.NewTypeError("the \"" + name + "\" argument must be an object"))
	}
	return obj
}

func filenameOption(v goja.Value) string {
	const fallback = "evalmachine.<anonymous>"

	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return fallback
	}
	if obj, ok := v.(*goja.Object); ok {
		if f := obj.Get("filename"); f != nil && !goja.IsUndefined(f) {
			return f.String()
		}
		return fallback
	}
	return v.String()
}
