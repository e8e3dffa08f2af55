package sandbox

import (
	_ "embed"
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

//go:embed js/scope.js
var scopeSource string

// Context body wrapper. The source starts on the wrapper's first line so
// reported line numbers match the source file.
const (
	bodyHead = "(function () { with (this) {"
	bodyTail = "\n} })"
)

// ErrNotContext is returned when code is run in an object that was not passed through CreateContext
var ErrNotContext = errors.New("object is not a contextified sandbox")

// Evaluator runs source text inside isolated binding scopes of one runtime
type Evaluator struct {
	vm        *goja.Runtime
	makeScope goja.Callable
	marker    *goja.Symbol
}

// NewEvaluator prepares an evaluator for vm
func NewEvaluator(vm *goja.Runtime) (*Evaluator, error) {
	v, err := vm.RunScript("sandbox/scope.js", scopeSource)
	if err != nil {
		return nil, fmt.Errorf("failed to compile scope helper: %w", err)
	}
	makeScope, ok := goja.AssertFunction(v)
	if !ok {
		return nil, errors.New("scope helper is not a function")
	}

	return &Evaluator{
		vm:        vm,
		makeScope: makeScope,
		marker:    goja.NewSymbol("sandbox.context"),
	}, nil
}

// CreateContext marks obj as a sandbox context and returns it.
// Its own properties become the top-level bindings of code run in it.
func (e *Evaluator) CreateContext(obj *goja.Object) (*goja.Object, error) {
	if err := obj.DefineDataPropertySymbol(e.marker, e.vm.ToValue(true), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE); err != nil {
		return nil, fmt.Errorf("failed to contextify object: %w", err)
	}
	return obj, nil
}

// IsContext reports whether obj went through CreateContext
func (e *Evaluator) IsContext(obj *goja.Object) bool {
	v := obj.GetSymbol(e.marker)
	return v != nil && v.ToBoolean()
}

// RunInContext executes code with ctx as its binding scope.
//
// Top-level var initializers and assignments to undeclared names become own
// properties of ctx. let, const, class and function declarations stay scoped
// to the code. Unresolved reads fall through ctx's prototype chain and yield
// undefined when nothing defines the name. Code runs in sloppy mode, so a
// leading 'use strict' directive has no effect.
//
// Exceptions thrown by code are returned as *goja.Exception carrying the
// original value.
func (e *Evaluator) RunInContext(code string, ctx *goja.Object, filename string) (goja.Value, error) {
	if !e.IsContext(ctx) {
		return nil, ErrNotContext
	}

	scope, err := e.makeScope(goja.Undefined(), ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create scope: %w", err)
	}

	prg, err := goja.Compile(filename, bodyHead+code+bodyTail, false)
	if err != nil {
		return nil, err
	}
	body, err := e.vm.RunProgram(prg)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(body)
	if !ok {
		return nil, errors.New("compiled body is not a function")
	}

	return fn(scope)
}
