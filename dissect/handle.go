package dissect

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

// ErrNotDissected is returned by Inspect for exports that carry no introspection functions
var ErrNotDissected = errors.New("exports were not produced by a dissected load")

// Handle is the Go side of a dissected module's introspection interface.
// Like the runtime it belongs to, it must not be used from several goroutines at once.
type Handle struct {
	vm      *goja.Runtime
	exports *goja.Object
	get     goja.Callable
	set     goja.Callable
}

// Inspect wraps the exports of a dissected module
func Inspect(vm *goja.Runtime, exports goja.Value) (*Handle, error) {
	obj, ok := exports.(*goja.Object)
	if !ok {
		return nil, ErrNotDissected
	}
	get, ok := goja.AssertFunction(obj.Get(GetterName))
	if !ok {
		return nil, ErrNotDissected
	}
	set, ok := goja.AssertFunction(obj.Get(SetterName))
	if !ok {
		return nil, ErrNotDissected
	}

	return &Handle{vm: vm, exports: obj, get: get, set: set}, nil
}

// Exports returns the module's exports object
func (h *Handle) Exports() *goja.Object {
	return h.exports
}

// Runtime returns the runtime the module lives in
func (h *Handle) Runtime() *goja.Runtime {
	return h.vm
}

// Get reads a top-level binding of the module. Names the module's context does
// not own, including globals, read as undefined.
func (h *Handle) Get(name string) (goja.Value, error) {
	v, err := h.get(h.exports, h.vm.ToValue(name))
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", name, err)
	}
	return v, nil
}

// Set assigns a top-level binding of the module and returns the stored value.
// Code of the module that reads the binding afterwards observes value.
func (h *Handle) Set(name string, value any) (goja.Value, error) {
	v, err := h.set(h.exports, h.vm.ToValue(name), h.vm.ToValue(value))
	if err != nil {
		return nil, fmt.Errorf("failed to set %s: %w", name, err)
	}
	return v, nil
}

// Call invokes the exported function name with exports as `this`
func (h *Handle) Call(name string, args ...any) (goja.Value, error) {
	fn, ok := goja.AssertFunction(h.exports.Get(name))
	if !ok {
		return nil, fmt.Errorf("export %s is not a function", name)
	}

	values := make([]goja.Value, 0, len(args))
	for _, arg := range args {
		values = append(values, h.vm.ToValue(arg))
	}
	return fn(h.exports, values...)
}

// Keys lists the module's own export names, without the introspection functions
func (h *Handle) Keys() []string {
	keys := h.exports.Keys()
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == GetterName || k == SetterName {
			continue
		}
		out = append(out, k)
	}
	return out
}
