// Package dissect loads JavaScript modules in an introspectable form.
//
// A load request whose specifier ends with ".dissect" loads the ".js" file of
// the same name, executed almost exactly as written, but with two functions
// added to its exports:
//
//	get(name)         returns the module's own top-level binding, or undefined
//	set(name, value)  assigns a top-level binding and returns value
//
// Top-level var declarations are bindings; const and let declarations are not,
// unless the engine is configured with WithReplaceConstWithVar. Loading the same
// file without the marker afterwards returns the same cached module.
//
// Usage:
//
//	l, _ := loader.New(logger, loader.WithRoot(dir))
//	e := dissect.New(logger, nil, dissect.WithReplaceConstWithVar(true))
//	if err := e.Install(l); err != nil {
//	    return err
//	}
//	h, err := e.Load("./sample.dissect")
//	v, err := h.Get("fileLevelVar")
//
// JavaScript code loaded by the same loader can configure the engine through
// the `dissect` builtin:
//
//	require('dissect')({ replaceConstWithVar: true, clearCache: false });
package dissect
