// Package loader provides a CommonJS-style module host on top of goja.
//
// The loader package owns everything a host module system owns: specifier
// resolution, the module cache, the compile step and the load entry point.
// One Loader holds one goja runtime and acts as the "process": every module it
// loads shares the same global object.
//
// Other packages extend the pipeline by registering named hooks instead of
// replacing loader internals:
//
//   - BeforeResolve may rewrite the specifier of a load request
//   - OnCompile may transform the source text of a file about to be compiled
//   - AfterLoad runs after every load request, on success and on failure
//
// Usage:
//
//	l, err := loader.New(logger, loader.WithRoot("/path/to/project"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	exports, err := l.Require("./lib/sample.js")
package loader
