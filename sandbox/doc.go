// Package sandbox provides isolated evaluation contexts inside a goja runtime.
//
// A context is an ordinary JavaScript object. Code run in it treats the
// object's own properties as its top-level bindings: top-level var
// initializers and assignments to undeclared names are written to the object
// instead of the global object, while reads of names the object lacks fall
// through its prototype chain. Giving the context the global object as its
// prototype therefore yields a scope that sees every global but never writes
// to one, unless the code assigns through an explicit reference such as
// `global.x = 1`.
//
// Every string name counts as present in a context, so a read of a name
// that neither the object nor its prototype chain defines evaluates to
// undefined instead of throwing a ReferenceError. `typeof missing` and
// `missing === undefined` behave as usual; only the throw is lost.
//
// The package is exposed to JavaScript as the `vm` builtin module:
//
//	const vm = require('vm');
//	const ctx = vm.createContext({ answer: 42, __proto__: global });
//	vm.runInContext('var doubled = answer * 2', ctx, { filename: 'x.js' });
//	// ctx.doubled === 84
package sandbox
