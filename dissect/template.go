package dissect

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// Names of the introspection functions attached to dissected exports
const (
	GetterName = "get"
	SetterName = "set"
	// WrapperField holds a non-extensible export after normalization
	WrapperField = "exports"
)

// The template runs as the body of the module wrapper, so exports, require,
// module, __filename and __dirname are the live bindings of the loaded file.
const (
	templateHead = `
const vm = require('vm');

const context = { exports, require, module, __filename, __dirname, global, __proto__: global };

const code = `

	templateTail = `;

vm.runInContext(code, vm.createContext(context), {
  filename: __filename,
  displayErrors: true
});

if (!Object.isExtensible(module.exports)) {
  module.exports = { ` + WrapperField + `: module.exports };
}

module.exports.` + GetterName + ` = function (key) {
  return Object.prototype.hasOwnProperty.call(context, key) ? context[key] : undefined;
};
module.exports.` + SetterName + ` = function (key, value) {
  return context[key] = value;
};
`
)

// Line and paragraph separators are legal in JSON strings but not in every
// JavaScript parser's string literals
var separatorEscaper = strings.NewReplacer("\u2028", `\u2028`, "\u2029", `\u2029`)

// Wrap embeds source in the dissection template
func Wrap(source string) (string, error) {
	literal, err := sonic.ConfigStd.MarshalToString(source)
	if err != nil {
		return "", fmt.Errorf("failed to encode source: %w", err)
	}
	return templateHead + separatorEscaper.Replace(literal) + templateTail, nil
}
