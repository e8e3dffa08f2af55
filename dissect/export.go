package dissect

import (
	"math"
	"strconv"

	"github.com/dop251/goja"
)

// MaxDescribeDepth bounds how deep Describe walks nested objects
const MaxDescribeDepth = 8

// Describe converts a JavaScript value into plain Go data suitable for JSON or YAML
// encoding. Functions become "[Function]", cycles "[Circular]", and objects nested
// deeper than MaxDescribeDepth "[Object]". Non-finite numbers are rendered as strings.
func Describe(v goja.Value) any {
	d := describer{seen: make(map[*goja.Object]bool)}
	return d.describe(v, 0)
}

type describer struct {
	seen map[*goja.Object]bool
}

func (d describer) describe(v goja.Value, depth int) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}

	obj, ok := v.(*goja.Object)
	if !ok {
		return primitive(v)
	}

	if _, ok := goja.AssertFunction(obj); ok {
		return "[Function]"
	}
	if d.seen[obj] {
		return "[Circular]"
	}
	if depth >= MaxDescribeDepth {
		return "[Object]"
	}
	d.seen[obj] = true
	defer delete(d.seen, obj)

	switch obj.ClassName() {
	case "Array":
		n := obj.Get("length").ToInteger()
		out := make([]any, 0, n)
		for i := int64(0); i < n; i++ {
			out = append(out, d.describe(obj.Get(strconv.FormatInt(i, 10)), depth+1))
		}
		return out
	case "Date", "RegExp", "Error":
		return obj.String()
	}

	out := make(map[string]any)
	for _, k := range obj.Keys() {
		out[k] = d.describe(obj.Get(k), depth+1)
	}
	return out
}

func primitive(v goja.Value) any {
	switch x := v.Export().(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return v.String()
		}
		return x
	case bool, int64, string:
		return x
	default:
		return v.String()
	}
}
