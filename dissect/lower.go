package dissect

import (
	"fmt"
	"strings"
)

// LowerBlockScoped rewrites `const` and `let` declaration keywords in src to `var`.
//
// Keywords inside string, template, regular expression and comment literals are
// left alone, as are property names (`a.let`, `{ const: 1 }`) and `let` used as a
// plain identifier. Regular expressions are told apart from division by the
// previous significant token, which is the usual heuristic and can be fooled by
// a division directly after `}`.
func LowerBlockScoped(src string) string {
	l := &lowerer{src: src, regex: true, stmt: true, lower: true}
	l.out.Grow(len(src))
	l.run()
	return l.out.String()
}

// HoistFunctions turns top-level function declarations in src into bindings
// assigned through the enclosing scope.
//
// Each declaration's binding is renamed, and a prefix placed on the first line
// assigns the renamed function to the original name before any other statement
// runs. Inside a context the assignment lands on the context, so readers of the
// name, including the function itself, resolve it there. Declarations nested in
// blocks or function bodies, and function expressions, are left alone.
func HoistFunctions(src string) string {
	l := &lowerer{src: src, regex: true, stmt: true, hoist: true}
	l.out.Grow(len(src))
	l.run()
	if len(l.decls) == 0 {
		return src
	}

	var head strings.Builder
	for _, d := range l.decls {
		fmt.Fprintf(&head, "Object.defineProperty(%s, 'name', { value: '%s' }); %s = %s; ", d.alias, d.name, d.name, d.alias)
	}
	return head.String() + l.out.String()
}

// keywords after which an expression, and so a regular expression literal, may start
var exprKeywords = map[string]bool{
	"return":     true,
	"typeof":     true,
	"instanceof": true,
	"in":         true,
	"of":         true,
	"new":        true,
	"delete":     true,
	"void":       true,
	"throw":      true,
	"case":       true,
	"do":         true,
	"else":       true,
	"yield":      true,
	"await":      true,
}

type hoisted struct {
	name  string
	alias string
}

type lowerer struct {
	src string
	out strings.Builder
	pos int

	lower bool
	hoist bool
	decls []hoisted

	// regex reports whether a '/' at pos starts a regular expression
	regex bool
	// dot reports whether the previous significant token was '.'
	dot bool
	// braces counts open braces inside each enclosing template substitution
	braces []int

	// depth counts open brackets of every kind, including template substitutions
	depth int
	// stmt reports whether pos is at the start of a top-level statement
	stmt bool
	// value reports whether the previous significant token ended an operand
	value bool
}

func (l *lowerer) run() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '/' && l.peek(1) == '/':
			l.lineComment()
		case c == '/' && l.peek(1) == '*':
			l.blockComment()
		case c == '\'' || c == '"':
			l.quoted(c)
			l.after(false)
		case c == '`':
			l.emit(1)
			l.template()
		case c == '/' && l.regex:
			l.regexp()
			l.after(false)
		case isIdentStart(c) || (c == '#' && isIdentStart(l.peek(1))):
			l.word()
		case isDigit(c):
			l.number()
			l.after(false)
		case c == '{':
			if n := len(l.braces); n > 0 {
				l.braces[n-1]++
			}
			l.depth++
			l.emit(1)
			l.after(true)
		case c == '}':
			l.close()
			if n := len(l.braces); n > 0 {
				if l.braces[n-1] == 0 {
					// end of a ${...} substitution
					l.braces = l.braces[:n-1]
					l.emit(1)
					l.template()
					continue
				}
				l.braces[n-1]--
			}
			l.emit(1)
			l.after(true)
			l.stmt = l.depth == 0
		case c == '(' || c == '[':
			l.depth++
			l.emit(1)
			l.after(true)
		case c == ')' || c == ']':
			l.close()
			l.emit(1)
			l.after(false)
		case c == ';':
			l.emit(1)
			l.after(true)
			l.stmt = l.depth == 0
		case c == '.':
			l.emit(1)
			l.regex = true
			l.dot = true
			l.stmt = false
			l.value = false
		case c == '\n':
			// a line break after an operand ends the statement when the next token cannot continue it
			l.emit(1)
			if l.value && l.depth == 0 {
				l.stmt = true
			}
		case isSpace(c):
			l.emit(1)
		default:
			l.emit(1)
			l.after(true)
		}
	}
}

func (l *lowerer) close() {
	if l.depth > 0 {
		l.depth--
	}
}

func (l *lowerer) after(regex bool) {
	l.regex = regex
	l.dot = false
	l.stmt = false
	l.value = !regex
}

func (l *lowerer) peek(n int) byte {
	if l.pos+n < len(l.src) {
		return l.src[l.pos+n]
	}
	return 0
}

func (l *lowerer) emit(n int) {
	end := l.pos + n
	if end > len(l.src) {
		end = len(l.src)
	}
	l.out.WriteString(l.src[l.pos:end])
	l.pos = end
}

func (l *lowerer) lineComment() {
	end := strings.IndexByte(l.src[l.pos:], '\n')
	if end < 0 {
		end = len(l.src) - l.pos
	}
	l.emit(end)
}

func (l *lowerer) blockComment() {
	end := strings.Index(l.src[l.pos+2:], "*/")
	if end < 0 {
		l.emit(len(l.src) - l.pos)
		return
	}
	l.emit(end + 4)
}

func (l *lowerer) quoted(quote byte) {
	l.emit(1)
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case '\\':
			l.emit(2)
		case quote:
			l.emit(1)
			return
		case '\n':
			return
		default:
			l.emit(1)
		}
	}
}

// template copies template text up to the closing backtick or the next ${
func (l *lowerer) template() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\\':
			l.emit(2)
		case c == '`':
			l.emit(1)
			l.after(false)
			return
		case c == '$' && l.peek(1) == '{':
			l.emit(2)
			l.braces = append(l.braces, 0)
			l.depth++
			l.after(true)
			return
		default:
			l.emit(1)
		}
	}
}

func (l *lowerer) regexp() {
	l.emit(1)
	inClass := false
	for l.pos < len(l.src) {
		switch c := l.src[l.pos]; {
		case c == '\\':
			l.emit(2)
		case c == '\n':
			return
		case c == '[':
			inClass = true
			l.emit(1)
		case c == ']':
			inClass = false
			l.emit(1)
		case c == '/' && !inClass:
			l.emit(1)
			for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
				l.emit(1)
			}
			return
		default:
			l.emit(1)
		}
	}
}

func (l *lowerer) number() {
	for l.pos < len(l.src) && (isIdentPart(l.src[l.pos]) || l.src[l.pos] == '.') {
		l.emit(1)
	}
}

func (l *lowerer) word() {
	start := l.pos
	if l.src[l.pos] == '#' {
		l.pos++
	}
	for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
		l.pos++
	}
	w := l.src[start:l.pos]

	if l.hoist && l.stmt && l.hoistFunction(w) {
		return
	}

	if l.lower && (w == "const" || w == "let") && !l.dot && l.declarationFollows() {
		l.out.WriteString("var")
	} else {
		l.out.WriteString(w)
	}
	l.after(exprKeywords[w])
}

// hoistFunction renames the binding of a function declaration starting with w,
// `function NAME(`, `function* NAME(` or `async function NAME(`
func (l *lowerer) hoistFunction(w string) bool {
	keywordEnd := l.pos
	switch w {
	case "function":
	case "async":
		j := l.skipBlanks(l.pos, false)
		k := wordEnd(l.src, j)
		if l.src[j:k] != "function" {
			return false
		}
		keywordEnd = k
	default:
		return false
	}

	j := l.skipBlanks(keywordEnd, true)
	if j < len(l.src) && l.src[j] == '*' {
		j = l.skipBlanks(j+1, true)
	}
	k := wordEnd(l.src, j)
	if k == j {
		return false
	}
	if p := l.skipBlanks(k, true); p >= len(l.src) || l.src[p] != '(' {
		return false
	}

	name := l.src[j:k]
	alias := fmt.Sprintf("__dissect$%d$%s", len(l.decls), name)
	l.decls = append(l.decls, hoisted{name: name, alias: alias})

	l.out.WriteString(w)
	l.out.WriteString(l.src[l.pos:j])
	l.out.WriteString(alias)
	l.pos = k
	l.after(false)
	return true
}

// skipBlanks returns the index of the first non-blank byte at or after i
func (l *lowerer) skipBlanks(i int, newlines bool) int {
	for i < len(l.src) && isSpace(l.src[i]) && (newlines || l.src[i] != '\n') {
		i++
	}
	return i
}

func wordEnd(src string, i int) int {
	if i >= len(src) || !isIdentStart(src[i]) {
		return i
	}
	for i < len(src) && isIdentPart(src[i]) {
		i++
	}
	return i
}

// declarationFollows reports whether the text after a const/let keyword is a binding
func (l *lowerer) declarationFollows() bool {
	j := l.pos
	for j < len(l.src) && isSpace(l.src[j]) {
		j++
	}
	if j >= len(l.src) {
		return false
	}

	c := l.src[j]
	if c == '[' || c == '{' {
		return true
	}
	if !isIdentStart(c) {
		return false
	}

	k := j
	for k < len(l.src) && isIdentPart(l.src[k]) {
		k++
	}
	next := l.src[j:k]
	return next != "in" && next != "instanceof"
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || c >= 0x80 ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}
