package sassfn

import (
	"regexp"
	"strings"
)

type Options struct {
	// Registry defaults to Builtins().
	Registry *Registry

	// Emit renders a call result back into the source. Defaults to Unquote,
	// which suits plain CSS output.
	Emit func(Value) string

	// Plain produces CSS: evaluated $variable declarations, line comments
	// and @use "zoetrope:..." rules are dropped, and references to known
	// variables are substituted.
	Plain bool
}

type Result struct {
	Source   string
	Metadata map[string]string
	// Calls counts the registered-function calls that were replaced.
	Calls int
}

// binding is a variable the pre-pass knows about. Runtime bindings hold no
// value: mixin and function parameters, loop variables and assignments made
// under control flow only exist while Sass runs.
type binding struct {
	value   Value
	runtime bool
}

// scope follows Sass's lexical scoping: every block opens one.
type scope struct {
	parent *scope
	vars   map[string]binding
	// flow marks @if, @else, @each, @for and @while bodies, where an
	// assignment to an existing variable writes the outer one.
	flow bool
	// deferred marks bodies Sass may run never or many times.
	deferred bool
}

func newScope(parent *scope) *scope {
	return &scope{parent: parent, vars: map[string]binding{}}
}

func (s *scope) lookup(name string) (binding, *scope, bool) {
	name = normalizeName(name)
	for sc := s; sc != nil; sc = sc.parent {
		if b, ok := sc.vars[name]; ok {
			return b, sc, true
		}
	}
	return binding{}, nil, false
}

func (s *scope) root() *scope {
	for s.parent != nil {
		s = s.parent
	}
	return s
}

// crossesDeferred reports whether a write from s lands outside a body Sass
// may skip or repeat.
func (s *scope) crossesDeferred(target *scope) bool {
	for sc := s; sc != nil && sc != target; sc = sc.parent {
		if sc.deferred {
			return true
		}
	}
	return false
}

var (
	usePattern    = regexp.MustCompile(`^@use\s+["']zoetrope:([\w-]+)["'](?:\s+as\s+([\w-]+|\*))?\s*;`)
	usingPattern  = regexp.MustCompile(`\busing\s*\(`)
	eachInPattern = regexp.MustCompile(`\sin\s`)
)

// moduleAliases maps the names under which module members are reachable in
// src, e.g. "metadata.update" or "meta.update" or, for `as *`, "update".
func moduleAliases(src string) map[string]string {
	aliases := map[string]string{}
	for i := strings.Index(src, "@use"); i >= 0; {
		if m := usePattern.FindStringSubmatch(src[i:]); m != nil {
			ns := m[1]
			if m[2] != "" {
				ns = m[2]
			}
			for member, fn := range ModuleMembers[m[1]] {
				if ns == "*" {
					aliases[member] = fn
				} else {
					aliases[ns+"."+member] = fn
				}
			}
		}
		next := strings.Index(src[i+4:], "@use")
		if next < 0 {
			break
		}
		i += 4 + next
	}
	return aliases
}

type expander struct {
	src     string
	opts    Options
	out     strings.Builder
	scope   *scope
	env     *Env
	aliases map[string]string
	calls   int
	stack   []openBrace

	// at-rule that opened the current statement, and where
	atRule string
	atPos  int
}

type openBrace struct {
	pos    int
	interp bool
	// quote is set for an interpolation inside a quoted string
	quote byte
}

// Expand replaces every call to a registered function in src with its
// result. Arguments may use literals, lists, maps, nested calls, "+" and
// variables declared earlier in the same file.
func Expand(src string, opts Options) (*Result, error) {
	if opts.Registry == nil {
		opts.Registry = Builtins()
	}
	if opts.Emit == nil {
		opts.Emit = Unquote
	}

	e := &expander{
		src:     src,
		opts:    opts,
		scope:   newScope(nil),
		env:     &Env{},
		aliases: moduleAliases(src),
	}
	if err := e.run(); err != nil {
		return nil, err
	}
	return &Result{Source: e.out.String(), Metadata: e.env.Metadata, Calls: e.calls}, nil
}

func (e *expander) parserAt(pos int) *parser {
	return &parser{
		src:     e.src,
		pos:     pos,
		scope:   e.scope,
		env:     e.env,
		reg:     e.opts.Registry,
		aliases: e.aliases,
	}
}

func (e *expander) run() error {
	src := e.src
	stmtStart := true
	prevWord := ""

	for i := 0; i < len(src); {
		c := src[i]
		word := ""

		switch {
		case c == '"' || c == '\'':
			e.out.WriteByte(c)
			next, err := e.stringBody(i+1, c)
			if err != nil {
				return err
			}
			i = next
			stmtStart = false

		case strings.HasPrefix(src[i:], "/*"):
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return newError(src, i, "unterminated comment")
			}
			end += i + 4
			e.out.WriteString(src[i:end])
			i = end
			word = prevWord

		case strings.HasPrefix(src[i:], "//"):
			end := strings.IndexByte(src[i:], '\n')
			if end < 0 {
				end = len(src)
			} else {
				end += i
			}
			if !e.opts.Plain {
				e.out.WriteString(src[i:end])
			}
			i = end
			word = prevWord

		case strings.HasPrefix(src[i:], "#{"):
			if next, ok := e.interpolation(i, 0); ok {
				i = next
			} else {
				e.stack = append(e.stack, openBrace{pos: i, interp: true})
				e.out.WriteString("#{")
				i += 2
			}
			stmtStart = false

		case c == '{':
			e.stack = append(e.stack, openBrace{pos: i})
			e.openBlock(i)
			e.out.WriteByte(c)
			i++
			stmtStart = true

		case c == '}':
			if len(e.stack) == 0 {
				return newError(src, i, "unexpected \"}\"")
			}
			top := e.stack[len(e.stack)-1]
			e.stack = e.stack[:len(e.stack)-1]
			e.out.WriteByte(c)
			i++
			switch {
			case top.quote != 0:
				next, err := e.stringBody(i, top.quote)
				if err != nil {
					return err
				}
				i = next
				stmtStart = false
			case top.interp:
				stmtStart = false
			default:
				e.scope = e.scope.parent
				e.atRule = ""
				stmtStart = true
			}

		case c == ';':
			e.out.WriteByte(c)
			i++
			e.atRule = ""
			stmtStart = true

		case c == '$':
			i = e.variable(i, stmtStart)
			stmtStart = false

		case c == '@' && isIdentStart(src, i+1):
			word = "@" + readIdent(src, i+1)
			if word == "@use" && e.opts.Plain {
				if loc := usePattern.FindStringIndex(src[i:]); loc != nil {
					i += loc[1]
					continue
				}
			}
			if stmtStart {
				e.atRule, e.atPos = word, i
			}
			e.out.WriteString(word)
			i += len(word)
			stmtStart = false

		case isIdentStart(src, i):
			next, err := e.ident(i, prevWord)
			if err != nil {
				return err
			}
			word = src[i:next]
			i = next
			stmtStart = false

		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
			e.out.WriteByte(c)
			i++
			word = prevWord

		default:
			e.out.WriteByte(c)
			i++
			stmtStart = false
		}

		prevWord = word
	}

	if len(e.stack) > 0 {
		return newError(src, e.stack[len(e.stack)-1].pos, "unclosed \"{\"")
	}
	return nil
}

// openBlock enters the scope of the block opening at i and binds the names
// its at-rule introduces.
func (e *expander) openBlock(i int) {
	s := newScope(e.scope)
	var params []string
	if e.atRule != "" {
		header := e.src[e.atPos+len(e.atRule) : i]
		switch e.atRule {
		case "@mixin", "@function":
			s.deferred = true
			params = headerVariables(header)
		case "@include":
			s.deferred = true
			if loc := usingPattern.FindStringIndex(header); loc != nil {
				params = headerVariables(header[loc[1]:])
			}
		case "@each":
			s.flow, s.deferred = true, true
			if loc := eachInPattern.FindStringIndex(header); loc != nil {
				header = header[:loc[0]]
			}
			params = headerVariables(header)
		case "@for":
			s.flow, s.deferred = true, true
			if vars := headerVariables(header); len(vars) > 0 {
				params = vars[:1]
			}
		case "@if", "@else", "@while":
			s.flow, s.deferred = true, true
		}
	}
	for _, name := range params {
		s.vars[normalizeName(name)] = binding{runtime: true}
	}
	e.scope = s
	e.atRule = ""
}

// bindingHeader reports whether the statement being copied declares
// parameters or loop variables.
func (e *expander) bindingHeader() bool {
	switch e.atRule {
	case "@mixin", "@function", "@each", "@for":
		return true
	}
	return false
}

func headerVariables(header string) []string {
	var names []string
	for i := strings.IndexByte(header, '$'); i >= 0; {
		if name := readIdent(header, i+1); name != "" {
			names = append(names, name)
		}
		next := strings.IndexByte(header[i+1:], '$')
		if next < 0 {
			break
		}
		i += 1 + next
	}
	return names
}

// stringBody copies a quoted string from i through its closing quote. An
// interpolation that cannot be evaluated in place stays open on the stack
// and the copy resumes after its "}".
func (e *expander) stringBody(i int, quote byte) (int, error) {
	src := e.src
	for i < len(src) {
		c := src[i]
		switch {
		case c == quote:
			e.out.WriteByte(c)
			return i + 1, nil
		case c == '\n':
			return 0, newError(src, i, "unterminated string")
		case c == '\\' && i+1 < len(src):
			e.out.WriteString(src[i : i+2])
			i += 2
		case strings.HasPrefix(src[i:], "#{"):
			if next, ok := e.interpolation(i, quote); ok {
				i = next
				continue
			}
			e.stack = append(e.stack, openBrace{pos: i, interp: true, quote: quote})
			e.out.WriteString("#{")
			return i + 2, nil
		default:
			e.out.WriteByte(c)
			i++
		}
	}
	return 0, newError(src, len(src), "unterminated string")
}

// interpolation evaluates the #{...} at i in place when its contents are a
// single expression the pre-pass understands. quote is the enclosing
// string's quote, or 0 outside strings.
func (e *expander) interpolation(i int, quote byte) (int, bool) {
	p := e.parserAt(i + 2)
	v, err := p.parseList(true)
	if err != nil {
		return 0, false
	}
	p.skipSpace()
	if p.peek() != '}' {
		return 0, false
	}
	end := p.pos + 1

	switch {
	case e.opts.Plain:
		text := Unquote(v)
		if quote != 0 {
			text = escapeQuoted(text, quote)
		}
		e.out.WriteString(text)
	case p.called:
		e.out.WriteString("#{" + e.opts.Emit(v) + "}")
	default:
		e.out.WriteString(e.src[i:end])
	}
	if p.called {
		e.calls++
	}
	return end, true
}

func escapeQuoted(s string, quote byte) string {
	return strings.NewReplacer(`\`, `\\`, string(quote), `\`+string(quote), "\n", `\a `).Replace(s)
}

// emit renders a call result, escaped when it lands inside a quoted string
// of plain output.
func (e *expander) emit(v Value) string {
	text := e.opts.Emit(v)
	if n := len(e.stack); n > 0 && e.stack[n-1].quote != 0 && e.opts.Plain {
		text = escapeQuoted(text, e.stack[n-1].quote)
	}
	return text
}

// ident copies an identifier at i, or evaluates it when it names a
// registered function being called.
func (e *expander) ident(i int, prevWord string) (int, error) {
	src := e.src
	name := readIdent(src, i)
	end := i + len(name)

	// namespace.member
	if end < len(src) && src[end] == '.' && isIdentStart(src, end+1) {
		member := readIdent(src, end+1)
		qend := end + 1 + len(member)
		if qend < len(src) && src[qend] == '(' && e.aliases[name+"."+member] != "" {
			return e.call(i)
		}
		e.out.WriteString(src[i:qend])
		return qend, nil
	}

	if end >= len(src) || src[end] != '(' {
		e.out.WriteString(name)
		return end, nil
	}

	if strings.EqualFold(name, "url") {
		return e.rawURL(i, end), nil
	}

	switch prevWord {
	case "@function", "@mixin", "@include":
		e.out.WriteString(name)
		return end, nil
	}

	if e.opts.Registry.lookup(name, e.aliases) != nil {
		return e.call(i)
	}

	e.out.WriteString(name)
	return end, nil
}

func (e *expander) call(i int) (int, error) {
	p := e.parserAt(i)
	v, err := p.parseIdent()
	if err != nil {
		return 0, err
	}
	e.out.WriteString(e.emit(v))
	e.calls++
	return p.pos, nil
}

// rawURL copies an unquoted url(...) token verbatim. Its contents may hold
// "//" or unbalanced quotes that must not be scanned.
func (e *expander) rawURL(i, open int) int {
	src := e.src
	j := open + 1
	for j < len(src) && (src[j] == ' ' || src[j] == '\t') {
		j++
	}
	if j < len(src) && (src[j] == '"' || src[j] == '\'') {
		e.out.WriteString(src[i:open])
		return open
	}
	closing := strings.IndexByte(src[open:], ')')
	if closing < 0 {
		e.out.WriteString(src[i:open])
		return open
	}
	end := open + closing + 1
	e.out.WriteString(src[i:end])
	return end
}

func (e *expander) variable(i int, stmtStart bool) int {
	src := e.src
	name := readIdent(src, i+1)
	if name == "" {
		e.out.WriteByte('$')
		return i + 1
	}
	end := i + 1 + len(name)

	if stmtStart {
		q := &parser{src: src, pos: end}
		q.skipSpace()
		if q.peek() == ':' {
			return e.declaration(i, name, q.pos+1)
		}
	}

	if e.opts.Plain && !e.bindingHeader() {
		if b, _, ok := e.scope.lookup(name); ok && !b.runtime {
			e.out.WriteString(Unquote(b.value))
			return end
		}
	}
	e.out.WriteString(src[i:end])
	return end
}

// declaration records "$name: value" when the evaluator understands the
// value. Declarations it cannot evaluate are copied for the compiler.
func (e *expander) declaration(i int, name string, valuePos int) int {
	src := e.src
	nameEnd := i + 1 + len(name)

	p := e.parserAt(valuePos)
	v, err := p.parseList(true)
	if err != nil {
		e.unknown(name, valuePos)
		e.out.WriteString(src[i:nameEnd])
		return nameEnd
	}
	valueEnd := p.pos

	isDefault, isGlobal := false, false
	for {
		p.skipSpace()
		if p.peek() != '!' {
			break
		}
		flag := readIdent(src, p.pos+1)
		isDefault = isDefault || flag == "default"
		isGlobal = isGlobal || flag == "global"
		p.pos += 1 + len(flag)
	}
	switch p.peek() {
	case ';', '}', 0:
	default:
		e.unknown(name, valuePos)
		e.out.WriteString(src[i:nameEnd])
		return nameEnd
	}

	e.assign(name, binding{value: v}, isGlobal, isDefault)

	if p.called {
		e.calls++
	}

	switch {
	case e.opts.Plain:
		if p.peek() == ';' {
			p.pos++
		}
		return p.pos
	case p.called:
		e.out.WriteString(src[i:valuePos])
		e.out.WriteByte(' ')
		e.out.WriteString(e.opts.Emit(v))
		return valueEnd
	}
	e.out.WriteString(src[i:nameEnd])
	return nameEnd
}

// unknown records a declaration the evaluator cannot follow, so later
// references fail instead of reaching an outer binding.
func (e *expander) unknown(name string, valuePos int) {
	stmt := e.src[valuePos:]
	if end := strings.IndexAny(stmt, ";}"); end >= 0 {
		stmt = stmt[:end]
	}
	e.assign(name, binding{runtime: true}, strings.Contains(stmt, "!global"), strings.Contains(stmt, "!default"))
}

// assign binds name the way Sass does: !global writes the root scope,
// control-flow bodies write the nearest scope that already has the name,
// and any other block gets a local.
func (e *expander) assign(name string, b binding, global, isDefault bool) {
	key := normalizeName(name)
	target := e.scope
	switch {
	case global:
		target = e.scope.root()
	case e.scope.flow:
		if _, sc, ok := e.scope.lookup(key); ok {
			target = sc
		}
	}

	if prev, ok := target.vars[key]; ok && isDefault {
		if _, isNull := prev.value.(Null); !isNull {
			return
		}
	}
	if e.scope.crossesDeferred(target) {
		b = binding{runtime: true}
	}
	target.vars[key] = b
}
