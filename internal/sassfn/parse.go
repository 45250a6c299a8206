package sassfn

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Error is a pre-pass diagnostic positioned in the stylesheet source.
type Error struct {
	Line    int
	Column  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Message)
}

func newError(src string, pos int, format string, args ...any) *Error {
	if pos > len(src) {
		pos = len(src)
	}
	before := src[:pos]
	line := strings.Count(before, "\n") + 1
	col := utf8.RuneCountInString(before[strings.LastIndexByte(before, '\n')+1:]) + 1
	return &Error{Line: line, Column: col, Message: fmt.Sprintf(format, args...)}
}

// parser evaluates one Sass expression starting at pos. It only knows
// literals, variables it has been told about and registered functions.
type parser struct {
	src     string
	pos     int
	scope   *scope
	env     *Env
	reg     *Registry
	aliases map[string]string
	called  bool
}

var (
	numberPattern = regexp.MustCompile(`^[+-]?(?:\d+(?:\.\d+)?|\.\d+)(?:[eE][+-]?\d+)?`)
	unitPattern   = regexp.MustCompile(`^(?:%|[a-zA-Z_][a-zA-Z0-9_-]*)`)
)

func (p *parser) errorf(format string, args ...any) error {
	return newError(p.src, p.pos, format, args...)
}

func (p *parser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) {
		switch c := p.src[p.pos]; {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
			p.pos++
		case strings.HasPrefix(p.src[p.pos:], "/*"):
			end := strings.Index(p.src[p.pos+2:], "*/")
			if end < 0 {
				p.pos = len(p.src)
				return
			}
			p.pos += end + 4
		case strings.HasPrefix(p.src[p.pos:], "//"):
			end := strings.IndexByte(p.src[p.pos:], '\n')
			if end < 0 {
				p.pos = len(p.src)
				return
			}
			p.pos += end
		default:
			return
		}
	}
}

func (p *parser) atTerminator() bool {
	switch p.peek() {
	case 0, ',', ')', ']', ';', '}', '{', ':', '!':
		return true
	}
	return false
}

// parseList parses a comma list when allowComma is set, otherwise a space
// list. Single-element lists collapse to their element.
func (p *parser) parseList(allowComma bool) (Value, error) {
	first, err := p.parseSpaceList()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !allowComma || p.peek() != ',' {
		return first, nil
	}

	items := []Value{first}
	for p.peek() == ',' {
		p.pos++
		p.skipSpace()
		if p.atTerminator() {
			break // trailing comma
		}
		next, err := p.parseSpaceList()
		if err != nil {
			return nil, err
		}
		items = append(items, next)
		p.skipSpace()
	}
	return List{Items: items, Comma: true}, nil
}

func (p *parser) parseSpaceList() (Value, error) {
	var items []Value
	for {
		p.skipSpace()
		if p.atTerminator() {
			break
		}
		v, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	switch len(items) {
	case 0:
		return nil, p.errorf("expected expression")
	case 1:
		return items[0], nil
	}
	return List{Items: items}, nil
}

func (p *parser) parseSum() (Value, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		save := p.pos
		p.skipSpace()
		if p.peek() != '+' {
			p.pos = save
			return left, nil
		}
		p.pos++
		p.skipSpace()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		if left, err = add(left, right); err != nil {
			return nil, p.errorf("%v", err)
		}
	}
}

func add(left, right Value) (Value, error) {
	ln, lok := left.(Number)
	rn, rok := right.(Number)
	if lok && rok {
		switch {
		case ln.Unit == rn.Unit, rn.Unit == "":
			return Number{Value: ln.Value + rn.Value, Unit: ln.Unit}, nil
		case ln.Unit == "":
			return Number{Value: ln.Value + rn.Value, Unit: rn.Unit}, nil
		}
		return nil, fmt.Errorf("incompatible units %s and %s", ln.Unit, rn.Unit)
	}
	if ls, ok := left.(String); ok {
		return String{Text: ls.Text + Unquote(right), Quoted: ls.Quoted}, nil
	}
	if rs, ok := right.(String); ok {
		return String{Text: Unquote(left) + rs.Text, Quoted: rs.Quoted}, nil
	}
	return nil, fmt.Errorf("cannot add %s and %s", typeName(left), typeName(right))
}

func (p *parser) parsePrimary() (Value, error) {
	c := p.peek()
	switch {
	case c == '"' || c == '\'':
		s, end, err := readQuoted(p.src, p.pos)
		if err != nil {
			return nil, err
		}
		p.pos = end
		return String{Text: s, Quoted: true}, nil

	case c == '$':
		start := p.pos
		p.pos++
		name := readIdent(p.src, p.pos)
		if name == "" {
			return nil, p.errorf("expected variable name")
		}
		p.pos += len(name)
		b, _, ok := p.scope.lookup(name)
		switch {
		case !ok:
			p.pos = start
			return nil, p.errorf("undefined variable $%s", name)
		case b.runtime:
			p.pos = start
			return nil, p.errorf("$%s is only known while Sass runs (a parameter, loop variable or conditional assignment); compile with the dartsass engine", name)
		}
		return b.value, nil

	case c == '(':
		return p.parseParen()

	case c == '[':
		return p.parseBracketed()

	case c == '#':
		if strings.HasPrefix(p.src[p.pos:], "#{") {
			return nil, p.errorf("interpolation is not supported in function arguments")
		}
		start := p.pos
		p.pos++
		p.pos += len(readIdent(p.src, p.pos))
		return String{Text: p.src[start:p.pos]}, nil

	case isDigit(c) || c == '.' || ((c == '-' || c == '+') && p.pos+1 < len(p.src) && (isDigit(p.src[p.pos+1]) || p.src[p.pos+1] == '.')):
		return p.parseNumber()

	case isIdentStart(p.src, p.pos):
		return p.parseIdent()
	}

	if c == 0 {
		return nil, p.errorf("unexpected end of input")
	}
	return nil, p.errorf("unexpected %q", c)
}

func (p *parser) parseNumber() (Value, error) {
	m := numberPattern.FindString(p.src[p.pos:])
	if m == "" {
		return nil, p.errorf("invalid number")
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return nil, p.errorf("invalid number %q", m)
	}
	p.pos += len(m)
	unit := unitPattern.FindString(p.src[p.pos:])
	p.pos += len(unit)
	return Number{Value: f, Unit: unit}, nil
}

func (p *parser) parseIdent() (Value, error) {
	start := p.pos
	name := readIdent(p.src, p.pos)
	p.pos += len(name)

	// namespace.member
	if p.peek() == '.' && isIdentStart(p.src, p.pos+1) {
		member := readIdent(p.src, p.pos+1)
		p.pos += 1 + len(member)
		name = name + "." + member
	}

	if p.peek() == '(' {
		if fn := p.reg.lookup(name, p.aliases); fn != nil {
			return p.parseCall(fn)
		}
		if strings.Contains(name, ".") {
			p.pos = start
			return nil, p.errorf("cannot evaluate %s() ahead of the compiler", name)
		}
		end, err := skipBalanced(p.src, p.pos)
		if err != nil {
			return nil, err
		}
		p.pos = end
		return String{Text: p.src[start:end]}, nil
	}

	if strings.Contains(name, ".") {
		p.pos = start
		return nil, p.errorf("cannot evaluate %s ahead of the compiler", name)
	}

	switch name {
	case "true":
		return Bool(true), nil
	case "false":
		return Bool(false), nil
	case "null":
		return Null{}, nil
	}
	return String{Text: name}, nil
}

func (p *parser) parseParen() (Value, error) {
	p.pos++ // (
	p.skipSpace()
	if p.peek() == ')' {
		p.pos++
		return List{}, nil
	}

	first, err := p.parseSpaceList()
	if err != nil {
		return nil, err
	}
	p.skipSpace()

	switch p.peek() {
	case ')':
		p.pos++
		return first, nil

	case ':':
		m := Map{}
		key := first
		for {
			p.pos++ // :
			val, err := p.parseSpaceList()
			if err != nil {
				return nil, err
			}
			m.Keys = append(m.Keys, key)
			m.Values = append(m.Values, val)

			p.skipSpace()
			if p.peek() == ',' {
				p.pos++
				p.skipSpace()
			}
			if p.peek() == ')' {
				p.pos++
				return m, nil
			}
			if key, err = p.parseSpaceList(); err != nil {
				return nil, err
			}
			p.skipSpace()
			if p.peek() != ':' {
				return nil, p.errorf("expected \":\" in map")
			}
		}

	case ',':
		items := []Value{first}
		for p.peek() == ',' {
			p.pos++
			p.skipSpace()
			if p.peek() == ')' {
				break
			}
			next, err := p.parseSpaceList()
			if err != nil {
				return nil, err
			}
			items = append(items, next)
			p.skipSpace()
		}
		if p.peek() != ')' {
			return nil, p.errorf("expected \")\"")
		}
		p.pos++
		return List{Items: items, Comma: true}, nil
	}

	return nil, p.errorf("expected \")\"")
}

func (p *parser) parseBracketed() (Value, error) {
	p.pos++ // [
	p.skipSpace()
	if p.peek() == ']' {
		p.pos++
		return List{Bracketed: true}, nil
	}
	v, err := p.parseList(true)
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.peek() != ']' {
		return nil, p.errorf("expected \"]\"")
	}
	p.pos++
	if l, ok := v.(List); ok && !l.Bracketed {
		l.Bracketed = true
		return l, nil
	}
	return List{Items: []Value{v}, Bracketed: true}, nil
}

// parseCall evaluates a registered function call; pos is at "(".
func (p *parser) parseCall(fn *Function) (Value, error) {
	callPos := p.pos
	p.pos++ // (

	var positional []Value
	named := map[string]Value{}

	for {
		p.skipSpace()
		if p.peek() == ')' {
			p.pos++
			break
		}

		name, v, err := p.parseArg()
		if err != nil {
			return nil, err
		}
		switch {
		case name != "":
			named[name] = v
		case len(named) > 0:
			return nil, p.errorf("positional argument after named arguments in %s()", fn.Name)
		default:
			positional = append(positional, v)
		}

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case ')':
		default:
			return nil, p.errorf("expected \",\" or \")\" in %s()", fn.Name)
		}
	}

	args, err := fn.bind(positional, named)
	if err != nil {
		return nil, newError(p.src, callPos, "%v", err)
	}
	v, err := fn.Call(p.env, args)
	if err != nil {
		return nil, newError(p.src, callPos, "%s(): %v", fn.Name, err)
	}
	p.called = true
	return v, nil
}

// parseArg reads one call argument. name is set for "$name: value".
func (p *parser) parseArg() (name string, v Value, err error) {
	if p.peek() == '$' {
		ident := readIdent(p.src, p.pos+1)
		q := &parser{src: p.src, pos: p.pos + 1 + len(ident)}
		q.skipSpace()
		if ident != "" && q.peek() == ':' {
			p.pos = q.pos + 1
			name = normalizeName(ident)
		}
	}
	v, err = p.parseList(false)
	return name, v, err
}

// readQuoted reads a quoted string at pos and resolves its escapes.
func readQuoted(src string, pos int) (string, int, error) {
	quote := src[pos]
	var b strings.Builder
	i := pos + 1
	for i < len(src) {
		c := src[i]
		switch {
		case c == quote:
			return b.String(), i + 1, nil
		case c == '#' && i+1 < len(src) && src[i+1] == '{':
			return "", i, newError(src, i, "interpolation is not supported in function arguments")
		case c == '\n':
			return "", i, newError(src, pos, "unterminated string")
		case c == '\\' && i+1 < len(src):
			i++
			if src[i] == '\n' {
				i++
				continue
			}
			j := i
			for j < len(src) && j-i < 6 && isHex(src[j]) {
				j++
			}
			if j > i {
				n, _ := strconv.ParseUint(src[i:j], 16, 32)
				b.WriteRune(rune(n))
				if j < len(src) && (src[j] == ' ' || src[j] == '\t') {
					j++
				}
				i = j
				continue
			}
			r, size := utf8.DecodeRuneInString(src[i:])
			b.WriteRune(r)
			i += size
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", i, newError(src, pos, "unterminated string")
}

// skipBalanced returns the offset just past the ")" matching the "(" at pos.
func skipBalanced(src string, pos int) (int, error) {
	depth := 0
	for i := pos; i < len(src); i++ {
		switch src[i] {
		case '"', '\'':
			_, end, err := readQuoted(src, i)
			if err != nil {
				return 0, err
			}
			i = end - 1
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i + 1, nil
			}
		}
	}
	return 0, newError(src, pos, "unclosed \"(\"")
}

func readIdent(src string, pos int) string {
	end := pos
	for end < len(src) && isIdentChar(src[end]) {
		end++
	}
	return src[pos:end]
}

func isIdentStart(src string, pos int) bool {
	if pos >= len(src) {
		return false
	}
	c := src[pos]
	if c == '-' {
		return pos+1 < len(src) && (isLetter(src[pos+1]) || src[pos+1] == '-' || src[pos+1] == '_')
	}
	return isLetter(c) || c == '_'
}

func isIdentChar(c byte) bool {
	return isLetter(c) || isDigit(c) || c == '-' || c == '_'
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHex(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// Sass treats "-" and "_" in names as the same character.
func normalizeName(name string) string {
	return strings.ReplaceAll(name, "_", "-")
}
