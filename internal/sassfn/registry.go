package sassfn

import (
	"fmt"
	"sort"
	"strings"
)

// Func receives its arguments bound to the declared parameters, defaults
// filled in.
type Func func(env *Env, args []Value) (Value, error)

type Param struct {
	Name       string
	Default    Value
	HasDefault bool
}

type Function struct {
	Name   string
	Params []Param
	Call   Func
}

// Env collects side effects of one expansion.
type Env struct {
	Metadata map[string]string
}

func (e *Env) setMetadata(key, value string) {
	if e.Metadata == nil {
		e.Metadata = map[string]string{}
	}
	e.Metadata[key] = value
}

type Registry struct {
	funcs map[string]*Function
}

func NewRegistry() *Registry {
	return &Registry{funcs: map[string]*Function{}}
}

// Register adds fn under a Sass signature such as `encode($str)`.
func (r *Registry) Register(signature string, fn Func) error {
	open := strings.IndexByte(signature, '(')
	if open <= 0 || !strings.HasSuffix(signature, ")") {
		return fmt.Errorf("invalid signature %q", signature)
	}
	name := strings.TrimSpace(signature[:open])

	params, err := parseParams(signature[open+1 : len(signature)-1])
	if err != nil {
		return fmt.Errorf("invalid signature %q: %w", signature, err)
	}

	r.funcs[normalizeName(name)] = &Function{Name: name, Params: params, Call: fn}
	return nil
}

func (r *Registry) MustRegister(signature string, fn Func) {
	if err := r.Register(signature, fn); err != nil {
		panic(err)
	}
}

// Names returns the registered function names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.funcs))
	for _, fn := range r.funcs {
		names = append(names, fn.Name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) lookup(name string, aliases map[string]string) *Function {
	if r == nil {
		return nil
	}
	if target, ok := aliases[name]; ok {
		name = target
	} else if strings.Contains(name, ".") {
		return nil
	}
	return r.funcs[normalizeName(name)]
}

func parseParams(s string) ([]Param, error) {
	var params []Param
	p := &parser{src: s}
	for {
		p.skipSpace()
		if p.peek() == 0 {
			return params, nil
		}
		if p.peek() != '$' {
			return nil, p.errorf("expected parameter")
		}
		name := readIdent(s, p.pos+1)
		if name == "" {
			return nil, p.errorf("expected parameter name")
		}
		p.pos += 1 + len(name)
		param := Param{Name: normalizeName(name)}

		p.skipSpace()
		if p.peek() == ':' {
			p.pos++
			def, err := p.parseSpaceList()
			if err != nil {
				return nil, err
			}
			param.Default, param.HasDefault = def, true
			p.skipSpace()
		}
		params = append(params, param)

		switch p.peek() {
		case ',':
			p.pos++
		case 0:
		default:
			return nil, p.errorf("expected \",\"")
		}
	}
}

func (fn *Function) bind(positional []Value, named map[string]Value) ([]Value, error) {
	if len(positional) > len(fn.Params) {
		return nil, fmt.Errorf("%s() takes %d arguments but %d were passed", fn.Name, len(fn.Params), len(positional))
	}
	for name := range named {
		if !fn.hasParam(name) {
			return nil, fmt.Errorf("%s(): no argument named $%s", fn.Name, name)
		}
	}

	args := make([]Value, len(fn.Params))
	for i, param := range fn.Params {
		switch v, ok := named[param.Name]; {
		case i < len(positional):
			if ok {
				return nil, fmt.Errorf("%s(): $%s passed both by position and by name", fn.Name, param.Name)
			}
			args[i] = positional[i]
		case ok:
			args[i] = v
		case param.HasDefault:
			args[i] = param.Default
		default:
			return nil, fmt.Errorf("%s(): missing argument $%s", fn.Name, param.Name)
		}
	}
	return args, nil
}

func (fn *Function) hasParam(name string) bool {
	for _, p := range fn.Params {
		if p.Name == name {
			return true
		}
	}
	return false
}
