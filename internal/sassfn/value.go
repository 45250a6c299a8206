// Package sassfn evaluates zoetrope's stylesheet functions (html, svg,
// implode, encode, updateMetadata) ahead of the Sass compiler.
//
// Go has no host-function channel into Dart Sass, so calls to registered
// functions are found in the source, evaluated over their literal arguments
// and replaced by their result before the engine sees the text.
package sassfn

import (
	"strconv"
	"strings"
)

// Value is a Sass value as far as the evaluator understands Sass.
type Value interface {
	isValue()
}

type String struct {
	Text   string
	Quoted bool
}

type Number struct {
	Value float64
	Unit  string
}

type Bool bool

type Null struct{}

type List struct {
	Items     []Value
	Comma     bool
	Bracketed bool
}

// Map keeps insertion order.
type Map struct {
	Keys   []Value
	Values []Value
}

func (String) isValue() {}
func (Number) isValue() {}
func (Bool) isValue()   {}
func (Null) isValue()   {}
func (List) isValue()   {}
func (Map) isValue()    {}

// Unquote returns the raw host string for v. Quoted strings lose their
// quotes, numbers render in canonical decimal form with their unit.
func Unquote(v Value) string {
	switch x := v.(type) {
	case String:
		return x.Text
	case Number:
		return formatNumber(x.Value) + x.Unit
	case Bool:
		if x {
			return "true"
		}
		return "false"
	case Null, nil:
		return ""
	case List:
		parts := make([]string, 0, len(x.Items))
		for _, item := range x.Items {
			parts = append(parts, Unquote(item))
		}
		s := strings.Join(parts, x.separator())
		if x.Bracketed {
			return "[" + s + "]"
		}
		return s
	case Map:
		return inspectMap(x, Unquote)
	}
	return ""
}

// Inspect renders v back into Sass source that evaluates to v.
func Inspect(v Value) string {
	switch x := v.(type) {
	case String:
		if x.Quoted {
			return Quote(x.Text)
		}
		return x.Text
	case Null, nil:
		return "null"
	case List:
		if len(x.Items) == 0 {
			if x.Bracketed {
				return "[]"
			}
			return "()"
		}
		parts := make([]string, 0, len(x.Items))
		for _, item := range x.Items {
			s := Inspect(item)
			if l, ok := item.(List); ok && !l.Bracketed && len(l.Items) > 1 {
				s = "(" + s + ")"
			}
			parts = append(parts, s)
		}
		s := strings.Join(parts, x.separator())
		switch {
		case x.Bracketed:
			return "[" + s + "]"
		case len(x.Items) == 1 && x.Comma:
			return "(" + s + ",)"
		}
		return s
	case Map:
		return inspectMap(x, Inspect)
	}
	return Unquote(v)
}

// Quote renders s as a double-quoted Sass string literal.
func Quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\a `)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func (l List) separator() string {
	if l.Comma {
		return ", "
	}
	return " "
}

func inspectMap(m Map, render func(Value) string) string {
	parts := make([]string, len(m.Keys))
	for i := range m.Keys {
		parts[i] = render(m.Keys[i]) + ": " + render(m.Values[i])
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	// Sass keeps ten digits of precision.
	s := strconv.FormatFloat(f, 'f', 10, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// asMap accepts a Map or the empty list, which Sass treats as an empty map.
func asMap(v Value) (Map, bool) {
	switch x := v.(type) {
	case Map:
		return x, true
	case List:
		if len(x.Items) == 0 {
			return Map{}, true
		}
	}
	return Map{}, false
}

// asList treats any non-list value as a single-element list.
func asList(v Value) []Value {
	switch x := v.(type) {
	case List:
		return x.Items
	case Map:
		items := make([]Value, len(x.Keys))
		for i := range x.Keys {
			items[i] = List{Items: []Value{x.Keys[i], x.Values[i]}}
		}
		return items
	}
	return []Value{v}
}

func typeName(v Value) string {
	switch v.(type) {
	case String:
		return "string"
	case Number:
		return "number"
	case Bool:
		return "bool"
	case Null:
		return "null"
	case List:
		return "list"
	case Map:
		return "map"
	}
	return "unknown"
}
