package sassfn

import (
	"fmt"
	"html"
	"strings"
)

// ModuleMembers maps members of the built-in zoetrope: modules onto
// registered functions, so `@use "zoetrope:metadata"` followed by
// `metadata.update(...)` reaches updateMetadata.
var ModuleMembers = map[string]map[string]string{
	"metadata": {"update": "updateMetadata"},
}

// Builtins returns a registry holding html, svg, implode, encode and
// updateMetadata (alias metadata-update).
func Builtins() *Registry {
	r := NewRegistry()
	r.MustRegister("html($tagName, $props: (), $children: '')", htmlFunc)
	r.MustRegister("svg($x, $y, $w, $h, $children: '')", svgFunc)
	r.MustRegister("implode($pieces, $glue: '')", implodeFunc)
	r.MustRegister("encode($str)", encodeFunc)
	r.MustRegister("updateMetadata($newMetadata)", updateMetadataFunc)
	r.MustRegister("metadata-update($newMetadata)", updateMetadataFunc)
	return r
}

// https://html.spec.whatwg.org/multipage/syntax.html#void-elements
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

type attribute struct {
	key   string
	value Value
}

func htmlFunc(_ *Env, args []Value) (Value, error) {
	name, err := assertString(args[0], "tagName")
	if err != nil {
		return nil, err
	}
	props, ok := asMap(args[1])
	if !ok {
		return nil, fmt.Errorf("$props: %s is not a map", Inspect(args[1]))
	}
	children, err := assertText(args[2], "children")
	if err != nil {
		return nil, err
	}

	attrs := make([]attribute, len(props.Keys))
	for i := range props.Keys {
		attrs[i] = attribute{key: Unquote(props.Keys[i]), value: props.Values[i]}
	}
	return String{Text: createElement(name, attrs, children)}, nil
}

func svgFunc(_ *Env, args []Value) (Value, error) {
	box := make([]string, 4)
	for i, param := range []string{"x", "y", "w", "h"} {
		n, ok := args[i].(Number)
		if !ok {
			return nil, fmt.Errorf("$%s: %s is not a number", param, Inspect(args[i]))
		}
		box[i] = formatNumber(n.Value)
	}
	children, err := assertText(args[4], "children")
	if err != nil {
		return nil, err
	}

	el := createElement("svg", []attribute{
		{"xmlns", String{Text: "http://www.w3.org/2000/svg"}},
		{"xmlns:xlink", String{Text: "http://www.w3.org/1999/xlink"}},
		{"viewBox", String{Text: strings.Join(box, " ")}},
	}, children)

	return String{Text: `url("data:image/svg+xml;utf8,` + EncodeURIComponent(el) + `")`}, nil
}

func implodeFunc(_ *Env, args []Value) (Value, error) {
	pieces := asList(args[0])
	parts := make([]string, len(pieces))
	for i, piece := range pieces {
		parts[i] = Unquote(piece)
	}
	return String{Text: strings.Join(parts, Unquote(args[1]))}, nil
}

func encodeFunc(_ *Env, args []Value) (Value, error) {
	s, err := assertText(args[0], "str")
	if err != nil {
		return nil, err
	}
	return String{Text: EncodeURIComponent(s)}, nil
}

func updateMetadataFunc(env *Env, args []Value) (Value, error) {
	m, ok := asMap(args[0])
	if !ok {
		return nil, fmt.Errorf("$newMetadata: %s is not a map", Inspect(args[0]))
	}
	for i := range m.Keys {
		env.setMetadata(Unquote(m.Keys[i]), Unquote(m.Values[i]))
	}
	return String{}, nil
}

func createElement(name string, attrs []attribute, children string) string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(name)
	for _, a := range attrs {
		switch v := a.value.(type) {
		case Bool:
			if v {
				b.WriteByte(' ')
				b.WriteString(a.key)
			}
		case Null:
		default:
			fmt.Fprintf(&b, ` %s="%s"`, a.key, html.EscapeString(Unquote(v)))
		}
	}
	b.WriteByte('>')

	if voidElements[strings.ToLower(name)] && children == "" {
		return b.String()
	}
	b.WriteString(children)
	b.WriteString("</")
	b.WriteString(name)
	b.WriteByte('>')
	return b.String()
}

func assertString(v Value, param string) (string, error) {
	s, ok := v.(String)
	if !ok || s.Text == "" {
		return "", fmt.Errorf("$%s: %s is not a non-empty string", param, Inspect(v))
	}
	return s.Text, nil
}

// assertText accepts strings, numbers and null.
func assertText(v Value, param string) (string, error) {
	switch v.(type) {
	case String, Number, Null:
		return Unquote(v), nil
	}
	return "", fmt.Errorf("$%s: %s is not a string", param, Inspect(v))
}

const upperHex = "0123456789ABCDEF"

// EncodeURIComponent escapes s the way JavaScript's encodeURIComponent does.
func EncodeURIComponent(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isLetter(c) && c < 0x80 || isDigit(c) || strings.IndexByte("-_.!~*'()", c) >= 0 {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&15])
	}
	return b.String()
}
