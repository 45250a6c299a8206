package sassfn

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func expandPlain(t *testing.T, src string) *Result {
	t.Helper()
	res, err := Expand(src, Options{Plain: true})
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	return res
}

func TestUnquote(t *testing.T) {
	tests := []struct {
		name string
		in   Value
		want string
	}{
		{"QuotedString", String{Text: "hi", Quoted: true}, "hi"},
		{"UnquotedString", String{Text: "none"}, "none"},
		{"Integer", Number{Value: 4}, "4"},
		{"Fraction", Number{Value: 0.5}, "0.5"},
		{"WithUnit", Number{Value: 12, Unit: "px"}, "12px"},
		{"Repeating", Number{Value: 1.0 / 3}, "0.3333333333"},
		{"True", Bool(true), "true"},
		{"Null", Null{}, ""},
		{"SpaceList", List{Items: []Value{Number{Value: 1}, String{Text: "a", Quoted: true}}}, "1 a"},
		{"CommaList", List{Items: []Value{String{Text: "a"}, String{Text: "b"}}, Comma: true}, "a, b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Unquote(tt.in); got != tt.want {
				t.Errorf("Unquote() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInspect(t *testing.T) {
	tests := []struct {
		in   Value
		want string
	}{
		{String{Text: `say "hi"`, Quoted: true}, `"say \"hi\""`},
		{List{}, "()"},
		{Map{Keys: []Value{String{Text: "class"}}, Values: []Value{String{Text: "x", Quoted: true}}}, `(class: "x")`},
		{List{Items: []Value{String{Text: "a", Quoted: true}}, Comma: true}, `("a",)`},
	}
	for _, tt := range tests {
		if got := Inspect(tt.in); got != tt.want {
			t.Errorf("Inspect(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestImplode(t *testing.T) {
	res := expandPlain(t, `.a { content: implode(("a", "b", "c"), "-"); }`)
	if want := `.a { content: a-b-c; }`; res.Source != want {
		t.Errorf("Source = %q, want %q", res.Source, want)
	}
	if res.Calls != 1 {
		t.Errorf("Calls = %d, want 1", res.Calls)
	}
}

func TestImplodeNumbersAndDefaultGlue(t *testing.T) {
	res := expandPlain(t, `a { b: implode((1 0.5 "x" 12px)); }`)
	if want := `a { b: 10.5x12px; }`; res.Source != want {
		t.Errorf("Source = %q, want %q", res.Source, want)
	}
}

func TestHTML(t *testing.T) {
	tests := []struct {
		name string
		call string
		want string
	}{
		{"Basic", `html("div", (class: "x"), "hi")`, `<div class="x">hi</div>`},
		{"NoProps", `html(span)`, `<span></span>`},
		{"OrderedProps", `html("a", ("href": "/", "id": 'home'), "x")`, `<a href="/" id="home">x</a>`},
		{"Escaped", `html("p", (title: 'a "b" & c'), "")`, `<p title="a &#34;b&#34; &amp; c"></p>`},
		{"Void", `html("img", (src: "a.png"))`, `<img src="a.png">`},
		{"VoidWithChildren", `html("br", (), "x")`, `<br>x</br>`},
		{"BoolAttr", `html("input", (disabled: true, hidden: false, value: null))`, `<input disabled>`},
		{"NumberValue", `html("rect", (width: 10, x: 0.5))`, `<rect width="10" x="0.5"></rect>`},
		{"Nested", `html("ul", (), html("li", (), "one") + html("li", (), "two"))`, `<ul><li>one</li><li>two</li></ul>`},
		{"Named", `html($tagName: "b", $children: "bold")`, `<b>bold</b>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := expandPlain(t, "a { content: "+tt.call+"; }")
			want := "a { content: " + tt.want + "; }"
			if res.Source != want {
				t.Errorf("Source = %q, want %q", res.Source, want)
			}
		})
	}
}

func TestSVG(t *testing.T) {
	res := expandPlain(t, `a { background: svg(0, 0, 10, 10, html("path", (d: "M0,0 L10,10"))); }`)

	el := `<svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink" viewBox="0 0 10 10"><path d="M0,0 L10,10"></path></svg>`
	want := `a { background: url("data:image/svg+xml;utf8,` + EncodeURIComponent(el) + `"); }`
	if res.Source != want {
		t.Errorf("Source = %q, want %q", res.Source, want)
	}
	if !strings.Contains(res.Source, "%3Csvg%20xmlns%3D%22http%3A%2F%2Fwww.w3.org%2F2000%2Fsvg%22") {
		t.Errorf("svg not URI-component encoded: %q", res.Source)
	}
}

func TestEncodeURIComponent(t *testing.T) {
	tests := map[string]string{
		"abc-_.!~*'()": "abc-_.!~*'()",
		"a b":          "a%20b",
		`<a href="/">`: "%3Ca%20href%3D%22%2F%22%3E",
		"é":            "%C3%A9",
		"#?&=+,;:@$":   "%23%3F%26%3D%2B%2C%3B%3A%40%24",
	}
	for in, want := range tests {
		if got := EncodeURIComponent(in); got != want {
			t.Errorf("EncodeURIComponent(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestVariables(t *testing.T) {
	src := `$tag: "em";
$words: ("x", "y");
a { content: html($tag, (), implode($words, ",")); color: $tag; }`

	res := expandPlain(t, src)
	want := "\n\na { content: <em>x,y</em>; color: em; }"
	if res.Source != want {
		t.Errorf("Source = %q, want %q", res.Source, want)
	}
}

func TestSassOutputKeepsDeclarations(t *testing.T) {
	emit := func(v Value) string { return "unquote(" + Quote(Unquote(v)) + ")" }
	src := `$n: 3;
$icon: svg(0, 0, 1, 1) !default;
a { b: $n; c: html("i"); }`

	res, err := Expand(src, Options{Emit: emit})
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if !strings.HasPrefix(res.Source, "$n: 3;\n$icon: unquote(\"url(") {
		t.Errorf("declarations not preserved: %q", res.Source)
	}
	if !strings.Contains(res.Source, `!default;`) {
		t.Errorf("flag dropped: %q", res.Source)
	}
	if !strings.HasSuffix(res.Source, `a { b: $n; c: unquote("<i></i>"); }`) {
		t.Errorf("rule body = %q", res.Source)
	}
}

func TestUnknownFunctionsPassThrough(t *testing.T) {
	src := `@use "sass:math";
$w: math.div(10px, 2);
a { width: $w; color: rgba(0, 0, 0, .5); background: url(//cdn.example.com/a.png); }
html { margin: 0; }`

	res, err := Expand(src, Options{})
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if res.Source != src || res.Calls != 0 {
		t.Errorf("Source changed without registered calls:\n%s", res.Source)
	}
}

func TestCommentsAndStrings(t *testing.T) {
	src := `/* html("x") */
// implode(("a"), "-")
a { content: "html('b')"; }`

	res, err := Expand(src, Options{})
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if res.Source != src {
		t.Errorf("calls inside comments or strings were expanded: %q", res.Source)
	}

	plain := expandPlain(t, src)
	if strings.Contains(plain.Source, "// implode") {
		t.Errorf("line comment kept in plain output: %q", plain.Source)
	}
}

func TestUpdateMetadata(t *testing.T) {
	src := `$_: updateMetadata((title: "metadata", author: zoetrope, source: "https://example.com/source"));
a { b: c; }`

	res := expandPlain(t, src)
	want := map[string]string{
		"title":  "metadata",
		"author": "zoetrope",
		"source": "https://example.com/source",
	}
	if !reflect.DeepEqual(res.Metadata, want) {
		t.Errorf("Metadata = %v, want %v", res.Metadata, want)
	}
	if strings.Contains(res.Source, "updateMetadata") || strings.Contains(res.Source, "$_") {
		t.Errorf("declaration left in plain output: %q", res.Source)
	}
}

func TestModuleNamespace(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"Default", `@use "zoetrope:metadata";
$_: metadata.update((description: "d"));`},
		{"Alias", `@use "zoetrope:metadata" as meta;
$_: meta.update((description: "d"));`},
		{"Star", `@use 'zoetrope:metadata' as *;
$_: update((description: "d"));`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := expandPlain(t, tt.src)
			if res.Metadata["description"] != "d" {
				t.Errorf("Metadata = %v", res.Metadata)
			}
			if strings.Contains(res.Source, "@use") {
				t.Errorf("zoetrope module rule kept in plain output: %q", res.Source)
			}
		})
	}
}

func TestDefinitionsAreNotCalls(t *testing.T) {
	src := `@mixin html($x) { a: $x; }
.b { @include html(1); }`
	res, err := Expand(src, Options{})
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if res.Source != src {
		t.Errorf("Source = %q", res.Source)
	}
}

func TestExpandErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantMsg string
		line    int
	}{
		{"Unclosed", "a {\n  b: implode((\"x\"), \"-\");\n", `unclosed "{"`, 1},
		{"UnclosedCall", "a { b: implode(\"x\"; }", "", 1},
		{"UndefinedVariable", "a {\n  b: html($tag);\n}", "undefined variable $tag", 2},
		{"BadProps", `a { b: html("div", "x"); }`, "is not a map", 1},
		{"TooManyArgs", `a { b: encode("a", "b"); }`, "takes 1 arguments", 1},
		{"UnknownNamed", `a { b: encode($string: "a"); }`, "no argument named $string", 1},
		{"StrayBrace", "a { b: c; } }", `unexpected "}"`, 1},
		{"UnterminatedString", "a { b: \"oops; }\n", "unterminated string", 1},
		{"SVGNeedsNumbers", `a { b: svg(a, 0, 1, 1); }`, "$x", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Expand(tt.src, Options{})
			var sErr *Error
			if !errors.As(err, &sErr) {
				t.Fatalf("Expand() error = %v, want *Error", err)
			}
			if tt.wantMsg != "" && !strings.Contains(sErr.Message, tt.wantMsg) {
				t.Errorf("Message = %q, want it to contain %q", sErr.Message, tt.wantMsg)
			}
			if sErr.Line != tt.line {
				t.Errorf("Line = %d, want %d", sErr.Line, tt.line)
			}
		})
	}
}

func TestScopes(t *testing.T) {
	t.Run("RuleLocalShadowsGlobal", func(t *testing.T) {
		res := expandPlain(t, `$c: red;
a { $c: blue; --m: html("i", (fill: $c)); }
b { --m: html("i", (fill: $c)); }`)
		if !strings.Contains(res.Source, `<i fill="blue"></i>`) {
			t.Errorf("rule-local value not used: %q", res.Source)
		}
		if !strings.Contains(res.Source, `b { --m: <i fill="red"></i>; }`) {
			t.Errorf("global value changed by a rule-local assignment: %q", res.Source)
		}
	})

	t.Run("GlobalFlag", func(t *testing.T) {
		res := expandPlain(t, `$c: red;
a { $c: green !global; }
b { --m: html("i", (fill: $c)); }`)
		if !strings.Contains(res.Source, `<i fill="green"></i>`) {
			t.Errorf("!global assignment ignored: %q", res.Source)
		}
	})

	t.Run("InterpolationInQuotedString", func(t *testing.T) {
		res := expandPlain(t, `a { content: "#{implode(("a", "b"), "-")}"; }`)
		if res.Source != `a { content: "a-b"; }` {
			t.Errorf("Source = %q, want the call expanded inside the string", res.Source)
		}
	})

	t.Run("InterpolationEscapesQuotes", func(t *testing.T) {
		res := expandPlain(t, `a { content: "#{html("b", (title: "x"))}"; }`)
		if res.Source != `a { content: "<b title=\"x\"></b>"; }` {
			t.Errorf("Source = %q", res.Source)
		}
	})

	runtime := []struct {
		name, src, variable string
		line                int
	}{
		{"MixinParameterShadowsGlobal", `$size: 1;
@mixin box($size) { --icon: svg(0, 0, $size, $size); }
.a { @include box(10); }`, "$size", 2},
		{"FunctionParameter", `@function tag($t) { @return html($t); }`, "$t", 1},
		{"EachVariable", `@each $c in red, blue {
  .x-#{$c} { --m: html("i", (fill: $c)); }
}`, "$c", 2},
		{"ForVariable", `@for $i from 1 through 3 {
  .x { --m: implode(($i, 2)); }
}`, "$i", 2},
		{"ConditionalAssignment", `$c: red;
@if true { $c: blue; }
a { --m: html("i", (fill: $c)); }`, "$c", 3},
	}
	for _, tt := range runtime {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Expand(tt.src, Options{Plain: true})
			var sErr *Error
			if !errors.As(err, &sErr) {
				t.Fatalf("Expand() error = %v, want *Error", err)
			}
			if !strings.Contains(sErr.Message, tt.variable) || !strings.Contains(sErr.Message, "while Sass runs") {
				t.Errorf("Message = %q, want it to name %s as a runtime value", sErr.Message, tt.variable)
			}
			if sErr.Line != tt.line {
				t.Errorf("Line = %d, want %d", sErr.Line, tt.line)
			}
		})
	}
}

func TestRegisterSignature(t *testing.T) {
	r := NewRegistry()
	err := r.Register("pair($a, $b: 2px)", func(_ *Env, args []Value) (Value, error) {
		return String{Text: Unquote(args[0]) + "/" + Unquote(args[1])}, nil
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register("broken", nil); err == nil {
		t.Errorf("Register(%q) error = nil, want error", "broken")
	}

	res, err := Expand(`a { b: pair(1px); c: pair(1px, $b: 3px); }`, Options{Registry: r, Plain: true})
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if want := `a { b: 1px/2px; c: 1px/3px; }`; res.Source != want {
		t.Errorf("Source = %q, want %q", res.Source, want)
	}
	if got := Builtins().Names(); len(got) != 6 {
		t.Errorf("Builtins().Names() = %v", got)
	}
}
