package conversion

import (
	"strings"
	"testing"
)

func TestConvert_Basic(t *testing.T) {
	c := NewConverter()

	html, err := c.Convert("Hello, **world**!")
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if !strings.Contains(html, "<strong>world</strong>") {
		t.Errorf("expected bold rendering, got %q", html)
	}
	if !strings.Contains(html, "<p>") {
		t.Errorf("expected paragraph tag, got %q", html)
	}
}

func TestConvert_GFMTable(t *testing.T) {
	c := NewConverter()

	md := "| Field | Value |\n|---|---|\n| Camera | X100 |\n"
	html, err := c.Convert(md)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if !strings.Contains(html, "<table>") || !strings.Contains(html, "<td>X100</td>") {
		t.Errorf("expected table rendering, got %q", html)
	}
}

func TestConvert_CodeHighlighting(t *testing.T) {
	c := NewConverter(WithHighlighting("monokai"))

	html, err := c.Convert("```go\nfunc main() {}\n```\n")
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if !strings.Contains(html, "<pre") {
		t.Errorf("expected highlighted code block, got %q", html)
	}
}

func TestConvert_MermaidBlock(t *testing.T) {
	c := NewConverter(WithHighlighting("monokai"))

	html, err := c.Convert("```mermaid\ngraph TD; A-->B;\n```\n")
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if !strings.Contains(html, "mermaid") {
		t.Errorf("expected mermaid block markup, got %q", html)
	}
}

func TestConvert_SanitizesScript(t *testing.T) {
	c := DefaultConverter()

	html, err := c.Convert("Hello <script>alert('xss')</script> world")
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Errorf("script tag survived sanitization: %q", html)
	}
	if !strings.Contains(html, "Hello") {
		t.Errorf("legitimate content lost: %q", html)
	}
}

func TestConvert_SanitizerKeepsHeadingIDs(t *testing.T) {
	c := DefaultConverter()

	html, err := c.Convert("# Camera Settings\n")
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if !strings.Contains(html, "<h1") || !strings.Contains(html, "id=") {
		t.Errorf("expected heading with anchor id, got %q", html)
	}
}

func TestConvertToSafeHTML(t *testing.T) {
	c := DefaultConverter()
	html := c.ConvertToSafeHTML("Just *italic* text")
	if !strings.Contains(html, "<em>italic</em>") {
		t.Errorf("expected italic rendering, got %q", html)
	}
}

func TestEscapeHTML(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`<b>&"'</b>`, "&lt;b&gt;&amp;&quot;&#39;&lt;/b&gt;"},
		{"plain", "plain"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := EscapeHTML(tt.in); got != tt.want {
			t.Errorf("EscapeHTML(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
