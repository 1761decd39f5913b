package prompts

import (
	"strings"
	"testing"
)

func TestRenderSubstitution(t *testing.T) {
	tpl := NewTemplate("t", "1.0", "Hello {{name}}, you are {{age}} years old.")
	got := tpl.Render(map[string]interface{}{"name": "Alice", "age": 30})
	want := "Hello Alice, you are 30 years old."
	if got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestRenderMissingVariable(t *testing.T) {
	tpl := NewTemplate("t", "1.0", "Hello {{name}}")
	got := tpl.Render(map[string]interface{}{})
	if got != "Hello [MISSING:name]" {
		t.Errorf("Render() = %q, want [MISSING:name] marker", got)
	}
}

func TestRenderConditionals(t *testing.T) {
	text := "{{#if flag}}yes {{value}}{{/if}}{{#unless flag}}no{{/unless}}"
	tpl := NewTemplate("t", "1.0", text)

	got := tpl.Render(map[string]interface{}{"flag": true, "value": "x"})
	if got != "yes x" {
		t.Errorf("Render(flag=true) = %q, want %q", got, "yes x")
	}

	got = tpl.Render(map[string]interface{}{"flag": false})
	if got != "no" {
		t.Errorf("Render(flag=false) = %q, want %q", got, "no")
	}
}

func TestRenderConditionalTruthiness(t *testing.T) {
	tpl := NewTemplate("t", "1.0", "{{#if v}}on{{/if}}{{#unless v}}off{{/unless}}")

	tests := []struct {
		name  string
		value interface{}
		want  string
	}{
		{"nil", nil, "off"},
		{"empty string", "", "off"},
		{"string", "x", "on"},
		{"zero", 0, "off"},
		{"int", 3, "on"},
		{"empty slice", []interface{}{}, "off"},
		{"slice", []interface{}{1}, "on"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tpl.Render(map[string]interface{}{"v": tt.value})
			if got != tt.want {
				t.Errorf("Render(v=%v) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestRenderJSONValues(t *testing.T) {
	tpl := NewTemplate("t", "1.0", "Data: {{data}}")
	got := tpl.Render(map[string]interface{}{
		"data": map[string]interface{}{"key": "value"},
	})
	if !strings.Contains(got, `"key": "value"`) {
		t.Errorf("Render() = %q, want pretty JSON", got)
	}
}

func TestVariables(t *testing.T) {
	tpl := NewTemplate("t", "1.0", "{{a}} {{b}} {{a}} {{#if c}}{{d}}{{/if}}")
	vars := tpl.Variables()
	// Deduplicated; conditional markers excluded, but their bodies counted.
	want := map[string]bool{"a": true, "b": true, "c": true, "d": true}
	for _, v := range vars {
		if !want[v] {
			t.Errorf("unexpected variable %q", v)
		}
		delete(want, v)
	}
	// The #if marker variable c is matched by the body pattern only if written
	// as {{c}}; it is acceptable for it to be absent.
	delete(want, "c")
	if len(want) != 0 {
		t.Errorf("missing variables: %v", want)
	}
}

func TestMissingVariables(t *testing.T) {
	tpl := NewTemplate("t", "1.0", "{{a}} {{b}}")
	missing := tpl.MissingVariables(map[string]interface{}{"a": 1})
	if len(missing) != 1 || missing[0] != "b" {
		t.Errorf("MissingVariables() = %v, want [b]", missing)
	}
}
