package prompts

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	varPattern    = regexp.MustCompile(`\{\{(\w+)\}\}`)
	ifPattern     = regexp.MustCompile(`(?s)\{\{#if\s+(\w+)\}\}(.*?)\{\{/if\}\}`)
	unlessPattern = regexp.MustCompile(`(?s)\{\{#unless\s+(\w+)\}\}(.*?)\{\{/unless\}\}`)
)

// Template is a prompt template with {{variable}} substitution and
// {{#if}}/{{#unless}} conditional blocks.
type Template struct {
	Name    string
	Version string
	Text    string
}

// NewTemplate builds a template from raw text.
func NewTemplate(name, version, text string) *Template {
	return &Template{Name: name, Version: version, Text: text}
}

// Variables lists the distinct variable names the template references,
// excluding conditional markers.
func (t *Template) Variables() []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range varPattern.FindAllStringSubmatch(t.Text, -1) {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// Render substitutes context values into the template. Unknown variables
// render as [MISSING:name] rather than failing; maps and slices are
// serialized as pretty JSON.
func (t *Template) Render(context map[string]interface{}) string {
	rendered := t.Text

	// Conditionals first so their bodies get variable substitution too.
	rendered = ifPattern.ReplaceAllStringFunc(rendered, func(block string) string {
		m := ifPattern.FindStringSubmatch(block)
		if truthy(context[m[1]]) {
			return m[2]
		}
		return ""
	})
	rendered = unlessPattern.ReplaceAllStringFunc(rendered, func(block string) string {
		m := unlessPattern.FindStringSubmatch(block)
		if !truthy(context[m[1]]) {
			return m[2]
		}
		return ""
	})

	rendered = varPattern.ReplaceAllStringFunc(rendered, func(ref string) string {
		name := varPattern.FindStringSubmatch(ref)[1]
		value, ok := context[name]
		if !ok {
			return "[MISSING:" + name + "]"
		}
		return stringify(value)
	})

	return strings.TrimSpace(rendered)
}

// MissingVariables reports which referenced variables have no context value.
func (t *Template) MissingVariables(context map[string]interface{}) []string {
	var missing []string
	for _, name := range t.Variables() {
		if _, ok := context[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case float64:
		return x != 0
	case []string:
		return len(x) > 0
	case []interface{}:
		return len(x) > 0
	case map[string]interface{}:
		return len(x) > 0
	}
	return true
}

func stringify(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	}
	switch v.(type) {
	case map[string]interface{}, []interface{}, []string, []map[string]interface{}:
		data, err := json.MarshalIndent(v, "", "  ")
		if err == nil {
			return string(data)
		}
	}
	return fmt.Sprintf("%v", v)
}
