package runtime

import (
	"encoding/json"
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Render replaces {{name}} placeholders with the text of the matching
// variable. Unknown variables render as the empty string.
func Render(tmpl string, vars Variables) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		return vars.Text(name)
	})
}

// RenderJSON is Render for JSON templates. A placeholder inside a string
// literal is replaced by the escaped text of the variable; a bare
// placeholder is replaced by the variable's JSON encoding, so
// {"total": {{amount}}, "order": {{order}}} keeps numbers and objects typed.
func RenderJSON(tmpl string, vars Variables) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}

	var b strings.Builder
	last := 0
	for _, loc := range placeholderRe.FindAllStringSubmatchIndex(tmpl, -1) {
		start, end := loc[0], loc[1]
		name := tmpl[loc[2]:loc[3]]
		b.WriteString(tmpl[last:start])

		v, ok := vars[name]
		if insideString(tmpl[:start]) {
			if ok {
				escaped, _ := json.Marshal(v.String())
				b.Write(escaped[1 : len(escaped)-1])
			}
		} else if ok {
			raw, err := v.MarshalJSON()
			if err != nil {
				raw = []byte("null")
			}
			b.Write(raw)
		} else {
			b.WriteString("null")
		}
		last = end
	}
	b.WriteString(tmpl[last:])
	return b.String()
}

// insideString reports whether the JSON prefix ends inside a string literal.
func insideString(prefix string) bool {
	in := false
	escaped := false
	for i := 0; i < len(prefix); i++ {
		c := prefix[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && in:
			escaped = true
		case c == '"':
			in = !in
		}
	}
	return in
}
