package condition

import (
	"regexp"
	"strings"
)

var (
	hyphenStartOrEndRe = regexp.MustCompile(`(^|[^ ])-([^ ]|$)`)
	hyphenMiddleRe     = regexp.MustCompile(`([^ ])-([^ ])`)
)

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// identifier turns a variable name such as "order.total" or "customer-name"
// into an expression identifier ("order_total", "customer_name").
func identifier(key string) string {
	key = strings.ReplaceAll(key, ".", "_")
	key = hyphenStartOrEndRe.ReplaceAllString(key, "${1}_${2}")
	key = hyphenMiddleRe.ReplaceAllString(key, "${1}_${2}")
	return key
}

// normalizeExpression rewrites dotted and hyphenated variable references
// outside string literals to match the identifiers built by scopeOf.
// Optional chaining (?.), lambda accessors (#.) and decimal literals are
// left alone.
func normalizeExpression(e string) string {
	result := []rune(e)
	openParentheses := 0
	inDoubleQuote := false
	inSingleQuote := false
	escapeNext := false

	for i, r := range result {
		if escapeNext {
			escapeNext = false
			continue
		}
		if (inDoubleQuote || inSingleQuote) && r == '\\' {
			escapeNext = true
			continue
		}
		if r == '"' && !inSingleQuote {
			inDoubleQuote = !inDoubleQuote
			continue
		}
		if r == '\'' && !inDoubleQuote {
			inSingleQuote = !inSingleQuote
			continue
		}
		if inDoubleQuote || inSingleQuote {
			continue
		}

		switch r {
		case '(':
			openParentheses++
		case ')':
			openParentheses--
		case '.':
			if i > 0 && (result[i-1] == '?' || result[i-1] == '#') {
				continue
			}
			if i > 0 && i < len(result)-1 && isDigit(result[i-1]) && isDigit(result[i+1]) {
				continue
			}
			result[i] = '_'
		case '-':
			if openParentheses != 0 || i == 0 || i == len(result)-1 {
				continue
			}
			// a-b is a name, a - b is a subtraction
			if result[i-1] != ' ' && result[i+1] != ' ' && !isDigit(result[i+1]) {
				result[i] = '_'
			}
		}
	}
	return string(result)
}

// scopeOf flattens variables into expression identifiers. Object values are
// reachable both whole and through their flattened fields, so
// "order.total > 100" works against a webhook response stored as "order".
func scopeOf(vars map[string]any) map[string]any {
	scope := make(map[string]any, len(vars))
	for k, v := range vars {
		flatten(scope, identifier(k), v)
	}
	return scope
}

func flatten(scope map[string]any, key string, v any) {
	scope[key] = v
	if m, ok := v.(map[string]any); ok {
		for k, item := range m {
			flatten(scope, key+"_"+identifier(k), item)
		}
	}
}
