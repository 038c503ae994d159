// Package condition scores condition-node branch rules against the latest
// user message and the instance variables.
package condition

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

// Rule is one branch of a condition node. Label names the outgoing edge
// taken when the rule matches.
type Rule struct {
	Field    string `json:"field" yaml:"field"`
	Operator string `json:"operator" yaml:"operator"`
	Value    string `json:"value" yaml:"value"`
	Label    string `json:"label" yaml:"label"`
}

// Env is everything a rule can look at.
type Env struct {
	Message   string
	UserName  string
	Phone     string
	Variables map[string]any
}

type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpGreater     Operator = "greater"
	OpLess        Operator = "less"
	OpExists      Operator = "exists"
	OpRegex       Operator = "regex"
	OpExpression  Operator = "expression"
)

var synonyms = map[string]Operator{
	"equals": OpEquals, "equal": OpEquals, "eq": OpEquals, "==": OpEquals, "igual": OpEquals,
	"not_equals": OpNotEquals, "ne": OpNotEquals, "!=": OpNotEquals, "diferente": OpNotEquals,
	"contains": OpContains, "contem": OpContains, "contém": OpContains,
	"not_contains": OpNotContains, "nao_contem": OpNotContains, "não_contém": OpNotContains,
	"starts_with": OpStartsWith, "comeca_com": OpStartsWith, "começa_com": OpStartsWith,
	"ends_with": OpEndsWith, "termina_com": OpEndsWith,
	"greater": OpGreater, "gt": OpGreater, ">": OpGreater, "maior": OpGreater, "maior_que": OpGreater,
	"less": OpLess, "lt": OpLess, "<": OpLess, "menor": OpLess, "menor_que": OpLess,
	"exists": OpExists, "existe": OpExists,
	"regex": OpRegex, "matches": OpRegex,
	"expression": OpExpression, "expr": OpExpression,
}

// ParseOperator maps an operator name or one of its localized synonyms to
// its canonical form.
func ParseOperator(name string) (Operator, bool) {
	op, ok := synonyms[strings.ToLower(strings.TrimSpace(name))]
	return op, ok
}

type Evaluator struct {
	l *slog.Logger
}

func NewEvaluator(l *slog.Logger) *Evaluator {
	if l == nil {
		l = slog.Default()
	}
	return &Evaluator{l: l}
}

// Select returns the index of the first rule that matches, in declaration
// order. Later rules are not evaluated once one matches.
func (e *Evaluator) Select(rules []Rule, env Env) (int, bool) {
	for i, r := range rules {
		if e.Evaluate(r, env) {
			return i, true
		}
	}
	return -1, false
}

// Evaluate scores a single rule. Malformed patterns, unparsable numbers and
// unknown operators evaluate to false.
func (e *Evaluator) Evaluate(rule Rule, env Env) bool {
	op, ok := ParseOperator(rule.Operator)
	if !ok {
		e.l.Warn("unknown condition operator", "operator", rule.Operator, "field", rule.Field)
		return false
	}

	if op == OpExists {
		v, found := lookup(rule.Field, env, false)
		return found && strings.TrimSpace(v) != ""
	}
	if op == OpExpression {
		return e.evalExpression(rule, env)
	}

	value, _ := lookup(rule.Field, env, true)

	switch op {
	case OpEquals, OpNotEquals:
		eq := equals(value, rule.Value)
		if op == OpNotEquals {
			return !eq
		}
		return eq
	case OpContains:
		return strings.Contains(fold(value), fold(rule.Value))
	case OpNotContains:
		return !strings.Contains(fold(value), fold(rule.Value))
	case OpStartsWith:
		return strings.HasPrefix(fold(value), fold(rule.Value))
	case OpEndsWith:
		return strings.HasSuffix(fold(value), fold(rule.Value))
	case OpGreater, OpLess:
		left, lok := parseNumber(value)
		right, rok := parseNumber(rule.Value)
		if !lok || !rok {
			return false
		}
		if op == OpGreater {
			return left > right
		}
		return left < right
	case OpRegex:
		re, err := regexp.Compile("(?i)" + rule.Value)
		if err != nil {
			e.l.Warn("invalid condition pattern", "pattern", rule.Value, "error", err)
			return false
		}
		return re.MatchString(value)
	}
	return false
}

func (e *Evaluator) evalExpression(rule Rule, env Env) bool {
	value, _ := lookup(rule.Field, env, true)
	scope := scopeOf(env.Variables)
	scope["value"] = value
	scope["message"] = env.Message
	scope["user_name"] = env.UserName
	scope["phone"] = env.Phone

	program, err := expr.Compile(normalizeExpression(rule.Value), expr.Env(scope), expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		e.l.Warn("invalid condition expression", "expression", rule.Value, "error", err)
		return false
	}
	out, err := expr.Run(program, scope)
	if err != nil {
		e.l.Warn("condition expression failed", "expression", rule.Value, "error", err)
		return false
	}
	b, _ := out.(bool)
	return b
}

// lookup resolves a rule field. The aliases message/user_message, user_name
// and phone map to fixed sources; other names are variables. When fallback
// is set an unknown variable resolves to the raw message.
func lookup(field string, env Env, fallback bool) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "", "message", "user_message", "mensagem":
		return env.Message, true
	case "user_name", "nome":
		return env.UserName, env.UserName != ""
	case "phone", "telefone":
		return env.Phone, env.Phone != ""
	}
	if v, ok := env.Variables[field]; ok && v != nil {
		return text(v), true
	}
	if fallback {
		return env.Message, true
	}
	return "", false
}

func text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case fmt.Stringer:
		return t.String()
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

func equals(value, want string) bool {
	if right, ok := parseNumber(want); ok {
		if left, ok := parseNumber(value); ok {
			return left == right
		}
	}
	return fold(value) == fold(want)
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// parseNumber accepts both "3.5" and the comma-decimal "3,5".
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	if !strings.Contains(s, ".") && strings.Count(s, ",") == 1 {
		if f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
