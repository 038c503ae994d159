// Package validate classifies raw user answers against named formats.
//
// An empty value is always valid: whether an answer is required is decided
// by the input node, so the same check serves optional fields.
package validate

import (
	"regexp"
	"strings"
)

type Format string

const (
	FormatText   Format = "text"
	FormatEmail  Format = "email"
	FormatPhone  Format = "phone"
	FormatNumber Format = "number"
	FormatCPF    Format = "cpf"
	FormatCNPJ   Format = "cnpj"
	FormatCNH    Format = "cnh"
	FormatPlate  Format = "plate"
)

var aliases = map[string]Format{
	"": FormatText, "text": FormatText, "texto": FormatText,
	"email": FormatEmail, "e-mail": FormatEmail,
	"phone": FormatPhone, "telefone": FormatPhone, "celular": FormatPhone,
	"number": FormatNumber, "numero": FormatNumber, "número": FormatNumber,
	"cpf": FormatCPF, "cnpj": FormatCNPJ, "cnh": FormatCNH,
	"plate": FormatPlate, "placa": FormatPlate,
}

// ParseFormat maps a configured format name to a Format. Unrecognized names
// map to FormatText, which accepts everything.
func ParseFormat(name string) Format {
	if f, ok := aliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return f
	}
	return FormatText
}

var defaultMessages = map[Format]string{
	FormatEmail:  "Please enter a valid e-mail address.",
	FormatPhone:  "Please enter a valid phone number with area code.",
	FormatNumber: "Please enter numbers only.",
	FormatCPF:    "Please enter a valid CPF.",
	FormatCNPJ:   "Please enter a valid CNPJ.",
	FormatCNH:    "Please enter a valid CNH number.",
	FormatPlate:  "Please enter a valid vehicle plate.",
}

// DefaultMessage is the re-prompt used when a node configures none.
func DefaultMessage(f Format) string {
	if m, ok := defaultMessages[f]; ok {
		return m
	}
	return "Invalid answer, please try again."
}

// Check reports whether value matches the named format.
func Check(format, value string) bool {
	return ParseFormat(format).Check(value)
}

func (f Format) Check(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return true
	}
	switch f {
	case FormatEmail:
		return Email(value)
	case FormatPhone:
		return Phone(value)
	case FormatNumber:
		return Number(value)
	case FormatCPF:
		return CPF(value)
	case FormatCNPJ:
		return CNPJ(value)
	case FormatCNH:
		return CNH(value)
	case FormatPlate:
		return Plate(value)
	}
	return true
}

func Email(s string) bool {
	if strings.ContainsAny(s, " \t") || strings.Count(s, "@") != 1 {
		return false
	}
	local, domain, _ := strings.Cut(s, "@")
	if local == "" || domain == "" {
		return false
	}
	return strings.Contains(domain, ".") && !strings.HasPrefix(domain, ".") && !strings.HasSuffix(domain, ".")
}

var phonePattern = regexp.MustCompile(`^[1-9]{2}9?[0-9]{8}$`)

// Phone accepts a Brazilian number: two-digit area code followed by an
// 8-digit landline or 9-digit mobile number. Punctuation is ignored.
func Phone(s string) bool {
	return phonePattern.MatchString(digits(s))
}

func Number(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func CPF(s string) bool {
	d := digitSlice(s)
	if len(d) != 11 || allEqual(d) {
		return false
	}
	return d[9] == cpfDigit(d[:9], 10) && d[10] == cpfDigit(d[:10], 11)
}

func cpfDigit(d []int, weight int) int {
	sum := 0
	for _, n := range d {
		sum += n * weight
		weight--
	}
	r := sum * 10 % 11
	if r == 10 {
		return 0
	}
	return r
}

var (
	cnpjWeights1 = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	cnpjWeights2 = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

func CNPJ(s string) bool {
	d := digitSlice(s)
	if len(d) != 14 || allEqual(d) {
		return false
	}
	return d[12] == cnpjDigit(d[:12], cnpjWeights1) && d[13] == cnpjDigit(d[:13], cnpjWeights2)
}

func cnpjDigit(d, weights []int) int {
	sum := 0
	for i, n := range d {
		sum += n * weights[i]
	}
	r := sum % 11
	if r < 2 {
		return 0
	}
	return 11 - r
}

// CNH validates a driver's license number: the first check digit weighs the
// base digits 9..1, the second weighs them 1..9 and is discounted by 2 when
// the first overflowed.
func CNH(s string) bool {
	d := digitSlice(s)
	if len(d) != 11 || allEqual(d) {
		return false
	}

	sum := 0
	for i := 0; i < 9; i++ {
		sum += d[i] * (9 - i)
	}
	first, discount := sum%11, 0
	if first >= 10 {
		first, discount = 0, 2
	}

	sum = 0
	for i := 0; i < 9; i++ {
		sum += d[i] * (i + 1)
	}
	second := sum % 11
	if second >= 10 {
		second = 0
	} else {
		second -= discount
	}

	return d[9] == first && d[10] == second
}

var (
	legacyPlate   = regexp.MustCompile(`^[A-Z]{3}[0-9]{4}$`)
	mercosulPlate = regexp.MustCompile(`^[A-Z]{3}[0-9][A-Z][0-9]{2}$`)
)

// Plate accepts both the legacy AAA9999 and the regional AAA9A99 layouts.
func Plate(s string) bool {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	p := b.String()
	return len(p) == 7 && (legacyPlate.MatchString(p) || mercosulPlate.MatchString(p))
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func digitSlice(s string) []int {
	ds := digits(s)
	out := make([]int, len(ds))
	for i := range ds {
		out[i] = int(ds[i] - '0')
	}
	return out
}

func allEqual(d []int) bool {
	for _, n := range d[1:] {
		if n != d[0] {
			return false
		}
	}
	return true
}
