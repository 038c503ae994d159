package validate

import (
	"testing"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		format string
		value  string
		want   bool
	}{
		{"email", "a@b.com", true},
		{"email", "  joao.silva@empresa.com.br ", true},
		{"email", "a@b", false},
		{"email", "a@@b.com", false},
		{"email", "@b.com", false},
		{"email", "a@.com", false},
		{"email", "a b@c.com", false},
		{"email", "not-an-email", false},

		{"phone", "(11) 98765-4321", true},
		{"phone", "11 3333-4444", true},
		{"phone", "1187654321", true},
		{"phone", "0187654321", false},
		{"phone", "987654321", false},
		{"phone", "5511987654321", false},

		{"number", "12345", true},
		{"number", "12a", false},
		{"number", "-1", false},

		{"cpf", "529.982.247-25", true},
		{"cpf", "11144477735", true},
		{"cpf", "529.982.247-24", false},
		{"cpf", "111.111.111-11", false},
		{"cpf", "1234", false},

		{"cnpj", "11.222.333/0001-81", true},
		{"cnpj", "11444777000161", true},
		{"cnpj", "11.222.333/0001-80", false},
		{"cnpj", "00000000000000", false},

		{"cnh", "02522873004", true},
		{"cnh", "51895471294", true},
		{"cnh", "02522873005", false},
		{"cnh", "22222222222", false},

		{"placa", "ABC-1234", true},
		{"plate", "abc1d23", true},
		{"plate", "AB12345", false},
		{"plate", "ABC12345", false},

		{"text", "anything at all", true},
		{"unknown-format", "whatever", true},
	}

	for _, tt := range tests {
		t.Run(tt.format+"/"+tt.value, func(t *testing.T) {
			if got := Check(tt.format, tt.value); got != tt.want {
				t.Errorf("Check(%q, %q) = %v, want %v", tt.format, tt.value, got, tt.want)
			}
		})
	}
}

func TestCheck_EmptyIsAlwaysValid(t *testing.T) {
	for f := range defaultMessages {
		if !f.Check("   ") {
			t.Errorf("%s: blank value should be valid", f)
		}
	}
}

func TestCheckDigits_AlteredLastDigitRejected(t *testing.T) {
	valid := map[Format][]string{
		FormatCPF:  {"52998224725", "11144477735"},
		FormatCNPJ: {"11222333000181", "11444777000161"},
		FormatCNH:  {"02522873004", "51895471294", "12345432144"},
	}

	for format, values := range valid {
		for _, v := range values {
			if !format.Check(v) {
				t.Fatalf("%s %s should be valid", format, v)
			}
			last := v[len(v)-1] - '0'
			for delta := byte(1); delta < 10; delta++ {
				altered := v[:len(v)-1] + string('0'+(last+delta)%10)
				if format.Check(altered) {
					t.Errorf("%s %s accepted after altering last digit of %s", format, altered, v)
				}
			}
		}
	}
}

func TestParseFormat(t *testing.T) {
	if ParseFormat("Telefone") != FormatPhone {
		t.Error("Telefone should map to phone")
	}
	if ParseFormat("something-new") != FormatText {
		t.Error("unknown formats should map to text")
	}
	if DefaultMessage(FormatText) == "" {
		t.Error("text format should still have a fallback message")
	}
}
