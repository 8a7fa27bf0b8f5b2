package flow

import (
	"strings"
	"testing"
)

func TestInterpolate(t *testing.T) {
	leadData := map[string]string{
		FieldFullName:    "João Silva",
		FieldContactInfo: "joao@gmail.com",
		FieldAreaOfLaw:   "Direito Penal",
		FieldCaseDetails: "Fui acusado injustamente",
		FieldPhone:       "5511987654321",
	}

	got := Interpolate("Olá {user_name}, caso de {area}. Telefone: {phone}", leadData)
	want := "Olá João, caso de Direito Penal. Telefone: 5511987654321"
	if got != want {
		t.Errorf("Interpolate = %q, want %q", got, want)
	}

	if got := Interpolate("Nome completo: {full_name}", leadData); got != "Nome completo: João Silva" {
		t.Errorf("full_name interpolation = %q", got)
	}
}

func TestInterpolateMissingFieldsLeftVerbatim(t *testing.T) {
	got := Interpolate("Olá {user_name}, seu email é {email}", map[string]string{})
	if got != "Olá {user_name}, seu email é {email}" {
		t.Errorf("expected placeholders left verbatim, got %q", got)
	}
	if got := Interpolate("sem placeholders", nil); got != "sem placeholders" {
		t.Errorf("nil lead data = %q", got)
	}
}

func TestInterpolateIdempotent(t *testing.T) {
	leadData := map[string]string{FieldFullName: "Maria Souza"}
	once := Interpolate("Oi {user_name}! {email}", leadData)
	twice := Interpolate(once, leadData)
	if once != twice {
		t.Errorf("re-interpolation changed output: %q vs %q", once, twice)
	}
}

func TestInterpolateCaseSummaryTruncation(t *testing.T) {
	long := strings.Repeat("a", 150)
	leadData := map[string]string{FieldCaseDetails: long}

	got := Interpolate("{case_summary}", leadData)
	if len([]rune(got)) != caseSummaryLimit+3 {
		t.Errorf("summary length = %d runes, want %d", len([]rune(got)), caseSummaryLimit+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("expected truncated summary to end with ellipsis, got %q", got)
	}

	short := "caso simples"
	if got := Interpolate("{case_summary}", map[string]string{FieldCaseDetails: short}); got != short {
		t.Errorf("short summary = %q, want %q", got, short)
	}
}
