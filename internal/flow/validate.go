package flow

import (
	"strings"
	"unicode"

	"github.com/caselink/leadflow/internal/models"
)

// greetings are pure salutations: on step 1 an exact match re-emits the
// current question without charging a validation attempt.
var greetings = map[string]bool{
	"oi":    true,
	"olá":   true,
	"ola":   true,
	"hello": true,
	"hi":    true,
	"hey":   true,
	"e ai":  true,
	"eai":   true,
}

// invalidNames also covers time-of-day salutations that slip past the
// greeting short-circuit on retries.
var invalidNames = map[string]bool{
	"oi":        true,
	"olá":       true,
	"ola":       true,
	"hello":     true,
	"hi":        true,
	"hey":       true,
	"e ai":      true,
	"eai":       true,
	"bom dia":   true,
	"boa tarde": true,
	"boa noite": true,
	"teste":     true,
	"test":      true,
	"sim":       true,
	"não":       true,
	"nao":       true,
	"ok":        true,
}

var contactKeywords = []string{
	"telefone", "celular", "whatsapp", "zap",
	"email", "e-mail", "gmail", "hotmail", "outlook", "yahoo",
}

// areaKeywords maps practice-area hints to their canonical labels.
var areaKeywords = map[string]string{
	"penal":     "Direito Penal",
	"criminal":  "Direito Penal",
	"crime":     "Direito Penal",
	"saude":     "Saúde/Liminares",
	"saúde":     "Saúde/Liminares",
	"liminar":   "Saúde/Liminares",
	"liminares": "Saúde/Liminares",
	"medica":    "Saúde/Liminares",
	"médica":    "Saúde/Liminares",
	"medico":    "Saúde/Liminares",
	"médico":    "Saúde/Liminares",
	"plano":     "Saúde/Liminares",
}

var affirmatives = []string{
	"sim", "claro", "pode", "quero", "ok", "yes",
	"confirmo", "positivo", "com certeza", "por favor", "vamos",
}

// IsGreeting reports whether the trimmed, lowercased message is a pure
// salutation.
func IsGreeting(message string) bool {
	return greetings[strings.ToLower(strings.TrimSpace(message))]
}

// Evaluate applies the step's validation spec to an answer and returns
// whether it is accepted plus the normalized value to persist. It is a pure
// function: flexible mode (entered after repeated rejections) relaxes the
// acceptance thresholds but never changes normalization semantics.
func Evaluate(answer string, spec models.ValidationSpec, flexible bool) (bool, string) {
	trimmed := strings.TrimSpace(answer)
	lower := strings.ToLower(trimmed)

	if trimmed == "" {
		return false, ""
	}

	// A configured normalize map short-circuits type-specific logic.
	for keyword, canonical := range spec.NormalizeMap {
		if keyword != "" && strings.Contains(lower, strings.ToLower(keyword)) {
			return true, canonical
		}
	}

	switch spec.Type {
	case models.ValidationName:
		return evaluateName(trimmed, lower)
	case models.ValidationContactCombined:
		return evaluateContact(trimmed, lower, spec, flexible)
	case models.ValidationArea:
		return evaluateArea(trimmed, lower, flexible)
	case models.ValidationCaseDescription:
		return evaluateCaseDescription(trimmed, spec, flexible)
	case models.ValidationConfirmation:
		return evaluateConfirmation(trimmed, lower)
	case models.ValidationPhone:
		digits := DigitsOnly(trimmed)
		return len(digits) >= 10 && len(digits) <= 13, digits
	default:
		return evaluateGeneric(trimmed, spec, flexible)
	}
}

func evaluateName(trimmed, lower string) (bool, string) {
	if invalidNames[lower] {
		return false, ""
	}
	if isAllDigits(trimmed) {
		return false, ""
	}
	if isRepeatedRune(lower) {
		return false, ""
	}
	for _, tok := range strings.Fields(trimmed) {
		if len([]rune(tok)) >= 2 {
			return true, TitleCase(trimmed)
		}
	}
	return false, ""
}

func evaluateContact(trimmed, lower string, spec models.ValidationSpec, flexible bool) (bool, string) {
	hasSignal := ExtractPhone(trimmed) != "" || ExtractEmail(trimmed) != "" || containsAny(lower, contactKeywords)
	minLen := spec.MinLength
	if minLen <= 0 {
		minLen = 8
	}
	if flexible {
		return hasSignal || len([]rune(trimmed)) >= minLen, trimmed
	}
	return hasSignal && len([]rune(trimmed)) >= minLen, trimmed
}

func evaluateArea(trimmed, lower string, flexible bool) (bool, string) {
	for keyword, canonical := range areaKeywords {
		if strings.Contains(lower, keyword) {
			return true, canonical
		}
	}
	if flexible && len([]rune(trimmed)) >= 4 {
		return true, TitleCase(trimmed)
	}
	return false, ""
}

func evaluateCaseDescription(trimmed string, spec models.ValidationSpec, flexible bool) (bool, string) {
	minLen := spec.MinLength
	if minLen <= 0 {
		minLen = 20
	}
	minWords := spec.MinWords
	if minWords <= 0 {
		minWords = 5
	}
	if flexible {
		minLen = 15
		minWords = 4
	}
	ok := len([]rune(trimmed)) >= minLen && len(strings.Fields(trimmed)) >= minWords
	return ok, trimmed
}

func evaluateConfirmation(trimmed, lower string) (bool, string) {
	for _, word := range affirmatives {
		if strings.Contains(lower, word) {
			return true, "Confirmado"
		}
	}
	// Any substantive reply advances the flow; negatives are recorded as-is
	// so the team sees the hesitation in the lead data.
	if len([]rune(trimmed)) >= 2 {
		return true, trimmed
	}
	return false, ""
}

func evaluateGeneric(trimmed string, spec models.ValidationSpec, flexible bool) (bool, string) {
	minLen := spec.MinLength
	if flexible || minLen <= 0 {
		minLen = 2
	}
	return len([]rune(trimmed)) >= minLen, trimmed
}

// strictReminder is the relaxed-guidance hint composed into the rejection
// response once a step has been rejected enough times.
func strictReminder(t models.ValidationType) string {
	switch t {
	case models.ValidationName:
		return "Pode ser um apelido ou como prefere ser chamado."
	case models.ValidationContactCombined:
		return "Pode enviar apenas o número com DDD, ex: 11999999999."
	case models.ValidationArea:
		return "Responda apenas 'Penal' ou 'Saúde'."
	case models.ValidationCaseDescription:
		return "Uma frase curta sobre o que aconteceu já ajuda."
	case models.ValidationConfirmation:
		return "Responda 'sim' para continuar."
	default:
		return "Qualquer resposta breve já ajuda a continuar."
	}
}

// TitleCase uppercases the first rune of each whitespace-separated token and
// lowercases the rest.
func TitleCase(s string) string {
	fields := strings.Fields(s)
	for i, tok := range fields {
		runes := []rune(strings.ToLower(tok))
		runes[0] = unicode.ToUpper(runes[0])
		fields[i] = string(runes)
	}
	return strings.Join(fields, " ")
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isRepeatedRune(s string) bool {
	runes := []rune(s)
	if len(runes) < 2 {
		return true
	}
	for _, r := range runes[1:] {
		if r != runes[0] {
			return false
		}
	}
	return true
}
