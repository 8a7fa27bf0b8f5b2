package flow

import (
	"regexp"
	"strings"
)

var (
	phoneRunRe = regexp.MustCompile(`\d{10,11}`)
	emailRe    = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
)

// DigitsOnly strips every non-digit rune from s.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ExtractPhone returns the first run of 10-11 consecutive digits found in s,
// after collapsing common separators, or "" when none exists.
func ExtractPhone(s string) string {
	compact := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "").Replace(s)
	return phoneRunRe.FindString(compact)
}

// ExtractEmail returns the first email-shaped token in s, or "".
func ExtractEmail(s string) string {
	return emailRe.FindString(s)
}

// CanonicalPhone converts raw phone input into the canonical Brazilian wire
// form: country code 55 + two-digit area code + subscriber number, with the
// mobile ninth digit inserted when an 8-digit number starts with 6-9.
// Examples: "11987654321" -> "5511987654321", "(11) 8765-4321" -> "5511987654321".
func CanonicalPhone(raw string) string {
	d := DigitsOnly(raw)
	if strings.HasPrefix(d, "55") && len(d) >= 12 {
		d = d[2:]
	}
	switch len(d) {
	case 11:
		// Area code plus 9-digit mobile.
		return "55" + d
	case 10:
		area, num := d[:2], d[2:]
		if num[0] >= '6' && num[0] <= '9' {
			return "55" + area + "9" + num
		}
		return "55" + d
	case 9, 8:
		if len(d) == 8 && d[0] >= '6' && d[0] <= '9' {
			d = "9" + d
		}
		return "55" + d
	default:
		return "55" + d
	}
}

// UsablePhone reports whether raw contains enough digits to be dialed.
func UsablePhone(raw string) bool {
	n := len(DigitsOnly(raw))
	return n >= 10 && n <= 13
}
