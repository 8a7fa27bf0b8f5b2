package flow

import "strings"

const caseSummaryLimit = 100

// Interpolate substitutes the supported {placeholder} tokens in a template
// with values from the lead data. Placeholders whose backing field is absent
// or empty are left verbatim, so re-interpolating an already interpolated
// string is a no-op.
func Interpolate(template string, leadData map[string]string) string {
	if leadData == nil {
		return template
	}
	pairs := make([]string, 0, 16)
	add := func(placeholder, value string) {
		if value != "" {
			pairs = append(pairs, placeholder, value)
		}
	}

	fullName := leadData[FieldFullName]
	add("{full_name}", fullName)
	add("{user_name}", firstName(fullName))
	add("{contact_info}", leadData[FieldContactInfo])
	add("{area}", leadData[FieldAreaOfLaw])
	add("{case_details}", leadData[FieldCaseDetails])
	add("{case_summary}", summarize(leadData[FieldCaseDetails]))
	add("{phone}", leadData[FieldPhone])
	add("{email}", leadData[FieldEmail])

	if len(pairs) == 0 {
		return template
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func firstName(fullName string) string {
	fields := strings.Fields(fullName)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func summarize(details string) string {
	runes := []rune(details)
	if len(runes) <= caseSummaryLimit {
		return details
	}
	return string(runes[:caseSummaryLimit]) + "..."
}
