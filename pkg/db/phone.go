package db

import "strings"

// NormalizePhone returns phone in the stored "+<digits>" form. Spaces, dashes,
// dots and parentheses are dropped and an international 00 prefix becomes +.
// Input with any other character is only trimmed, so validation can reject it.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}

	var digits strings.Builder
	plus := false
	for i, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '+' && i == 0:
			plus = true
		case r == ' ', r == '-', r == '.', r == '(', r == ')':
		default:
			return phone
		}
	}

	out := digits.String()
	if !plus {
		out = strings.TrimPrefix(out, "00")
	}
	if out == "" {
		return phone
	}
	return "+" + out
}
