package logger

import "strings"

// RedactPhone masks a phone number for safe logging, keeping the country
// prefix and last two digits: "+5511987654321" → "+55*********21".
// Numbers too short to mask meaningfully are fully masked.
func RedactPhone(phone string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '+' || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, phone)

	if len(cleaned) < 7 {
		return "***"
	}

	prefixLen := 3
	if !strings.HasPrefix(cleaned, "+") {
		prefixLen = 2
	}
	masked := cleaned[:prefixLen] + strings.Repeat("*", len(cleaned)-prefixLen-2) + cleaned[len(cleaned)-2:]
	return masked
}
