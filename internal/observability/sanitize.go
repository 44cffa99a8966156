package observability

import "unicode"

const defaultStringLimit = 256

// sanitizeString trims unwanted characters and limits string length to avoid log injection.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}

	cleaned := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) && r != '\t' {
			continue
		}
		cleaned = append(cleaned, r)
	}
	if len(cleaned) > limit {
		cleaned = cleaned[:limit]
	}
	return string(cleaned)
}

// SanitizeProductRef limits product identifiers read from page markup before they are logged.
func SanitizeProductRef(ref string) string {
	return sanitizeString(ref, 64)
}

// SanitizeMessage limits server-provided messages before they are logged.
func SanitizeMessage(msg string) string {
	return sanitizeString(msg, 512)
}
