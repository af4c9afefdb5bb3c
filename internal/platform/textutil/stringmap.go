package textutil

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var plainTextPolicy = bluemonday.StrictPolicy()

// NormalizeStringMap trims keys and values, removing entries with empty keys.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = strings.TrimSpace(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// PlainText strips markup from user input, collapses whitespace, and trims the result.
// Entities escaped by the sanitiser are decoded again so "O'Brien" stays readable.
func PlainText(value string) string {
	if value == "" {
		return ""
	}
	cleaned := html.UnescapeString(plainTextPolicy.Sanitize(value))
	return strings.Join(strings.Fields(cleaned), " ")
}
