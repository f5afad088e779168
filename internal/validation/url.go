package validation

import (
	"net/url"
	"strings"
)

/* ValidateURL reports whether urlStr is an absolute http or https URL */
func ValidateURL(urlStr string) bool {
	urlStr = strings.TrimSpace(urlStr)
	if urlStr == "" {
		return false
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	return parsed.Host != ""
}

/* ValidateOptionalURL accepts an empty value or a valid URL */
func ValidateOptionalURL(urlStr, fieldName string) error {
	if strings.TrimSpace(urlStr) == "" {
		return nil
	}
	if !ValidateURL(urlStr) {
		return &ValidationError{Field: fieldName, Message: "is not a valid http(s) URL"}
	}
	return nil
}
