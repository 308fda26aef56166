package errors

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	filePathPattern = regexp.MustCompile(`(/[a-zA-Z0-9_\-./]+)|([A-Z]:\\[a-zA-Z0-9_\-\\ ./]+)`)
	ipPattern       = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	secretPattern   = regexp.MustCompile(`(?i)(password=|secret=|token=|api[_-]?key=|authorization:)`)
)

// ProductionMode enables sanitizing of error text returned to callers.
var ProductionMode = false

// SetProductionMode sets the production mode flag during initialization.
func SetProductionMode(production bool) {
	ProductionMode = production
}

// SanitizeString strips file paths, host addresses and credentials from s
// when running in production mode.
func SanitizeString(s string) string {
	if !ProductionMode {
		return s
	}

	s = filePathPattern.ReplaceAllStringFunc(s, func(match string) string {
		return filepath.Base(match)
	})

	s = ipPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := strings.Split(match, ".")
		if len(parts) == 4 {
			return fmt.Sprintf("%s.%s.x.x", parts[0], parts[1])
		}
		return "x.x.x.x"
	})

	if secretPattern.MatchString(s) {
		s = "integration call failed"
	}

	if strings.Contains(s, "goroutine") || strings.Count(s, "\n") > 3 {
		s = "internal error - operation failed"
	}

	return s
}

// SafeErrorMessage returns a message fit for API responses. Known SOAR errors
// pass through unchanged, everything else is sanitized.
func SafeErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	passThrough := []string{
		ErrNoMatchingPlaybooks.Error(),
		ErrInvalidAlert.Error(),
		ErrIncidentNotFound.Error(),
		"invalid request",
	}

	lower := strings.ToLower(msg)
	for _, safe := range passThrough {
		if strings.Contains(lower, safe) {
			return msg
		}
	}

	return SanitizeString(msg)
}
