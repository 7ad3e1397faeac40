package logging

import "strings"

// maskValue replaces redacted field values in emitted logs.
const maskValue = "***REDACTED***"

// Redactor masks values of sensitive structured-data keys before they are
// logged. The key patterns live here, in the logging layer; the core
// packages pass structured data through without deciding what is sensitive.
type Redactor struct {
	patterns []string
}

// NewRedactor creates a Redactor that masks any key containing one of the
// given case-insensitive substrings.
func NewRedactor(patterns ...string) *Redactor {
	lowered := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.TrimSpace(strings.ToLower(p)); p != "" {
			lowered = append(lowered, p)
		}
	}
	return &Redactor{patterns: lowered}
}

// DefaultRedactor masks the usual credential key shapes.
func DefaultRedactor() *Redactor {
	return NewRedactor("token", "password", "secret", "apikey", "api_key", "authorization")
}

// Sensitive reports whether a key matches the redaction policy.
func (r *Redactor) Sensitive(key string) bool {
	k := strings.ToLower(key)
	for _, p := range r.patterns {
		if strings.Contains(k, p) {
			return true
		}
	}
	return false
}

// Sanitize returns a copy of fields with sensitive values masked.
// The input map is not modified.
func (r *Redactor) Sanitize(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return fields
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if r.Sensitive(k) {
			out[k] = maskValue
			continue
		}
		out[k] = v
	}
	return out
}
