package memorylog

import (
	"regexp"

	"buddyline/internal/config"
)

// Redactor masks personal data in text before it is written to disk.
type Redactor struct {
	filters []piiFilter
}

type piiFilter struct {
	name    string
	pattern *regexp.Regexp
	mask    string
}

// Specific patterns run first so the phone pattern does not eat card
// numbers or SSNs.
var defaultFilters = []struct {
	name    string
	pattern string
	mask    string
}{
	{"card", `\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`, "[CARD]"},
	{"ssn", `\b\d{3}-\d{2}-\d{4}\b`, "[SSN]"},
	{"ip", `\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`, "[IP]"},
	{"email", `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`, "[EMAIL]"},
	{"phone", `(?:\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}`, "[PHONE]"},
}

// NewRedactor builds a redactor from config. A disabled config yields a
// redactor that returns text unchanged.
func NewRedactor(cfg config.PIIFilterConfig) *Redactor {
	r := &Redactor{}
	if !cfg.Enabled {
		return r
	}

	enabled := map[string]bool{
		"email": cfg.FilterEmails,
		"phone": cfg.FilterPhones,
		"card":  cfg.FilterCards,
		"ip":    cfg.FilterIPs,
		"ssn":   cfg.FilterSSN,
	}
	for _, f := range defaultFilters {
		if enabled[f.name] {
			r.filters = append(r.filters, piiFilter{
				name:    f.name,
				pattern: regexp.MustCompile(f.pattern),
				mask:    f.mask,
			})
		}
	}
	return r
}

// Redact replaces every match with its mask.
func (r *Redactor) Redact(text string) string {
	if r == nil {
		return text
	}
	for _, f := range r.filters {
		text = f.pattern.ReplaceAllString(text, f.mask)
	}
	return text
}
