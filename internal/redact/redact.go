// Package redact scrubs credentials out of text that leaves the process,
// such as alert messages and evaluator output excerpts.
package redact

import (
	"regexp"
	"strings"
)

type Redactor struct {
	rules []redactionRule
}

type redactionRule struct {
	re    *regexp.Regexp
	label string
}

// New builds a redactor with the built-in credential patterns plus every
// non-empty literal in secrets.
func New(secrets ...string) *Redactor {
	rules := []redactionRule{
		{re: regexp.MustCompile(`(?is)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`), label: "[REDACTED_PRIVATE_KEY]"},
		{re: regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`), label: "Bearer [REDACTED]"},
		{re: regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{16,}`), label: "[REDACTED_API_KEY]"},
		{re: regexp.MustCompile(`AKIA[0-9A-Z]{16}`), label: "[REDACTED_AWS_KEY]"},
		{re: regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password)(\s*[:=]\s*)['"]?[^\s'"&,]+`), label: "$1$2[REDACTED]"},
		{re: regexp.MustCompile(`(?i)(https?://)[^\s/:@]+:[^\s/@]+@`), label: "$1[REDACTED]@"},
	}
	for _, secret := range secrets {
		secret = strings.TrimSpace(secret)
		if len(secret) < 4 {
			continue
		}
		rules = append(rules, redactionRule{re: regexp.MustCompile(regexp.QuoteMeta(secret)), label: "[REDACTED]"})
	}
	return &Redactor{rules: rules}
}

func (r *Redactor) Apply(input string) string {
	if r == nil || input == "" {
		return input
	}
	out := input
	for _, rule := range r.rules {
		out = rule.re.ReplaceAllString(out, rule.label)
	}
	return out
}
