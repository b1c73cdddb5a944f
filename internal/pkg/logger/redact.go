package logger

import (
	"regexp"
	"strings"
)

var (
	emailRegex  = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	ipv4Regex   = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	jwtRegex    = regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*`)
	bearerRegex = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]+`)
)

// Field names whose values are dropped outright rather than masked.
// Subjects, bodies, and attachment names are message content and must
// never appear in logs, even partially.
var contentFields = map[string]bool{
	"subject":  true,
	"body":     true,
	"filename": true,
	"preview":  true,
}

// Secret-bearing field names. Values are replaced wholesale.
var secretFields = []string{"token", "secret", "api_key", "apikey", "client_state", "password"}

// RedactValue masks PII and secrets in a log field value based on the
// field name and the value's content. This is the single redaction path
// for all emitted log entries.
func RedactValue(key, val string) string {
	lower := strings.ToLower(key)

	if contentFields[lower] {
		return "[redacted]"
	}
	for _, sf := range secretFields {
		if strings.Contains(lower, sf) {
			return "[redacted]"
		}
	}
	if strings.Contains(lower, "email") || strings.Contains(lower, "sender") || strings.Contains(lower, "recipient") || strings.Contains(lower, "mailbox") {
		return RedactEmail(val)
	}

	// Generic fields: mask embedded emails, IPs, and tokens.
	val = emailRegex.ReplaceAllStringFunc(val, RedactEmail)
	val = ipv4Regex.ReplaceAllString(val, "x.x.x.x")
	val = jwtRegex.ReplaceAllString(val, "[jwt]")
	val = bearerRegex.ReplaceAllString(val, "Bearer [redacted]")
	return val
}

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}
