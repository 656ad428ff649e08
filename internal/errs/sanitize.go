package errs

import "regexp"

// MaxMessageLength truncates an overlong root-cause message, appending
// a truncation marker so callers can tell a message was cut (spec §7
// "long provider error bodies must not blow up persisted row size").
const MaxMessageLength = 4096

const truncationMarker = "... [truncated]"

var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[a-z0-9._~+/=-]+`),
	regexp.MustCompile(`(?i)basic\s+[a-z0-9+/=]+`),
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|authorization)\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)(://)[^:@/\s]+:[^:@/\s]+@`), // userinfo in URLs
}

const redactedPlaceholder = "[REDACTED]"

// Sanitize redacts known secret-bearing substrings from msg (bearer
// tokens, basic-auth headers, key=value-style credentials, and
// userinfo embedded in URLs) and truncates the result to
// MaxMessageLength.
func Sanitize(msg string) string {
	for i, pat := range redactPatterns {
		if i == len(redactPatterns)-1 {
			msg = pat.ReplaceAllString(msg, "$1"+redactedPlaceholder+"@")
			continue
		}
		msg = pat.ReplaceAllString(msg, redactedPlaceholder)
	}
	if len(msg) > MaxMessageLength {
		msg = msg[:MaxMessageLength-len(truncationMarker)] + truncationMarker
	}
	return msg
}
