package tool

import "strings"

// SanitizeSegment normalizes a single path segment (a host/operationId/field
// name): lowercase, replace any run of characters outside [a-z0-9_] with
// a single "_", strip leading/trailing "_", and substitute "default" if
// the result is empty.
func SanitizeSegment(s string) string {
	lower := strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(lower))
	prevUnderscore := false
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
			prevUnderscore = r == '_'
			continue
		}
		if !prevUnderscore {
			b.WriteByte('_')
			prevUnderscore = true
		}
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "default"
	}
	return out
}

// SanitizePath sanitizes each dot-separated segment independently and
// rejoins them, so a source name, host, and operation each normalize on
// their own terms before being joined into a tool path.
func SanitizePath(segments ...string) string {
	out := make([]string, len(segments))
	for i, s := range segments {
		out[i] = SanitizeSegment(s)
	}
	return strings.Join(out, ".")
}
