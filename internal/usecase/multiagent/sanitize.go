package multiagent

import "strings"

// DefaultAgentID is the identifier used when a name has no usable characters.
const DefaultAgentID = "agent"

// SanitizeID turns a display name into a specialist identifier: lowercase
// ASCII letters and digits, with every run of other characters collapsed
// into a single underscore and no leading or trailing underscore.
func SanitizeID(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	sep := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			sep = false
			b.WriteRune(r)
			continue
		}
		sep = true
	}
	if b.Len() == 0 {
		return DefaultAgentID
	}
	return b.String()
}
