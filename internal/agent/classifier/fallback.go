package classifier

import "strings"

// fallbackMarkers are the openings of the gateway's templated degraded answers.
var fallbackMarkers = []string{
	"based on your query about",
	"regarding your query about",
}

// FallbackWarning is attached to messages built from a degraded answer.
const FallbackWarning = "The assistant returned a generic fallback answer; details may be missing."

// IsFallbackResponse reports whether text is a templated fallback rather
// than a real answer. The gateway does not reliably flag these itself.
func IsFallbackResponse(text string) bool {
	head := strings.ToLower(strings.TrimSpace(text))
	if len(head) > 200 {
		head = head[:200]
	}
	for _, m := range fallbackMarkers {
		if strings.HasPrefix(head, m) {
			return true
		}
	}
	return false
}
