package mailbox

import "regexp"

// Tried in order; the first capture wins.
var otpPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:code|otp|pin|token|password)\s*(?:is|:)\s*(\d{4,8})`),
	regexp.MustCompile(`(?i)(\d{4,8})\s+is\s+(?:your|the)`),
	regexp.MustCompile(`\b(\d{4,8})\b`),
}

// ExtractCode finds a one-time code in an SMS body.
func ExtractCode(body string) (string, bool) {
	for _, pattern := range otpPatterns {
		if m := pattern.FindStringSubmatch(body); m != nil {
			return m[1], true
		}
	}
	return "", false
}
