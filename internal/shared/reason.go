package shared

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MaxReasonRunes bounds free-text moderation reasons.
const MaxReasonRunes = 512

// NormalizeReason trims and NFC-normalises a moderation reason. Invalid
// UTF-8 and NUL bytes are rejected, as are empty reasons when required is
// set.
func NormalizeReason(raw string, required bool) (string, error) {
	if !utf8.ValidString(raw) || strings.ContainsRune(raw, 0) {
		return "", InvalidInput("reason is not valid UTF-8 text")
	}
	reason := norm.NFC.String(strings.TrimSpace(raw))
	if reason == "" && required {
		return "", InvalidInput("reason is required")
	}
	if utf8.RuneCountInString(reason) > MaxReasonRunes {
		return "", InvalidInput("reason exceeds %d characters", MaxReasonRunes)
	}
	return reason, nil
}
