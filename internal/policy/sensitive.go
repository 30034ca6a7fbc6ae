package policy

import (
	"regexp"
	"strings"
)

var (
	cardPattern = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	otpPattern  = regexp.MustCompile(`\b\d{4,8}\b`)
	pinHint     = regexp.MustCompile(`(?i)\b(pin|otp|cvv|password|passcode)\b`)
	acctPattern = regexp.MustCompile(`(?i)\b(account|card)\s*(number|no\.?)\b`)
)

// RedirectionMessage replaces the bridge reply whenever a caller volunteers
// credentials. The wording is fixed so a misbehaving bridge cannot soften it.
const RedirectionMessage = "For your security, please never share PINs, OTPs, or card numbers on a call. I will not record that. Let me redirect you to our secure channels for anything account specific."

// ContainsSensitiveInfo reports whether caller speech appears to volunteer
// credentials: a card-length digit run, or a short code alongside a PIN/OTP
// style keyword. It backstops the bridge's own signal so the redirection
// policy holds even when the reasoning component misses the exposure.
func ContainsSensitiveInfo(input string) bool {
	s := strings.TrimSpace(input)
	if s == "" {
		return false
	}
	if cardPattern.MatchString(s) {
		return true
	}
	if pinHint.MatchString(s) && otpPattern.MatchString(s) {
		return true
	}
	if acctPattern.MatchString(s) && otpPattern.MatchString(s) {
		return true
	}
	return false
}

// MaskDigits masks digit runs before transcripts are logged or persisted.
func MaskDigits(input string) (masked string, changed bool) {
	out := otpPattern.ReplaceAllStringFunc(input, func(m string) string {
		return strings.Repeat("*", len(m))
	})
	return out, out != input
}
