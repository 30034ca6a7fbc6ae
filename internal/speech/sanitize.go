package speech

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	urlPattern          = regexp.MustCompile(`https?://\S+`)
	markdownLinkPattern = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)
	spokenCodePattern   = regexp.MustCompile(`\b\d{4,8}\b`)
)

// abbreviations are expanded letter by letter so synthesis spells them out
// instead of attempting a pronunciation. The set covers the Indian BFSI
// vocabulary callers actually hear.
var abbreviations = []struct{ from, to string }{
	{"OTP", "O T P"},
	{"KYC", "K Y C"},
	{"PAN", "P A N"},
	{"GST", "G S T"},
	{"UPI", "U P I"},
	{"NEFT", "N E F T"},
	{"RTGS", "R T G S"},
	{"IFSC", "I F S C"},
	{"EMI", "E M I"},
	{"ATM", "A T M"},
}

var localeReplacers = map[string]*strings.Replacer{
	"en-IN": strings.NewReplacer("Rs.", "Rupees", "₹", "Rupees", "&", "and"),
	"en-US": strings.NewReplacer("$", "dollars ", "&", "and"),
	"en-GB": strings.NewReplacer("£", "pounds ", "&", "and"),
}

// SanitizeForSpeech rewrites reply text so synthesis pronounces domain terms
// correctly: abbreviations spelled out, currency symbols expanded for the
// locale, markup and symbol noise dropped, digit codes grouped for dictation.
func SanitizeForSpeech(raw, locale string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	raw = markdownLinkPattern.ReplaceAllString(raw, "$1")
	raw = urlPattern.ReplaceAllString(raw, " ")

	for _, a := range abbreviations {
		raw = strings.ReplaceAll(raw, a.from, a.to)
	}
	if rep, ok := localeReplacers[locale]; ok {
		raw = rep.Replace(raw)
	} else {
		raw = strings.NewReplacer("&", "and").Replace(raw)
	}

	raw = spokenCodePattern.ReplaceAllStringFunc(raw, groupDigits)

	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := true
	for _, r := range raw {
		switch {
		case r == '\n' || r == '\r' || r == '\t' || unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsControl(r):
			continue
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
			// Symbols and emoji sound wrong when spoken.
			continue
		case r == '*' || r == '_' || r == '#' || r == '~' || r == '|' || r == '<' || r == '>':
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

// groupDigits spaces out a numeric code ("123456" -> "1 2 3 4 5 6") so OTPs
// and reference numbers are dictated digit by digit.
func groupDigits(code string) string {
	var b strings.Builder
	b.Grow(len(code) * 2)
	for i, r := range code {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// VoiceForLocale maps a language code onto a synthesis voice preset.
func VoiceForLocale(locale, fallback string) string {
	switch locale {
	case "en-IN":
		return "aura-asteria-en"
	case "en-US":
		return "aura-luna-en"
	case "en-GB":
		return "aura-athena-en"
	default:
		if fallback != "" {
			return fallback
		}
		return "aura-asteria-en"
	}
}
