// Package sanitize normalizes caller-supplied text before it reaches the
// store. Every function is pure.
package sanitize

import (
	"html"
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

const maxDecodePasses = 5

var dangerous = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script[^>]*>.*?</script\s*>`),
	regexp.MustCompile(`(?is)<iframe[^>]*>.*?</iframe\s*>`),
	regexp.MustCompile(`(?is)<object[^>]*>.*?</object\s*>`),
	regexp.MustCompile(`(?is)<embed[^>]*>.*?</embed\s*>`),
	regexp.MustCompile(`(?is)<style[^>]*>.*?</style\s*>`),
	regexp.MustCompile(`(?i)<(link|meta)[^>]*>`),
	regexp.MustCompile(`(?i)(javascript|vbscript)\s*:`),
	regexp.MustCompile(`(?i)data\s*:\s*text/html`),
	regexp.MustCompile(`(?i)\bon\w+\s*=`),
	regexp.MustCompile(`(?i)expression\s*\(`),
	regexp.MustCompile(`(?i)@import`),
}

// Decode peels up to five layers of percent-encoding, then HTML entities,
// so nested encodings cannot smuggle markup past the pattern filter.
func Decode(s string) string {
	cur := s
	for i := 0; i < maxDecodePasses; i++ {
		next, err := url.PathUnescape(cur)
		if err != nil || next == cur {
			break
		}
		cur = next
	}
	return html.UnescapeString(cur)
}

// StripControl removes control and format characters. Tabs and newlines
// become spaces.
func StripControl(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return ' '
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r), r == unicode.ReplacementChar:
			return -1
		}
		return r
	}, s)
}

// Text prepares a free-text field such as a display name for storage and
// later HTML rendering. The result is already escaped.
func Text(s string) string {
	out := StripControl(Decode(s))
	for i := 0; i < maxDecodePasses; i++ {
		prev := out
		for _, re := range dangerous {
			out = re.ReplaceAllString(out, "")
		}
		if out == prev {
			break
		}
	}
	out = strings.Join(strings.Fields(out), " ")
	return html.EscapeString(out)
}

// Phone keeps digits and the usual separators.
func Phone(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '+', r == ' ', r == '-', r == '(', r == ')':
			return r
		}
		return -1
	}, StripControl(s))
	return strings.Join(strings.Fields(s), " ")
}

// Identifier keeps ASCII letters, digits and hyphens, upper-cased.
func Identifier(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return -1
	}, s)
}

// Email lower-cases and trims an address. Shape is checked by the caller.
func Email(s string) string {
	return strings.ToLower(strings.TrimSpace(StripControl(s)))
}

// Username lower-cases and trims a login name.
func Username(s string) string {
	return strings.ToLower(strings.TrimSpace(StripControl(s)))
}
