package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextRemovesMarkup(t *testing.T) {
	cases := map[string]string{
		"plain":          "Ada Lovelace",
		"script":         "<script>alert('x')</script>",
		"encoded":        "%3Cscript%3Ealert('x')%3C/script%3E",
		"double encoded": "%253cscript%253ealert('x')%253c/script%253e",
		"entities":       "&lt;script&gt;alert('x')&lt;/script&gt;",
		"handler":        "<img src=x onerror=alert(1)>",
		"scheme":         "javascript:alert(1)",
		"nested":         "<scr<script></script>ipt>alert(1)</script>",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			out := Text(in)
			lower := strings.ToLower(out)
			assert.NotContains(t, lower, "<script")
			assert.NotContains(t, lower, "javascript:")
			assert.NotContains(t, lower, "onerror=")
			assert.NotContains(t, out, "<")
		})
	}
	assert.Equal(t, "Ada Lovelace", Text("  Ada \t Lovelace\n"))
	assert.Equal(t, "O&#39;Brien", Text("O'Brien"))
}

func TestStripControl(t *testing.T) {
	assert.Equal(t, "ab c", StripControl("a\x00b\x07\tc\u200b"))
}

func TestDecodeStopsOnInvalidEscape(t *testing.T) {
	assert.Equal(t, "50% off", Decode("50% off"))
	assert.Equal(t, "a b", Decode("a%2520b"))
}

func TestEmailAndUsername(t *testing.T) {
	assert.Equal(t, "ada@x.io", Email("  ADA@x.io "))
	assert.Equal(t, "ada", Username(" Ada"))
}

func TestPhoneAndIdentifier(t *testing.T) {
	assert.Equal(t, "+1 (555) 010-9999", Phone("+1 (555) 010-9999<b>"))
	assert.Equal(t, "AB-12", Identifier("ab-12;'"))
}
