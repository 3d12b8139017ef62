package textutil

import (
	"strings"
	"sync"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var (
	strictOnce   sync.Once
	strictPolicy *bluemonday.Policy
)

func policy() *bluemonday.Policy {
	strictOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// SanitizeText strips markup from free text supplied by customers (order notes, cancellation
// reasons) and trims surrounding whitespace. Line breaks are preserved.
func SanitizeText(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	cleaned := policy().Sanitize(value)
	cleaned = strings.NewReplacer("&amp;", "&", "&#39;", "'", "&#34;", "\"", "&lt;", "<", "&gt;", ">").Replace(cleaned)
	return strings.TrimSpace(cleaned)
}

// NormalizeLabel canonicalises short labels such as product sizes so equal labels compare equal
// byte-for-byte: NFC composition, trimmed, with internal whitespace collapsed.
func NormalizeLabel(value string) string {
	value = norm.NFC.String(value)
	return strings.Join(strings.FieldsFunc(value, unicode.IsSpace), " ")
}
