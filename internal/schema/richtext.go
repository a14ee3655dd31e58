package schema

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeRichText folds a richtext value for comparison: NFC normalization
// and collapsed whitespace. Providers re-wrap and re-indent HTML on save.
func NormalizeRichText(s string) string {
	s = strings.Join(strings.Fields(norm.NFC.String(s)), " ")
	return strings.ReplaceAll(s, "> <", "><")
}
