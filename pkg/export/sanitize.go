package export

import "strings"

// unsafeChars are stripped from titles and creator names.
const unsafeChars = "#,<{}[]\\/"

// Sanitize removes characters the import format cannot handle. It does not
// trim; a title made only of unsafe characters becomes empty.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(unsafeChars, r) {
			return -1
		}
		return r
	}, s)
}
