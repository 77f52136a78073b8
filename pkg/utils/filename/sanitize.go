// Package filename cleans user-supplied names before they are shown or stored.
package filename

import (
	"regexp"
	"strings"
)

// hostileChars are unsafe in file names on at least one major OS.
var hostileChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// CleanTitle strips filesystem-hostile characters from a display title while
// keeping spaces, and truncates to maxRunes (defaults to 100). Returns "" when
// nothing printable is left.
func CleanTitle(title string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = 100
	}
	s := hostileChars.ReplaceAllString(title, "")
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxRunes {
		s = strings.TrimSpace(string(r[:maxRunes]))
	}
	return s
}
