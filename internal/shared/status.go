package shared

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NormalizeStatus maps user input such as "partially_received" or
// "COMPLETED" to the title-cased form stored on orders.
func NormalizeStatus(raw string) string {
	s := strings.NewReplacer("_", " ", "-", " ").Replace(strings.TrimSpace(raw))
	s = strings.Join(strings.Fields(s), " ")
	return cases.Title(language.English).String(strings.ToLower(s))
}
