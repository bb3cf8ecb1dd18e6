package language

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Label returns a human-readable label for a language code.
// Service languages use their own names; other codes fall back to the
// English CLDR name, e.g. "es" -> "Spanish (es)".
func Label(code string) string {
	if code == "" {
		return ""
	}
	if lang, ok := byCode[code]; ok {
		return fmt.Sprintf("%s (%s)", lang.Name, code)
	}

	normalized := strings.ReplaceAll(code, "_", "-")
	tag, err := language.Parse(normalized)
	if err != nil {
		return fmt.Sprintf("language '%s'", code)
	}

	name := display.English.Tags().Name(tag)
	if name == "" || strings.EqualFold(name, code) {
		return fmt.Sprintf("language '%s'", code)
	}

	return fmt.Sprintf("%s (%s)", name, code)
}
