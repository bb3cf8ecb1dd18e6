package language

import (
	"fmt"
	"strings"
)

// Language is a language the Lanna service transcribes and translates.
type Language struct {
	Code       string // service code; "km" is Kham Mueang, not ISO Khmer
	Name       string
	NativeName string
}

var (
	Thai       = Language{Code: "th", Name: "Thai", NativeName: "ไทย"}
	KhamMueang = Language{Code: "km", Name: "Kham Mueang (Northern Thai)", NativeName: "คำเมือง"}
)

var languages = []Language{Thai, KhamMueang}

var byCode map[string]Language

// aliases maps display names accepted from users to service codes.
var aliases = map[string]string{
	"thai":          "th",
	"ไทย":           "th",
	"ภาษาไทย":       "th",
	"kham mueang":   "km",
	"northern thai": "km",
	"lanna":         "km",
	"nod":           "km",
	"คำเมือง":       "km",
	"ภาษาคำเมือง":   "km",
}

func init() {
	byCode = make(map[string]Language, len(languages))
	for _, lang := range languages {
		byCode[lang.Code] = lang
	}
}

func List() []Language {
	out := make([]Language, len(languages))
	copy(out, languages)
	return out
}

func Codes() []string {
	codes := make([]string, len(languages))
	for i, lang := range languages {
		codes[i] = lang.Code
	}
	return codes
}

func IsSupported(code string) bool {
	_, ok := byCode[code]
	return ok
}

// FromCode returns the language for a service code, or false.
func FromCode(code string) (Language, bool) {
	lang, ok := byCode[code]
	return lang, ok
}

// Normalize maps a code or display name, in any case, to a service code.
func Normalize(input string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	if key == "" {
		return "", fmt.Errorf("language is required")
	}
	if _, ok := byCode[key]; ok {
		return key, nil
	}
	if code, ok := aliases[key]; ok {
		return code, nil
	}
	return "", fmt.Errorf("unsupported language %q (supported: %s)", input, strings.Join(Codes(), ", "))
}

// ValidPair checks that src and tgt are supported and differ.
func ValidPair(src, tgt string) error {
	if !IsSupported(src) {
		return fmt.Errorf("unsupported source language %q", src)
	}
	if !IsSupported(tgt) {
		return fmt.Errorf("unsupported target language %q", tgt)
	}
	if src == tgt {
		return fmt.Errorf("source and target language are both %q", src)
	}
	return nil
}
