// Package language normalizes spoken-language identifiers reported by
// transcription tools into BCP 47 tags.
package language

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Auto asks the transcriber to detect the language.
const Auto = "auto"

// Parse accepts a BCP 47 code ("en", "pt-BR") or an English language name
// ("english", "Portuguese") and returns the matching tag.
func Parse(s string) (language.Tag, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, Auto) {
		return language.Und, false
	}
	if tag, err := language.Parse(s); err == nil {
		return tag, true
	}
	if tag, ok := byName[strings.ToLower(s)]; ok {
		return tag, true
	}
	return language.Und, false
}

// Normalize returns the canonical code for s, or "" if s is empty, auto or unknown.
func Normalize(s string) string {
	tag, ok := Parse(s)
	if !ok {
		return ""
	}
	return tag.String()
}

// Name returns the English display name of a code, or the input if it is unknown.
func Name(code string) string {
	tag, ok := Parse(code)
	if !ok {
		return code
	}
	return display.English.Tags().Name(tag)
}

var byName = func() map[string]language.Tag {
	namer := display.English.Tags()
	m := make(map[string]language.Tag)
	for _, tag := range display.Supported.Tags() {
		base, conf := tag.Base()
		if conf == language.No {
			continue
		}
		bt := language.Make(base.String())
		if name := namer.Name(bt); name != "" {
			m[strings.ToLower(name)] = bt
		}
	}
	return m
}()
