package i18n

import (
	"strings"

	"golang.org/x/text/language"
)

// DefaultLocale is the source language of every translation file
const DefaultLocale = "en"

// Supported lists the locales the gallery ships, source first
var Supported = []string{"en", "ja", "nl", "it", "pt", "ru", "zh-CN", "ko", "pl", "tr", "sv", "no"}

var (
	supportedTags = func() []language.Tag {
		tags := make([]language.Tag, len(Supported))
		for i, l := range Supported {
			tags[i] = language.MustParse(l)
		}
		return tags
	}()
	matcher = language.NewMatcher(supportedTags)
)

// IsSupported reports whether locale is one of Supported (case-insensitive)
func IsSupported(locale string) bool {
	return Canonical(locale) != ""
}

// Canonical returns the Supported spelling of locale, or "" if unsupported
func Canonical(locale string) string {
	for _, l := range Supported {
		if strings.EqualFold(l, locale) {
			return l
		}
	}
	return ""
}

// Negotiate picks the locale for a request. An explicit user preference wins
// when supported; otherwise the Accept-Language header is matched, falling
// back to DefaultLocale.
func Negotiate(acceptLanguage, userPref string) string {
	if l := Canonical(userPref); l != "" {
		return l
	}
	if strings.TrimSpace(acceptLanguage) == "" {
		return DefaultLocale
	}

	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return DefaultLocale
	}
	_, index, confidence := matcher.Match(tags...)
	if confidence == language.No {
		return DefaultLocale
	}
	return Supported[index]
}
