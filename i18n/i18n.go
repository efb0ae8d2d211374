// Package i18n translates the operator messages of ricave-translator.
//
// Catalogs are gettext .po files embedded in the binary under
// locales/{lang}/LC_MESSAGES/ricave-translator.po and parsed with gotext.
// Lookups go through the parsed message table directly, so msgids are never
// treated as format strings; callers format the returned text themselves:
//
//	i18n.Init("") // LANGUAGE, LC_ALL, LC_MESSAGES, LANG
//	logInfo(i18n.T("Job '%s' completed."), id)
//	logInfo(i18n.N("Found %d file", "Found %d files", n), n)
package i18n

import (
	"embed"
	"os"
	"strings"

	"github.com/leonelquinteros/gotext"
	"github.com/leonelquinteros/gotext/plurals"
)

//go:embed all:locales
var locales embed.FS

const (
	// Domain is the gettext domain of the embedded catalogs.
	Domain = "ricave-translator"
	// LocaleDir is the root of the embedded catalog tree.
	LocaleDir = "locales"
)

// Catalog is the message table of one language.
type Catalog struct {
	lang     string
	messages map[string]*gotext.Translation
	// plural is nil when the catalog has no Plural-Forms header; the
	// Germanic rule applies then.
	plural plurals.Expression
}

// current is the catalog used by T and N. Nil means passthrough.
var current *Catalog

// Load parses the embedded catalog for lang. "pt_BR" falls back to "pt".
// A language without a catalog yields an empty Catalog that returns every
// msgid unchanged.
func Load(lang string) *Catalog {
	loc := gotext.NewLocaleFSWithPath(lang, locales, LocaleDir)
	loc.AddDomain(Domain)

	c := &Catalog{lang: lang, messages: loc.GetTranslations()}
	if tr, ok := loc.Domains[Domain]; ok && tr != nil {
		c.plural = pluralRule(tr.GetDomain().PluralForms)
	}
	return c
}

// Init selects the catalog for lang. If lang is empty it is detected from
// the environment, following GNU gettext.
func Init(lang string) {
	if lang == "" {
		lang = detectLanguage()
	}
	current = Load(lang)
}

// Language returns the language the catalog was loaded for.
func (c *Catalog) Language() string { return c.lang }

// Translated reports whether msgid has a non-empty translation.
func (c *Catalog) Translated(msgid string) bool {
	tr, ok := c.messages[msgid]
	return ok && tr.IsTranslated()
}

// T returns the translation of msgid, or msgid itself.
func (c *Catalog) T(msgid string) string {
	if tr, ok := c.messages[msgid]; ok {
		return tr.Get()
	}
	return msgid
}

// N returns the plural form of singular/plural for n.
func (c *Catalog) N(singular, plural string, n int) string {
	form := c.form(n)
	if tr, ok := c.messages[singular]; ok && tr.IsTranslatedN(form) {
		return tr.GetN(form)
	}
	if form == 0 {
		return singular
	}
	return plural
}

func (c *Catalog) form(n int) int {
	if c.plural != nil && n >= 0 {
		return c.plural.Eval(uint32(n))
	}
	if n == 1 {
		return 0
	}
	return 1
}

// T translates msgid with the current catalog.
func T(msgid string) string {
	if current == nil {
		return msgid
	}
	return current.T(msgid)
}

// N translates a message with plural forms with the current catalog.
func N(singular, plural string, n int) string {
	if current == nil {
		if n == 1 {
			return singular
		}
		return plural
	}
	return current.N(singular, plural, n)
}

// pluralRule compiles the plural= part of a Plural-Forms header.
func pluralRule(header string) plurals.Expression {
	for _, part := range strings.Split(header, ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(key) != "plural" {
			continue
		}
		if expr, err := plurals.Compile(strings.TrimSpace(value)); err == nil {
			return expr
		}
	}
	return nil
}

// detectLanguage reads environment variables to determine the user's
// preferred language, following GNU gettext conventions.
func detectLanguage() string {
	// GNU gettext priority: LANGUAGE > LC_ALL > LC_MESSAGES > LANG
	for _, env := range []string{"LANGUAGE", "LC_ALL", "LC_MESSAGES", "LANG"} {
		if val := os.Getenv(env); val != "" {
			// LANGUAGE can be a colon-separated list; take the first
			if env == "LANGUAGE" {
				parts := strings.SplitN(val, ":", 2)
				val = parts[0]
			}
			// Strip encoding suffix (e.g. "ru_RU.UTF-8" -> "ru_RU")
			if idx := strings.IndexByte(val, '.'); idx >= 0 {
				val = val[:idx]
			}
			// "C" and "POSIX" mean no translation
			if val == "C" || val == "POSIX" || val == "" {
				continue
			}
			return val
		}
	}
	return "en"
}
