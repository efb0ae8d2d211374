package i18n

import "testing"

func clearLocaleEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LANGUAGE", "")
	t.Setenv("LC_ALL", "")
	t.Setenv("LC_MESSAGES", "")
	t.Setenv("LANG", "")
}

func TestDetectLanguagePriorityAndNormalization(t *testing.T) {
	t.Run("LANGUAGE has highest priority", func(t *testing.T) {
		clearLocaleEnv(t)
		t.Setenv("LANGUAGE", "ru_RU.UTF-8:en_US")
		t.Setenv("LC_ALL", "de_DE.UTF-8")

		if got := detectLanguage(); got != "ru_RU" {
			t.Fatalf("detectLanguage() = %q, want %q", got, "ru_RU")
		}
	})

	t.Run("C and POSIX are skipped", func(t *testing.T) {
		clearLocaleEnv(t)
		t.Setenv("LANGUAGE", "C")
		t.Setenv("LC_ALL", "POSIX")
		t.Setenv("LC_MESSAGES", "fr_FR.UTF-8")

		if got := detectLanguage(); got != "fr_FR" {
			t.Fatalf("detectLanguage() = %q, want %q", got, "fr_FR")
		}
	})

	t.Run("falls back to en", func(t *testing.T) {
		clearLocaleEnv(t)
		if got := detectLanguage(); got != "en" {
			t.Fatalf("detectLanguage() = %q, want %q", got, "en")
		}
	})
}

func TestTAndNFallbackWhenUninitialized(t *testing.T) {
	old := current
	current = nil
	t.Cleanup(func() { current = old })

	if got := T("Hello"); got != "Hello" {
		t.Fatalf("T fallback = %q, want %q", got, "Hello")
	}

	if got := N("file", "files", 1); got != "file" {
		t.Fatalf("N singular fallback = %q, want %q", got, "file")
	}

	if got := N("file", "files", 2); got != "files" {
		t.Fatalf("N plural fallback = %q, want %q", got, "files")
	}
}

func TestInitLoadsEmbeddedCatalog(t *testing.T) {
	old := current
	t.Cleanup(func() { current = old })

	Init("ru")

	if got := T("Supported languages:"); got != "Поддерживаемые языки:" {
		t.Fatalf("T = %q, want Russian translation", got)
	}
	if got := N("Found %d file", "Found %d files", 5); got != "Найдено %d файлов" {
		t.Fatalf("N(5) = %q", got)
	}
	if got := T("not in the catalog"); got != "not in the catalog" {
		t.Fatalf("T passthrough = %q", got)
	}
}

func TestInitUnknownLanguagePassesThrough(t *testing.T) {
	old := current
	t.Cleanup(func() { current = old })

	Init("xx")

	if got := T("Supported languages:"); got != "Supported languages:" {
		t.Fatalf("T = %q, want msgid", got)
	}
}

func TestCatalogPluralForms(t *testing.T) {
	c := Load("ru_RU")
	if c.Language() != "ru_RU" {
		t.Fatalf("Language() = %q", c.Language())
	}

	tests := []struct {
		n    int
		want string
	}{
		{1, "Найден %d файл"},
		{3, "Найдено %d файла"},
		{11, "Найдено %d файлов"},
		{21, "Найден %d файл"},
		{0, "Найдено %d файлов"},
	}
	for _, tc := range tests {
		if got := c.N("Found %d file", "Found %d files", tc.n); got != tc.want {
			t.Fatalf("N(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}

func TestCatalogKeepsFormatVerbs(t *testing.T) {
	c := Load("ru")
	if !c.Translated("Job '%s' completed.") {
		t.Fatalf("catalog has no translation for a known msgid")
	}
	if got := c.T("Job '%s' completed."); got != "Задание '%s' завершено." {
		t.Fatalf("T = %q, want the verb left for the caller", got)
	}
	if got := c.T("100% done"); got != "100% done" {
		t.Fatalf("T passthrough = %q", got)
	}
}

func TestCatalogWithoutFileUsesGermanicRule(t *testing.T) {
	c := Load("de")
	if c.Translated("Supported languages:") {
		t.Fatalf("de has no catalog")
	}
	if got := c.N("file", "files", 1); got != "file" {
		t.Fatalf("N(1) = %q", got)
	}
	if got := c.N("file", "files", 0); got != "files" {
		t.Fatalf("N(0) = %q", got)
	}
}
