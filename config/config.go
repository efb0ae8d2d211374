// Package config reads and validates the translator.yaml settings file.
//
// translator.yaml lives in the project root next to the template and
// languages trees. Every key is optional; missing keys take the defaults
// below. The file itself is optional too.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the default settings file name.
const FileName = "translator.yaml"

// ---------------------------------------------------------------------------
// YAML schema
// ---------------------------------------------------------------------------

// Settings is the top-level translator.yaml structure.
type Settings struct {
	Paths Paths `yaml:"paths"`
	API   API   `yaml:"api"`
	// SupportedLanguages maps language codes to formal names, in file order.
	SupportedLanguages Languages `yaml:"supported_languages"`
	// AlwaysCreateInfoFile rewrites Info.xml on every pass.
	AlwaysCreateInfoFile bool `yaml:"always_create_info_file"`
	Log                  Log  `yaml:"log"`
}

// Paths locates the document trees, relative to the project root.
type Paths struct {
	TemplateBasePath  string `yaml:"template_base_path"`
	LanguagesBasePath string `yaml:"languages_base_path"`
}

// API configures the oracle.
type API struct {
	ModelName                      string        `yaml:"model_name"`
	BaseURL                        string        `yaml:"base_url"`
	APITimeoutMinutes              int           `yaml:"api_timeout_minutes"`
	MaxFormattingRetries           int           `yaml:"max_formatting_retries"`
	MaxNetworkRetries              int           `yaml:"max_network_retries"`
	NetworkRetryDelay              time.Duration `yaml:"network_retry_delay"`
	APIBatchSize                   int           `yaml:"api_batch_size"`
	MaxConcurrentRequests          int           `yaml:"max_concurrent_requests"`
	IncrementalProcessingThreshold int           `yaml:"incremental_processing_threshold"`
	Proxy                          string        `yaml:"proxy"`
	GeminiAPIKey                   string        `yaml:"gemini_api_key"`
}

// Timeout returns the per-attempt timeout.
func (a API) Timeout() time.Duration {
	return time.Duration(a.APITimeoutMinutes) * time.Minute
}

// Log configures the diagnostic logger.
type Log struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns settings with every default applied.
func Default() *Settings {
	return &Settings{
		Paths: Paths{
			TemplateBasePath:  "TranslationTemplate",
			LanguagesBasePath: "Languages",
		},
		API: API{
			ModelName:                      "gemini-2.5-pro",
			BaseURL:                        "https://generativelanguage.googleapis.com",
			APITimeoutMinutes:              10,
			MaxFormattingRetries:           2,
			MaxNetworkRetries:              3,
			NetworkRetryDelay:              5 * time.Second,
			APIBatchSize:                   150,
			MaxConcurrentRequests:          10,
			IncrementalProcessingThreshold: 250,
		},
		SupportedLanguages: DefaultLanguages(),
		Log:                Log{Level: "info"},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads path over the defaults. A missing file yields the defaults.
// The result is validated.
func Load(path string) (*Settings, error) {
	s := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, s.Validate()
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// TemplateDir returns the template tree under root.
func (s *Settings) TemplateDir(root string) string {
	return resolve(root, s.Paths.TemplateBasePath)
}

// LanguagesDir returns the languages tree under root.
func (s *Settings) LanguagesDir(root string) string {
	return resolve(root, s.Paths.LanguagesBasePath)
}

// LanguageDir returns the folder holding the translation for code.
func (s *Settings) LanguageDir(root, code string) (string, bool) {
	formal, ok := s.SupportedLanguages.FormalName(code)
	if !ok {
		return "", false
	}
	return filepath.Join(s.LanguagesDir(root), FolderName(formal)), true
}

func resolve(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// CheckPaths verifies that the template and languages directories exist.
func (s *Settings) CheckPaths(root string) error {
	for _, dir := range []struct{ name, path string }{
		{"Template", s.TemplateDir(root)},
		{"Languages", s.LanguagesDir(root)},
	} {
		info, err := os.Stat(dir.path)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("%s directory not found at '%s'", dir.name, dir.path)
		}
	}
	return nil
}
