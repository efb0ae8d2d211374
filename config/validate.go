package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hay-kot/criterio"
	"github.com/rs/zerolog"
)

// Validate checks the structural validity of the settings.
func (s *Settings) Validate() error {
	return criterio.ValidateStruct(
		criterio.Run("paths.template_base_path", s.Paths.TemplateBasePath, required),
		criterio.Run("paths.languages_base_path", s.Paths.LanguagesBasePath, required),
		criterio.Run("api.model_name", s.API.ModelName, required),
		criterio.Run("api.base_url", s.API.BaseURL, absoluteURL),
		criterio.Run("api.proxy", s.API.Proxy, optionalURL),
		criterio.Run("log.level", s.Log.Level, logLevel),
		s.validateLimits(),
		s.validateLanguages(),
	)
}

func (s *Settings) validateLimits() error {
	var errs criterio.FieldErrorsBuilder
	for _, f := range []struct {
		field string
		value int
	}{
		{"api.api_timeout_minutes", s.API.APITimeoutMinutes},
		{"api.max_formatting_retries", s.API.MaxFormattingRetries},
		{"api.max_network_retries", s.API.MaxNetworkRetries},
		{"api.api_batch_size", s.API.APIBatchSize},
		{"api.max_concurrent_requests", s.API.MaxConcurrentRequests},
		{"api.incremental_processing_threshold", s.API.IncrementalProcessingThreshold},
	} {
		if f.value < 1 {
			errs = errs.Append(f.field, fmt.Errorf("must be at least 1, got %d", f.value))
		}
	}
	if s.API.NetworkRetryDelay < 0 {
		errs = errs.Append("api.network_retry_delay", fmt.Errorf("must not be negative"))
	}
	return errs.ToError()
}

func (s *Settings) validateLanguages() error {
	if len(s.SupportedLanguages) == 0 {
		return criterio.NewFieldErrors("supported_languages", fmt.Errorf("at least one language is required"))
	}

	var errs criterio.FieldErrorsBuilder
	seen := map[string]bool{}
	for _, l := range s.SupportedLanguages {
		field := fmt.Sprintf("supported_languages[%q]", l.Code)
		key := strings.ToLower(l.Code)
		if seen[key] {
			errs = errs.Append(field, fmt.Errorf("duplicate language code"))
		}
		seen[key] = true
		if strings.TrimSpace(l.Name) == "" {
			errs = errs.Append(field, fmt.Errorf("formal name is required"))
		} else if FolderName(l.Name) == "" {
			errs = errs.Append(field, fmt.Errorf("formal name %q yields an empty folder name", l.Name))
		}
	}
	return errs.ToError()
}

func required(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("is required")
	}
	return nil
}

func absoluteURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL, got %q", s)
	}
	return nil
}

func optionalURL(s string) error {
	if s == "" {
		return nil
	}
	return absoluteURL(s)
}

func logLevel(s string) error {
	if _, err := zerolog.ParseLevel(s); err != nil {
		return fmt.Errorf("invalid log level %q", s)
	}
	return nil
}
