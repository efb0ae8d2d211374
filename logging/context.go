package logging

import (
	"context"

	"github.com/rs/zerolog"
)

type contextKey string

const (
	jobIDKey    contextKey = "job_id"
	languageKey contextKey = "language"
)

// WithJobID adds a job ID to the context.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithLanguage adds a target language code to the context.
func WithLanguage(ctx context.Context, lang string) context.Context {
	return context.WithValue(ctx, languageKey, lang)
}

// GetJobID retrieves the job ID from the context.
// Returns empty string if not present.
func GetJobID(ctx context.Context) string {
	if id, ok := ctx.Value(jobIDKey).(string); ok {
		return id
	}
	return ""
}

// GetLanguage retrieves the language code from the context.
// Returns empty string if not present.
func GetLanguage(ctx context.Context) string {
	if lang, ok := ctx.Value(languageKey).(string); ok {
		return lang
	}
	return ""
}

// Ctx returns the component logger annotated with the job and language
// carried by ctx.
func Ctx(ctx context.Context, name string) zerolog.Logger {
	l := Component(name).With()
	if id := GetJobID(ctx); id != "" {
		l = l.Str("job", id)
	}
	if lang := GetLanguage(ctx); lang != "" {
		l = l.Str("lang", lang)
	}
	return l.Logger()
}
