// Package translate is the oracle client: it sends flattened node texts to a
// language model in JSON batches, retries transient failures, repairs
// responses whose placeholder markers went missing, and reassembles the
// answers into per-node translations.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// DefaultDebugDir receives diagnostic dumps.
const DefaultDebugDir = ".translator_debug"

// ---------------------------------------------------------------------------
// Oracle contract
// ---------------------------------------------------------------------------

// Pair is one flat key and its source text.
type Pair struct {
	Key  string
	Text string
}

// Request is one oracle call: a set of flat pairs for one target language.
type Request struct {
	Pairs []Pair
	// LanguageName is the display name put into the prompt, e.g. "German (Germany)".
	LanguageName string
	// Corrective selects the stronger repair prompt.
	Corrective bool
	// Source is the file the pairs come from; used in diagnostics.
	Source string
}

// Oracle maps flat keys to translated text. Keys missing from the answer
// are simply absent from the returned map.
type Oracle interface {
	Translate(ctx context.Context, req Request) (map[string]string, error)
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Options controls batching, retries and diagnostics.
type Options struct {
	// BatchSize is how many flat pairs go into one request. Default: 150.
	BatchSize int
	// MaxNetworkRetries is the attempt limit per batch. Default: 3.
	MaxNetworkRetries int
	// RetryDelay is the pause between attempts. Default: 5s.
	RetryDelay time.Duration
	// Timeout bounds each attempt. Default: 10m.
	Timeout time.Duration
	// MaxFormattingRetries is the number of repair rounds. Default: 2.
	MaxFormattingRetries int
	// IncrementalThreshold is the item count above which a file is split
	// into concurrently translated chunks. Default: 250.
	IncrementalThreshold int
	// MaxConcurrent caps in-flight oracle requests across all callers
	// sharing the client. Default: 10.
	MaxConcurrent int
	// DebugDir receives parse and formatting dumps. Default: .translator_debug.
	DebugDir string
	// Prompts overrides the built-in prompt templates.
	Prompts *Prompts
	// Logger receives structured diagnostics.
	Logger zerolog.Logger
	// OnLog emits informational operator messages.
	OnLog func(format string, args ...any)
	// OnWarn emits retry and repair warnings. Falls back to OnLog.
	OnWarn func(format string, args ...any)
}

func (o *Options) log(format string, args ...any) {
	if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) warn(format string, args ...any) {
	if o.OnWarn != nil {
		o.OnWarn(format, args...)
	} else if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) effectiveBatchSize() int {
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	return 150
}

func (o *Options) effectiveMaxNetworkRetries() int {
	if o.MaxNetworkRetries > 0 {
		return o.MaxNetworkRetries
	}
	return 3
}

func (o *Options) effectiveRetryDelay() time.Duration {
	if o.RetryDelay > 0 {
		return o.RetryDelay
	}
	return 5 * time.Second
}

func (o *Options) effectiveTimeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return 10 * time.Minute
}

func (o *Options) effectiveMaxFormattingRetries() int {
	if o.MaxFormattingRetries > 0 {
		return o.MaxFormattingRetries
	}
	return 2
}

func (o *Options) effectiveIncrementalThreshold() int {
	if o.IncrementalThreshold > 0 {
		return o.IncrementalThreshold
	}
	return 250
}

func (o *Options) effectiveMaxConcurrent() int {
	if o.MaxConcurrent > 0 {
		return o.MaxConcurrent
	}
	return 10
}

func (o *Options) effectiveDebugDir() string {
	if o.DebugDir != "" {
		return o.DebugDir
	}
	return DefaultDebugDir
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client implements Oracle on top of a Generator.
type Client struct {
	gen  Generator
	opts Options
	// gate bounds in-flight generator calls for every goroutine using the
	// client, file workers and incremental chunks alike.
	gate *semaphore.Weighted
	now  func() time.Time
}

// NewClient returns a client that sends prompts through gen.
func NewClient(gen Generator, opts Options) *Client {
	return &Client{
		gen:  gen,
		opts: opts,
		gate: semaphore.NewWeighted(int64(opts.effectiveMaxConcurrent())),
		now:  time.Now,
	}
}

// Options returns the client's options.
func (c *Client) Options() Options { return c.opts }

// Translate sends req.Pairs in batches and merges the answers. Batches run
// one after another; the first failing batch aborts the call.
func (c *Client) Translate(ctx context.Context, req Request) (map[string]string, error) {
	out := make(map[string]string, len(req.Pairs))
	size := c.opts.effectiveBatchSize()

	for start := 0; start < len(req.Pairs); start += size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+size, len(req.Pairs))
		got, err := c.translateBatch(ctx, req, req.Pairs[start:end])
		if err != nil {
			return nil, err
		}
		for k, v := range got {
			out[k] = v
		}
	}
	return out, nil
}

func (c *Client) translateBatch(ctx context.Context, req Request, batch []Pair) (map[string]string, error) {
	payload, err := encodeObject(batch)
	if err != nil {
		return nil, fmt.Errorf("encoding batch: %w", err)
	}
	key := PromptTranslate
	if req.Corrective {
		key = PromptFix
	}
	prompt := c.opts.Prompts.Render(key, req.LanguageName, payload)

	raw, err := c.generateWithRetry(ctx, prompt)
	if err != nil {
		return nil, err
	}

	out, err := ParseResponse(raw)
	if err != nil {
		return nil, c.parseFailure(req.Source, prompt, raw, err)
	}
	return out, nil
}

// NativeName asks the oracle for the endonym of a language, e.g.
// "Deutsch (Deutschland)" for "German (Germany)".
func (c *Client) NativeName(ctx context.Context, formalName string) (string, error) {
	prompt := c.opts.Prompts.Render(PromptNativeName, formalName, "")
	raw, err := c.generateWithRetry(ctx, prompt)
	if err != nil {
		return "", err
	}
	name := cleanText(raw)
	if name == "" {
		return "", &Error{Kind: KindMalformed, Msg: fmt.Sprintf("empty native name for %q", formalName)}
	}
	return name, nil
}

// generateWithRetry runs up to MaxNetworkRetries attempts. Only transient
// failures are retried. An attempt that is already running when ctx is
// cancelled is allowed to finish; no further attempt starts afterwards.
func (c *Client) generateWithRetry(ctx context.Context, prompt string) (string, error) {
	maxAttempts := c.opts.effectiveMaxNetworkRetries()
	delay := c.opts.effectiveRetryDelay()

	for attempt := 1; ; attempt++ {
		raw, err := c.generate(ctx, prompt)
		if err == nil {
			return raw, nil
		}
		if !IsTransient(err) {
			return "", err
		}

		var te *Error
		errors.As(err, &te)

		if attempt >= maxAttempts {
			if te.Timeout {
				return "", &Error{
					Kind:    KindTransient,
					Timeout: true,
					Err:     err,
					Msg:     fmt.Sprintf("API request timed out after %s.", minutes(c.opts.effectiveTimeout())),
				}
			}
			return "", err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%w (last attempt: %v)", ctxErr, err)
		}

		if te.Timeout {
			c.opts.warn("API request timed out (Attempt %d/%d). Retrying in %s...", attempt, maxAttempts, seconds(delay))
		} else {
			c.opts.warn("API request failed (Attempt %d/%d): %s. Retrying in %s...", attempt, maxAttempts, err, seconds(delay))
		}
		c.opts.Logger.Debug().Err(err).Int("attempt", attempt).Msg("retrying oracle request")

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w (last attempt: %v)", ctx.Err(), err)
		case <-time.After(delay):
		}
	}
}

// generate performs one attempt under the shared gate and the per-attempt
// timeout.
func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.gate.Release(1)

	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.effectiveTimeout())
	defer cancel()

	raw, err := c.gen.Generate(attemptCtx, prompt)
	if err != nil {
		var te *Error
		if !errors.As(err, &te) && errors.Is(err, context.DeadlineExceeded) {
			return "", transient(err, true)
		}
		return "", err
	}
	return raw, nil
}

// parseFailure writes the parse diagnostic dump and returns the malformed
// response error.
func (c *Client) parseFailure(source, prompt, raw string, cause error) error {
	dump := struct {
		Error            string `json:"error"`
		ExceptionMessage string `json:"exceptionMessage"`
		Prompt           string `json:"prompt"`
		RawResponse      string `json:"rawResponse"`
	}{
		Error:            "Failed to parse API response as JSON.",
		ExceptionMessage: cause.Error(),
		Prompt:           prompt,
		RawResponse:      raw,
	}
	if raw == "" {
		dump.RawResponse = "Response was null."
	}

	path, err := writeDump(c.opts.effectiveDebugDir(), source, "parsing_error.txt", c.now(), dump)
	if err != nil {
		c.opts.Logger.Error().Err(err).Msg("writing parse dump")
		return &Error{
			Kind: KindMalformed,
			Err:  cause,
			Msg:  fmt.Sprintf("Failed to parse API response for '%s'.", source),
		}
	}
	return &Error{
		Kind:     KindMalformed,
		Err:      cause,
		DumpPath: path,
		Msg:      fmt.Sprintf("Failed to parse API response for '%s'. Raw response and prompt saved to '%s'.", source, path),
	}
}

// writeDump stores v as JSON in dir under
// {source base name}_{timestamp}_{suffix}.
func writeDump(dir, source, suffix string, now time.Time, v any) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating debug directory: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	path := filepath.Join(dir, fmt.Sprintf("%s_%s_%s", base, Timestamp(now), suffix))

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

// Timestamp formats t as yyyyMMdd_HHmmss_fff.
func Timestamp(t time.Time) string {
	return strings.Replace(t.Format("20060102_150405.000"), ".", "_", 1)
}

// ---------------------------------------------------------------------------
// Request and response encoding
// ---------------------------------------------------------------------------

// encodeObject renders pairs as a JSON object, keeping their order.
func encodeObject(pairs []Pair) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, p := range pairs {
		if i > 0 {
			sb.WriteByte(',')
		}
		for j, s := range []string{p.Key, p.Text} {
			buf.Reset()
			if err := enc.Encode(s); err != nil {
				return "", err
			}
			if j == 1 {
				sb.WriteByte(':')
			}
			sb.Write(bytes.TrimRight(buf.Bytes(), "\n"))
		}
	}
	sb.WriteByte('}')
	return sb.String(), nil
}

var fencedJSON = regexp.MustCompile("```(?:json)?\\s*(\\{[\\s\\S]*\\})\\s*```")

// CleanResponse extracts the JSON object from a model answer: a fenced
// ```json block wins, then the span from the first '{' to the last '}'.
// Anything else is trimmed of whitespace and quotes.
func CleanResponse(raw string) string {
	if m := fencedJSON.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start != -1 && end > start {
		return strings.TrimSpace(raw[start : end+1])
	}
	return cleanText(raw)
}

func cleanText(raw string) string {
	return strings.Trim(strings.TrimSpace(raw), `"`)
}

// ParseResponse cleans raw and decodes it as a JSON object. Trailing commas
// are tolerated. Values that are not strings are dropped.
func ParseResponse(raw string) (map[string]string, error) {
	cleaned := stripTrailingCommas(CleanResponse(raw))

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("response is not a JSON object")
	}

	out := make(map[string]string, len(obj))
	for k, v := range obj {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
		}
	}
	return out, nil
}

// stripTrailingCommas removes commas that directly precede '}' or ']'
// (ignoring whitespace), leaving string contents untouched.
func stripTrailingCommas(s string) string {
	var out strings.Builder
	inQuote := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		if inQuote {
			out.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inQuote = false
			}
			continue
		}

		if c == '"' {
			inQuote = true
			out.WriteByte(c)
			continue
		}

		if c == ',' {
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		out.WriteByte(c)
	}

	return out.String()
}

func minutes(d time.Duration) string {
	if d%time.Minute == 0 {
		return fmt.Sprintf("%d minute(s)", int(d/time.Minute))
	}
	return d.String()
}

func seconds(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%d seconds", int(d/time.Second))
	}
	return d.String()
}
