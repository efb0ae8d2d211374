package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBaseURL is the Google AI endpoint root.
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// Generator sends one prompt to a language model and returns its text
// answer. Implementations make a single attempt; retrying is the caller's
// job. Retryable failures are returned as *Error with KindTransient.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeminiConfig configures the Gemini transport.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	// Proxy overrides HTTP_PROXY/HTTPS_PROXY when set.
	Proxy       string
	Temperature float64
	Logger      zerolog.Logger
}

// Gemini talks to the Google AI generateContent API.
type Gemini struct {
	cfg    GeminiConfig
	client *http.Client
	rl     rateLimitState
}

// NewGemini returns a Gemini transport. Per-request deadlines come from the
// caller's context.
func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Gemini{cfg: cfg, client: makeHTTPClient(cfg.Proxy)}
}

func (g *Gemini) endpoint() string {
	return fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(g.cfg.BaseURL, "/"), g.cfg.Model)
}

// Generate implements Generator.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	if g.cfg.APIKey == "" {
		return "", errors.New("gemini API key is not set")
	}

	body, err := buildGeminiRequest(prompt, g.cfg.Temperature)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}

	// Wait if globally paused (rate limit from another worker)
	if err := g.rl.waitIfPaused(ctx); err != nil {
		return "", transient(err, errors.Is(err, context.DeadlineExceeded))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.cfg.APIKey)

	g.cfg.Logger.Debug().Str("model", g.cfg.Model).Int("bytes", len(body)).Msg("POST generateContent")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", transient(fmt.Errorf("API request failed: %w", err), isTimeout(err))
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return "", transient(fmt.Errorf("reading response: %w", err), isTimeout(err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryDelay := parseRetryDelay(respBody)
		g.cfg.Logger.Warn().Dur("delay", retryDelay).Msg("429 rate limited, pausing requests")
		// Globally pause all workers
		g.rl.pause(retryDelay)
		return "", transient(fmt.Errorf("rate limited: %s", truncate(string(respBody), 500)), false)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout:
		return "", transient(fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncate(string(respBody), 500)), false)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	return extractResponseText(respBody)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// ---------------------------------------------------------------------------
// Rate limit state (global pause for parallel workers)
// ---------------------------------------------------------------------------

type rateLimitState struct {
	mu       sync.Mutex
	paused   int32 // atomic: 1 = paused
	pauseEnd time.Time
}

func (r *rateLimitState) isPaused() bool {
	return atomic.LoadInt32(&r.paused) == 1
}

func (r *rateLimitState) pause(duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauseEnd = time.Now().Add(duration)
	atomic.StoreInt32(&r.paused, 1)
}

func (r *rateLimitState) unpause() {
	atomic.StoreInt32(&r.paused, 0)
}

// waitIfPaused blocks until the rate limit pause is over.
func (r *rateLimitState) waitIfPaused(ctx context.Context) error {
	for r.isPaused() {
		r.mu.Lock()
		remaining := time.Until(r.pauseEnd)
		r.mu.Unlock()
		if remaining <= 0 {
			r.unpause()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(min(remaining, 100*time.Millisecond)):
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// HTTP plumbing
// ---------------------------------------------------------------------------

// makeHTTPClient has no client timeout; deadlines come from the request
// context.
func makeHTTPClient(proxyURL string) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	// Support both the proxy setting and HTTP_PROXY/HTTPS_PROXY env vars
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return &http.Client{Transport: transport}
}

func buildGeminiRequest(prompt string, temperature float64) ([]byte, error) {
	type part struct {
		Text string `json:"text"`
	}
	type content struct {
		Role  string `json:"role,omitempty"`
		Parts []part `json:"parts"`
	}
	type genConfig struct {
		Temperature float64 `json:"temperature"`
	}
	req := struct {
		Contents         []content `json:"contents"`
		GenerationConfig genConfig `json:"generationConfig"`
	}{
		Contents: []content{
			{Role: "user", Parts: []part{{Text: prompt}}},
		},
		GenerationConfig: genConfig{Temperature: temperature},
	}
	return json.Marshal(req)
}

// extractResponseText returns the concatenated text parts of the first
// candidate.
func extractResponseText(body []byte) (string, error) {
	var raw struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("invalid JSON response: %w", err)
	}

	if raw.Error != nil {
		return "", fmt.Errorf("API error: %s", raw.Error.Message)
	}

	if len(raw.Candidates) == 0 {
		return "", fmt.Errorf("could not extract text from response: %s", truncate(string(body), 500))
	}

	var sb strings.Builder
	for _, p := range raw.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty response (finish reason %q)", raw.Candidates[0].FinishReason)
	}
	return sb.String(), nil
}

// parseRetryDelay extracts the retry delay from a 429 response body.
// Looks for Google's RetryInfo detail with retryDelay field.
// Returns the delay to wait, defaulting to 60s + 5s buffer.
func parseRetryDelay(body []byte) time.Duration {
	const defaultDelay = 65 * time.Second // 60s + 5s buffer

	var errResp struct {
		Error struct {
			Details []struct {
				Type       string `json:"@type"`
				RetryDelay string `json:"retryDelay"`
			} `json:"details"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &errResp); err != nil {
		return defaultDelay
	}

	for _, detail := range errResp.Error.Details {
		if strings.Contains(detail.Type, "RetryInfo") && detail.RetryDelay != "" {
			// Parse duration like "30s", "45.123s"
			d := strings.TrimSuffix(detail.RetryDelay, "s")
			if secs, err := strconv.ParseFloat(d, 64); err == nil {
				return time.Duration(secs*1000)*time.Millisecond + 5*time.Second
			}
		}
	}

	return defaultDelay
}

// truncate truncates a string to maxLen bytes.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
