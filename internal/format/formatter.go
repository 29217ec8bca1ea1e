package format

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Mozzicato/Lumen/internal/config"
	"github.com/Mozzicato/Lumen/internal/metrics"
	"github.com/Mozzicato/Lumen/internal/stage"
)

// SystemPrompt is the fixed instruction set sent with every formatting request.
const SystemPrompt = `You are an expert document formatter and academic assistant.
Your task is to take raw, messy text extracted from handwritten notes or PDF scans (via OCR) and convert it into a clean, well-structured Markdown document.

Rules:
1. **Layout**: Use proper Markdown headers (#, ##, ###) to structure the notes logically.
2. **Math**: Detect mathematical expressions and format them using LaTeX.
   - Use $...$ for inline math.
   - Use $$...$$ for block math/equations.
3. **Corrections**: Fix obvious OCR errors (typos, spacing issues) based on context.
4. **Lists**: Convert bullet points or numbered lists into proper Markdown lists.
5. **Bold/Italic**: Use bold or italics for emphasized text or key terms.
6. **No Chatter**: Return ONLY the formatted Markdown. Do not include introductory or concluding remarks.
`

const userPrefix = "Here is the raw OCR text:\n\n"

// Options carries generation parameters shared by all backends.
type Options struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Formatter restructures raw text through one or more backends, in order.
// It never fails: when every backend fails the input comes back unchanged.
type Formatter struct {
	clients []Client
	opts    Options
	breaker Breaker
}

func New(opts Options, clients ...Client) *Formatter {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	var cs []Client
	for _, c := range clients {
		if c != nil {
			cs = append(cs, c)
		}
	}
	return &Formatter{clients: cs, opts: opts}
}

// FromConfig builds the primary and optional secondary backends.
func FromConfig(cfg config.FormatterConfig) *Formatter {
	hc := &http.Client{Timeout: cfg.Timeout}
	opts := Options{Temperature: cfg.Temperature, MaxTokens: cfg.MaxTokens, Timeout: cfg.Timeout}
	return New(opts, clientFor(cfg.Primary, cfg.Referer, hc), clientFor(cfg.Secondary, cfg.Referer, hc))
}

func clientFor(b config.BackendConfig, referer string, hc *http.Client) Client {
	switch b.Provider {
	case "anthropic":
		return NewAnthropicClient(b.BaseURL, b.APIKey, b.Model, hc)
	case "openai", "openrouter", "groq":
		return NewOpenAIClient(b.BaseURL, b.APIKey, b.Model, referer, hc)
	default:
		return nil
	}
}

// WithBreaker makes Format skip backends in cooldown and cool down backends
// that fail transiently.
func (f *Formatter) WithBreaker(b Breaker) *Formatter {
	f.breaker = b
	return f
}

// Backends names the configured backends, for readiness reporting.
func (f *Formatter) Backends() []string {
	out := make([]string, 0, len(f.clients))
	for _, c := range f.clients {
		out = append(out, c.Name()+"/"+c.Model())
	}
	return out
}

// Format returns the restructured text, or raw unchanged on any failure.
func (f *Formatter) Format(ctx context.Context, raw string) stage.Result {
	if strings.TrimSpace(raw) == "" {
		return stage.Degraded(raw, "empty input")
	}
	if len(f.clients) == 0 {
		log.Warn().Msg("no formatting backend configured; keeping raw text")
		return stage.Degraded(raw, "no formatting backend configured")
	}

	req := Request{
		SystemPrompt: SystemPrompt,
		UserPrompt:   userPrefix + raw,
		Temperature:  f.opts.Temperature,
		MaxTokens:    f.opts.MaxTokens,
	}

	var errs []string
	for _, c := range f.clients {
		if f.breaker != nil && f.breaker.IsOpen(ctx, c.Name(), c.Model()) {
			log.Warn().Str("provider", c.Name()).Str("model", c.Model()).Msg("formatting backend in cooldown; skipping")
			errs = append(errs, fmt.Sprintf("%s: circuit open", c.Name()))
			continue
		}
		resp, err := f.call(ctx, c, req)
		if err == nil {
			if f.breaker != nil {
				f.breaker.Close(ctx, c.Name(), c.Model())
			}
			return stage.OK(resp.Text)
		}
		log.Error().Err(err).Str("provider", c.Name()).Str("model", c.Model()).Msg("formatting backend failed")
		errs = append(errs, fmt.Sprintf("%s: %v", c.Name(), err))
		if f.breaker != nil && IsTransient(err) {
			f.breaker.Open(context.WithoutCancel(ctx), c.Name(), c.Model())
		}
	}
	return stage.Degraded(raw, strings.Join(errs, "; "))
}

func (f *Formatter) call(ctx context.Context, c Client, req Request) (Response, error) {
	cctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.Do(cctx, req)
	metrics.ObserveFormatter(c.Name(), c.Model(), resultLabel(err), time.Since(start))
	if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return Response{}, fmt.Errorf("formatting timed out after %s: %w", f.opts.Timeout, context.DeadlineExceeded)
	}
	if err == nil {
		log.Debug().Str("provider", c.Name()).Int("tokens_in", resp.TokensIn).Int("tokens_out", resp.TokensOut).Msg("formatted text")
	}
	return resp, err
}

func resultLabel(err error) string {
	var httpErr *HTTPError
	switch {
	case err == nil:
		return "success"
	case IsRateLimited(err):
		return "rate_limited"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &httpErr):
		return fmt.Sprintf("http_%d", httpErr.StatusCode)
	default:
		return "error"
	}
}
