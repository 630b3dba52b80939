package dotphrase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultProviderTimeout bounds a single token's provider call.
const DefaultProviderTimeout = 8 * time.Second

// Replacement pairs a raw token with the value substituted for it.
type Replacement struct {
	Raw   string `json:"raw"`
	Value string `json:"value"`
}

// Result is the outcome of Expand.
type Result struct {
	Replaced     string        `json:"replaced"`
	Replacements []Replacement `json:"replacements"`
}

// Engine expands dot-phrases against injected providers. It keeps no state
// between calls and is safe for concurrent use.
type Engine struct {
	providers      Providers
	patients       PatientContext
	grammar        Grammar
	logger         zerolog.Logger
	timeout        time.Duration
	maxConcurrency int
	now            func() time.Time
}

type Option func(*Engine)

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTimeout sets the per-token provider deadline; zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithMaxConcurrency caps in-flight token resolutions; zero is unbounded.
func WithMaxConcurrency(n int) Option {
	return func(e *Engine) { e.maxConcurrency = n }
}

// WithClock replaces time.Now for window resolution and ages.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(providers Providers, patients PatientContext, opts ...Option) *Engine {
	e := &Engine{
		providers: providers,
		patients:  patients,
		logger:    zerolog.Nop(),
		timeout:   DefaultProviderTimeout,
		now:       time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	e.grammar = Grammar{Dates: DateResolver{Now: e.now}}
	return e
}

// Scan exposes the tokenizer, e.g. for highlighting.
func (e *Engine) Scan(text string) []Token {
	return Scan(text)
}

// Replace is Expand without the replacement list.
func (e *Engine) Replace(ctx context.Context, text string) string {
	return e.Expand(ctx, text).Replaced
}

// Expand substitutes every resolvable dot-phrase in text. Without an active
// patient, or without any candidate token, text comes back unchanged. Each
// distinct token resolves once and concurrently; a token that fails,
// times out or resolves to "" stays literal.
func (e *Engine) Expand(ctx context.Context, text string) Result {
	res := Result{Replaced: text, Replacements: []Replacement{}}
	if !mayContainToken(text) {
		return res
	}
	occs := scanOccurrences(text)
	tokens := uniqueTokens(occs)
	if len(tokens) == 0 {
		return res
	}

	if e.patients == nil {
		return res
	}
	patientID, ok := e.patients.ActivePatient(ctx)
	if !ok || patientID == "" {
		e.logger.Debug().Int("tokens", len(tokens)).Msg("no active patient; skipping expansion")
		return res
	}

	values := make([]*ResolvedValue, len(tokens))
	g, gctx := errgroup.WithContext(ctx)
	if e.maxConcurrency > 0 {
		g.SetLimit(e.maxConcurrency)
	}
	for i, tok := range tokens {
		i, tok := i, tok
		g.Go(func() error {
			values[i] = e.Resolve(gctx, patientID, tok)
			return nil
		})
	}
	_ = g.Wait()

	byRaw := make(map[string]string, len(tokens))
	for i, tok := range tokens {
		if values[i] == nil || values[i].Plain == "" {
			continue
		}
		byRaw[tok.Raw] = values[i].Plain
		res.Replacements = append(res.Replacements, Replacement{Raw: tok.Raw, Value: values[i].Plain})
	}
	res.Replaced = substitute(text, occs, byRaw)
	return res
}

// Resolve runs one token through grammar, provider and formatter. It
// returns nil when the token should stay unexpanded: unknown family,
// missing provider, provider error, panic or deadline.
//
// Providers must honour ctx. On deadline Resolve returns without waiting,
// and a provider that ignores cancellation keeps running in the background.
func (e *Engine) Resolve(ctx context.Context, patientID string, tok Token) *ResolvedValue {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	type outcome struct {
		v   *ResolvedValue
		err error
	}
	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("provider panic: %v", r)}
			}
		}()
		v, err := e.dispatch(ctx, patientID, tok)
		done <- outcome{v: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			e.logger.Warn().Err(out.err).Str("token", tok.Raw).Msg("token left unexpanded")
			return nil
		}
		e.logger.Debug().
			Str("token", tok.Raw).
			Str("family", tok.Name).
			Dur("duration", time.Since(start)).
			Msg("token resolved")
		return out.v
	case <-ctx.Done():
		e.logger.Warn().Err(ctx.Err()).Str("token", tok.Raw).Msg("token resolution timed out")
		return nil
	}
}

// substitute rewrites text in one pass over the scanned occurrences.
// Escaped occurrences and tokens without a value are copied verbatim.
func substitute(text string, occs []occurrence, values map[string]string) string {
	if len(values) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, o := range occs {
		if o.escaped {
			continue
		}
		v, ok := values[o.Raw]
		if !ok {
			continue
		}
		b.WriteString(text[last:o.Start])
		b.WriteString(v)
		last = o.End
	}
	b.WriteString(text[last:])
	return b.String()
}
