package runner

import (
	"context"
	"net/http"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/hopprun/internal/collection"
	"pkt.systems/hopprun/internal/errs"
	"pkt.systems/hopprun/internal/sandbox"
	"pkt.systems/hopprun/internal/template"
)

// Runner is the public interface exposed by this module. It is safe to hold
// and use from multiple goroutines; each call owns its run state.
type Runner interface {
	// Run executes cols and returns one report per executed request.
	Run(ctx context.Context, cols []collection.Collection, opts RunOptions) (Summary, error)
	// RunFile loads a collection document and runs it.
	RunFile(ctx context.Context, path string, opts RunOptions) (Summary, error)
}

// RunOptions controls one collection run.
type RunOptions struct {
	// EnvPath points to an environment document. When empty, Environment is
	// used as is.
	EnvPath     string
	Environment collection.Environment
	// Globals seeds the global environment list.
	Globals []collection.EnvVar
	// Secrets supplies values for secret variables the environment document
	// leaves blank. Defaults to the process environment.
	Secrets collection.SecretLookup
	// IterationCount repeats the whole run. Zero means one pass per
	// iteration data row, or a single pass without data.
	IterationCount int
	// IterationDataPath points to a CSV or JSON iteration data file.
	IterationDataPath string
	// IterationData is used when IterationDataPath is empty.
	IterationData *IterationData
	// Delay is awaited between requests; 0 to skip.
	Delay time.Duration
}

// Durations are the independently timed phases of one request.
type Durations struct {
	PreRequest time.Duration `json:"preRequest"`
	Request    time.Duration `json:"request"`
	Test       time.Duration `json:"test"`
}

// RequestReport is the outcome of a single request.
type RequestReport struct {
	// Path is the slash-joined collection, folder and request names.
	Path      string               `json:"path"`
	Iteration int                  `json:"iteration"`
	Method    string               `json:"method"`
	URL       string               `json:"url"`
	Status    int                  `json:"status,omitempty"`
	Tests     []sandbox.TestReport `json:"tests"`
	Errors    []*errs.Error        `json:"errors"`
	Result    bool                 `json:"result"`
	Duration  Durations            `json:"duration"`
}

// HasError reports whether the report carries an error with code.
func (r RequestReport) HasError(code errs.Code) bool {
	for _, e := range r.Errors {
		if e != nil && e.Code == code {
			return true
		}
	}
	return false
}

// Summary aggregates a run.
type Summary struct {
	Reports    []RequestReport `json:"reports"`
	Metrics    Metrics         `json:"metrics"`
	Iterations int             `json:"iterations"`
	Result     bool            `json:"result"`
	Elapsed    time.Duration   `json:"elapsed"`
}

// TokenGenerator refreshes OAuth 2.0 tokens on top-level collections before a
// run starts.
type TokenGenerator interface {
	Apply(ctx context.Context, cols []collection.Collection, vars []template.Variable) ([]collection.Collection, error)
}

// Option modifies a Runner at construction time.
type Option func(*runnerConfig)

// WithLogger overrides the default logger (pslog console).
func WithLogger(logger pslog.Base) Option {
	return func(rc *runnerConfig) { rc.logger = logger }
}

// WithHTTPClient sets the client used by the default transport and by OAuth
// token requests.
func WithHTTPClient(client *http.Client) Option {
	return func(rc *runnerConfig) { rc.httpClient = client }
}

// WithTransport replaces the HTTP transport.
func WithTransport(t Transport) Option {
	return func(rc *runnerConfig) { rc.transport = t }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(rc *runnerConfig) { rc.timeout = timeout }
}

// WithTokenGenerator replaces the OAuth 2.0 token generator.
func WithTokenGenerator(ts TokenGenerator) Option {
	return func(rc *runnerConfig) { rc.tokens = ts }
}

// WithScriptCacheSize bounds the number of compiled scripts kept in memory.
func WithScriptCacheSize(n int) Option {
	return func(rc *runnerConfig) { rc.cacheSize = n }
}
