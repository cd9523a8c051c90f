package hopprun

import (
	"context"
	"runtime/debug"

	"pkt.systems/hopprun/internal/collection"
	"pkt.systems/hopprun/internal/runner"
)

// Public type aliases to runner package

// Runner executes collections and collection documents.
type (
	Runner = runner.Runner
	// RunOptions configure a single run invocation.
	RunOptions = runner.RunOptions
	// RequestReport captures the outcome of a single request.
	RequestReport = runner.RequestReport
	// Summary aggregates the reports of a run.
	Summary = runner.Summary
	// Metrics are the pass/fail tallies and timings of a run.
	Metrics = runner.Metrics
	// Counter is a pass/fail tally.
	Counter = runner.Counter
	// IterationData holds the rows of a CSV or JSON data file.
	IterationData = runner.IterationData
	// Transport sends effective requests.
	Transport = runner.Transport
	// TokenGenerator refreshes OAuth 2.0 tokens before a run.
	TokenGenerator = runner.TokenGenerator
	// Collection is a tree of folders and requests.
	Collection = collection.Collection
	// Environment is a named list of variables.
	Environment = collection.Environment
)

// Option tweaks runner construction.
type Option = runner.Option

var (
	// WithLogger supplies a custom pslog logger.
	WithLogger = runner.WithLogger
	// WithHTTPClient injects a custom HTTP client.
	WithHTTPClient = runner.WithHTTPClient
	// WithTransport replaces the HTTP transport.
	WithTransport = runner.WithTransport
	// WithTimeout sets the per-request timeout.
	WithTimeout = runner.WithTimeout
	// WithTokenGenerator replaces OAuth 2.0 token generation.
	WithTokenGenerator = runner.WithTokenGenerator
	// WithScriptCacheSize bounds the compiled script cache.
	WithScriptCacheSize = runner.WithScriptCacheSize
)

// New constructs a Runner.
func New(ctx context.Context, opts ...Option) (Runner, error) {
	return runner.New(ctx, opts...)
}

// LoadCollections reads a collection document (JSON, JSONC or YAML).
func LoadCollections(path string) ([]Collection, error) {
	return collection.LoadCollections(path)
}

// Version returns the current module version (best effort).
func Version() string {
	return moduleVersion(modulePath)
}

const modulePath = "pkt.systems/hopprun"

var moduleVersion = buildInfoVersion

func buildInfoVersion(path string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "(devel)"
	}
	if info.Main.Path == path && info.Main.Version != "" {
		return info.Main.Version
	}
	for _, dep := range info.Deps {
		if dep.Path == path {
			return dep.Version
		}
	}
	return "(devel)"
}
