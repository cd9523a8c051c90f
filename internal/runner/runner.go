package runner

import (
	"context"
	"errors"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/hopprun/internal/collection"
	"pkt.systems/hopprun/internal/errs"
	"pkt.systems/hopprun/internal/oauth"
	"pkt.systems/hopprun/internal/sandbox"
)

const defaultTimeout = 15 * time.Second

// untitled names requests without a name in report paths.
const untitled = "Untitled Request"

// runner implements Runner.
type runner struct {
	logger    pslog.Base
	transport Transport
	timeout   time.Duration
	tokens    TokenGenerator
	engine    *sandbox.Engine
}

type runnerConfig struct {
	logger     pslog.Base
	httpClient *http.Client
	transport  Transport
	timeout    time.Duration
	tokens     TokenGenerator
	cacheSize  int
}

// New constructs a Runner with optional configuration.
func New(ctx context.Context, opts ...Option) (Runner, error) {
	if ctx == nil {
		return nil, errors.New("nil context")
	}
	cfg := runnerConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = pslog.New(os.Stdout)
	}
	if cfg.httpClient == nil {
		cfg.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if cfg.transport == nil {
		cfg.transport = HTTPTransport{Client: cfg.httpClient}
	}
	if cfg.timeout <= 0 {
		cfg.timeout = defaultTimeout
	}
	if cfg.tokens == nil {
		cfg.tokens = oauth.NewGenerator(cfg.httpClient, cfg.logger)
	}
	engine, err := sandbox.NewEngine(cfg.cacheSize, cfg.logger)
	if err != nil {
		return nil, err
	}
	return &runner{
		logger:    cfg.logger,
		transport: cfg.transport,
		timeout:   cfg.timeout,
		tokens:    cfg.tokens,
		engine:    engine,
	}, nil
}

// RunFile loads the collection document at path and runs it.
func (r *runner) RunFile(ctx context.Context, path string, opts RunOptions) (Summary, error) {
	cols, err := collection.LoadCollections(path)
	if err != nil {
		return Summary{}, err
	}
	return r.Run(ctx, cols, opts)
}

// Run executes every collection depth first, requests before folders, once
// per iteration. Input errors and OAuth token failures abort before the
// first request; per-request failures are recorded on the reports.
func (r *runner) Run(ctx context.Context, cols []collection.Collection, opts RunOptions) (Summary, error) {
	if ctx == nil {
		return Summary{}, errors.New("nil context")
	}
	start := time.Now()
	if opts.Delay < 0 {
		return Summary{}, errs.Newf(errs.InvalidArgument, "delay must be >= 0, got %s", opts.Delay)
	}
	if opts.IterationCount < 0 {
		return Summary{}, errs.Newf(errs.InvalidArgument, "iteration count must be >= 0, got %d", opts.IterationCount)
	}
	envs, err := loadEnvs(opts)
	if err != nil {
		return Summary{}, err
	}
	data, err := loadIterationData(opts)
	if err != nil {
		return Summary{}, err
	}
	cols, err = r.tokens.Apply(ctx, cols, envs.TemplateVars())
	if err != nil {
		return Summary{}, err
	}

	p := &pass{runner: r, delay: opts.Delay, envs: envs}
	selected := slices.Clone(envs.Selected)
	count := iterationCount(opts, data)
	for i := range count {
		p.iteration = i + 1
		p.envs = iterationEnvs(p.envs, selected, data, i)
		for _, c := range cols {
			root, inh := collection.Root(c)
			if err := p.walk(ctx, root, inh, c.Name); err != nil {
				return Summary{}, err
			}
		}
	}

	metrics, result := Aggregate(p.reports)
	sum := Summary{
		Reports:    p.reports,
		Metrics:    metrics,
		Iterations: count,
		Result:     result,
		Elapsed:    time.Since(start),
	}
	r.logger.Info("run.done", "requests", len(p.reports), "iterations", count, "result", result, "elapsed", sum.Elapsed.String())
	return sum, nil
}

// pass is the state of one run. envs is the only value shared between
// requests; each pipeline stage returns the updated copy.
type pass struct {
	*runner
	delay     time.Duration
	envs      collection.Envs
	iteration int
	reports   []RequestReport
}

func (p *pass) walk(ctx context.Context, c collection.Collection, inh collection.Inherited, path string) error {
	for _, req := range c.Requests {
		if err := p.wait(ctx); err != nil {
			return err
		}
		p.reports = append(p.reports, p.request(ctx, inh, req, path))
	}
	for _, f := range c.Folders {
		folder, next := inh.Descend(f)
		if err := p.walk(ctx, folder, next, path+"/"+f.Name); err != nil {
			return err
		}
	}
	return nil
}

// wait applies the delay before every request except the first of the run.
func (p *pass) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.delay <= 0 || len(p.reports) == 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.delay):
		return nil
	}
}

// request runs the pre-request scripts, builds and sends the request and
// runs the test scripts.
func (p *pass) request(ctx context.Context, inh collection.Inherited, req collection.Request, parent string) RequestReport {
	name := req.Name
	if strings.TrimSpace(name) == "" {
		name = untitled
	}
	resolved := inh.Apply(req)
	report := RequestReport{
		Path:      parent + "/" + name,
		Iteration: p.iteration,
		Method:    strings.ToUpper(resolved.Method),
		URL:       resolved.Endpoint,
	}
	p.logger.Info("run.request.start", "path", report.Path, "iteration", p.iteration)

	started := time.Now()
	envs, err := p.engine.RunPreRequest(ctx, inh.PreRequestChain(req), p.envs, rawView(resolved))
	report.Duration.PreRequest = time.Since(started)
	p.envs = envs
	if err != nil {
		p.fail(&report, err)
	}

	eff, err := buildRequest(resolved, requestScope(p.envs, inh.Variables, resolved))
	if err != nil {
		p.fail(&report, err)
		return p.done(report)
	}
	report.Method, report.URL = eff.Method, eff.DisplayURL

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	started = time.Now()
	resp, err := p.transport.Do(reqCtx, eff)
	report.Duration.Request = time.Since(started)
	cancel()
	if err != nil {
		p.fail(&report, errs.Wrap(errs.RequestError, err, ""))
	} else {
		report.Status = resp.Status
	}

	started = time.Now()
	res, err := p.engine.RunTests(ctx, inh.TestChain(req), p.envs, eff.sandboxView(), resp)
	report.Duration.Test = time.Since(started)
	p.envs = res.Envs
	if err != nil {
		p.fail(&report, err)
	}
	report.Tests = res.Tests.Reports()
	return p.done(report)
}

func (p *pass) fail(report *RequestReport, err error) {
	var e *errs.Error
	if !errors.As(err, &e) {
		e = errs.Wrap(errs.RequestError, err, "")
	}
	report.Errors = append(report.Errors, e)
	p.logger.Error("run.request.error", "path", report.Path, "code", string(e.Code), "err", e.Message)
}

func (p *pass) done(report RequestReport) RequestReport {
	report.Result = len(report.Errors) == 0
	for _, t := range report.Tests {
		if t.Failed > 0 {
			report.Result = false
		}
	}
	p.logger.Info("run.request.done",
		"path", report.Path,
		"status", report.Status,
		"tests", len(report.Tests),
		"errors", len(report.Errors),
		"result", report.Result,
		"dur", report.Duration.Request.String(),
	)
	return report
}

// rawView exposes the request as written, before template resolution, to
// pre-request scripts.
func rawView(r collection.Request) sandbox.Request {
	view := sandbox.Request{URL: r.Endpoint, Method: strings.ToUpper(r.Method)}
	for _, e := range r.Params {
		if e.Active {
			view.Params = append(view.Params, e)
		}
	}
	for _, e := range r.Headers {
		if e.Active {
			view.Headers = append(view.Headers, e)
		}
	}
	return view
}
