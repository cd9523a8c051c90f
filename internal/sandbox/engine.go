// Package sandbox runs pre-request and test scripts against the pw
// capability object.
//
// Every script body gets a fresh goja runtime, so local bindings never leak
// between inherited scripts. The only state that crosses a script boundary
// is the environment set carried by pw.env and, for test scripts, the test
// tree built by pw.test and pw.expect.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dop251/goja"
	lru "github.com/hashicorp/golang-lru/v2"
	"pkt.systems/pslog"

	"pkt.systems/hopprun/internal/collection"
	"pkt.systems/hopprun/internal/errs"
)

// DefaultCacheSize is the number of compiled scripts kept by an Engine.
const DefaultCacheSize = 256

// Request is the read-only view of the running request exposed as
// pw.request.
type Request struct {
	URL     string
	Method  string
	Params  []collection.MetaEntry
	Headers []collection.MetaEntry
}

// Response is the transport result exposed as pw.response.
type Response struct {
	Status     int
	StatusText string
	Headers    []collection.MetaEntry
	Body       []byte
}

// TestResult is the outcome of a test phase.
type TestResult struct {
	Envs  collection.Envs
	Tests *TestNode
}

// Engine compiles and runs scripts. It is safe for concurrent use; each run
// owns its runtimes.
type Engine struct {
	programs *lru.Cache[string, *goja.Program]
	logger   pslog.Base
}

// NewEngine returns an Engine caching up to cacheSize compiled programs.
func NewEngine(cacheSize int, logger pslog.Base) (*Engine, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	programs, err := lru.New[string, *goja.Program](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("script cache: %w", err)
	}
	if logger == nil {
		logger = pslog.New(io.Discard)
	}
	return &Engine{programs: programs, logger: logger}, nil
}

func (e *Engine) compile(src string) (*goja.Program, error) {
	if p, ok := e.programs.Get(src); ok {
		return p, nil
	}
	p, err := goja.Compile("script.js", src, false)
	if err != nil {
		return nil, err
	}
	e.programs.Add(src, p)
	return p, nil
}

// RunPreRequest runs scripts in order, root first. A throwing script stops
// only itself: env mutations made before the throw are kept and the next
// script still runs. The first failure is returned as
// PRE_REQUEST_SCRIPT_ERROR together with the resulting envs.
func (e *Engine) RunPreRequest(ctx context.Context, scripts []string, envs collection.Envs, req Request) (collection.Envs, error) {
	st := &state{envs: envs.Clone(), logger: e.logger}
	var first error
	for _, src := range scripts {
		if strings.TrimSpace(src) == "" {
			continue
		}
		err := e.run(ctx, src, func(vm *goja.Runtime) error {
			return st.install(vm, req, nil)
		})
		if err != nil && first == nil {
			first = errs.Wrap(errs.PreRequestScriptError, err, scriptMessage(err))
		}
	}
	return st.envs, first
}

// RunTests runs scripts in order, request first. Any throw discards every
// test node and env mutation of the phase and returns TEST_SCRIPT_ERROR
// with the envs passed in.
func (e *Engine) RunTests(ctx context.Context, scripts []string, envs collection.Envs, req Request, resp Response) (TestResult, error) {
	st := &state{envs: envs.Clone(), tests: newTestStack(), logger: e.logger}
	for _, src := range scripts {
		if strings.TrimSpace(src) == "" {
			continue
		}
		err := e.run(ctx, src, func(vm *goja.Runtime) error {
			return st.install(vm, req, &resp)
		})
		if err != nil {
			return TestResult{Envs: envs}, errs.Wrap(errs.TestScriptError, err, scriptMessage(err))
		}
	}
	return TestResult{Envs: st.envs, Tests: st.tests.root()}, nil
}

// run executes src in a fresh runtime prepared by setup. Cancelling ctx
// interrupts the script.
func (e *Engine) run(ctx context.Context, src string, setup func(*goja.Runtime) error) (err error) {
	prog, err := e.compile(src)
	if err != nil {
		return err
	}
	vm := goja.New()
	if err := setup(vm); err != nil {
		return err
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("script panic: %v", r)
		}
	}()
	_, err = vm.RunProgram(prog)
	return err
}

// scriptMessage renders a script failure the way it reads in the console:
// the thrown value for exceptions, the compiler text for syntax errors.
func scriptMessage(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		if v := ex.Value(); v != nil {
			return v.String()
		}
	}
	var syn *goja.CompilerSyntaxError
	if errors.As(err, &syn) {
		return syn.Error()
	}
	var intr *goja.InterruptedError
	if errors.As(err, &intr) {
		return "script interrupted: " + fmt.Sprint(intr.Value())
	}
	return err.Error()
}
