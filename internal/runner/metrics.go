package runner

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"pkt.systems/hopprun/internal/errs"
)

// latency histogram bounds in microseconds: 1us to 10min, 3 significant
// digits.
const (
	minLatencyUs = 1
	maxLatencyUs = 600_000_000
)

// Counter is a pass/fail tally.
type Counter struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// Total is Passed plus Failed.
func (c Counter) Total() int { return c.Passed + c.Failed }

func (c *Counter) add(failed bool) {
	if failed {
		c.Failed++
		return
	}
	c.Passed++
}

// Latency summarises request durations of requests that got a response.
type Latency struct {
	Mean time.Duration `json:"mean"`
	P50  time.Duration `json:"p50"`
	P95  time.Duration `json:"p95"`
	P99  time.Duration `json:"p99"`
	Max  time.Duration `json:"max"`
}

// Metrics is the fold of all request reports of a run.
type Metrics struct {
	Tests             Counter   `json:"tests"`
	TestSuites        Counter   `json:"testSuites"`
	TestScripts       Counter   `json:"testScripts"`
	Requests          Counter   `json:"requests"`
	PreRequestScripts Counter   `json:"preRequestScripts"`
	Duration          Durations `json:"duration"`
	Latency           Latency   `json:"latency"`
}

// Aggregate folds reports into Metrics and the overall result, which is the
// AND of every report's result. An empty run passes.
func Aggregate(reports []RequestReport) (Metrics, bool) {
	var m Metrics
	hist := hdrhistogram.New(minLatencyUs, maxLatencyUs, 3)
	result := true
	for _, r := range reports {
		result = result && r.Result

		for _, t := range r.Tests {
			m.Tests.Passed += t.Passed
			m.Tests.Failed += t.Failed
			m.TestSuites.add(t.Failed > 0)
		}
		m.TestScripts.add(r.HasError(errs.TestScriptError))

		requestFailed := r.HasError(errs.RequestError) || r.HasError(errs.ParsingError)
		m.Requests.add(requestFailed)
		m.PreRequestScripts.add(r.HasError(errs.PreRequestScriptError))

		m.Duration.PreRequest += r.Duration.PreRequest
		m.Duration.Request += r.Duration.Request
		m.Duration.Test += r.Duration.Test

		if !requestFailed {
			us := r.Duration.Request.Microseconds()
			us = max(minLatencyUs, min(us, maxLatencyUs))
			_ = hist.RecordValue(us)
		}
	}
	if hist.TotalCount() > 0 {
		m.Latency = Latency{
			Mean: time.Duration(hist.Mean()) * time.Microsecond,
			P50:  time.Duration(hist.ValueAtQuantile(50)) * time.Microsecond,
			P95:  time.Duration(hist.ValueAtQuantile(95)) * time.Microsecond,
			P99:  time.Duration(hist.ValueAtQuantile(99)) * time.Microsecond,
			Max:  time.Duration(hist.Max()) * time.Microsecond,
		}
	}
	return m, result
}
