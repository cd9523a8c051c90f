package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"pkt.systems/hopprun"
	"pkt.systems/hopprun/internal/sandbox"
)

// printSummary writes failed tests grouped by request, errors, and the
// metric blocks. The metric blocks are printed even for an empty run.
func printSummary(w io.Writer, sum hopprun.Summary) {
	red := color.New(color.FgRed).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	var failed, errored []hopprun.RequestReport
	for _, r := range sum.Reports {
		for _, t := range r.Tests {
			if t.Failed > 0 {
				failed = append(failed, r)
				break
			}
		}
		if len(r.Errors) > 0 {
			errored = append(errored, r)
		}
	}

	if len(failed) > 0 {
		fmt.Fprintf(w, "\n%s\n", bold("Failed Tests"))
		for _, r := range failed {
			fmt.Fprintf(w, "  %s\n", reportLabel(sum, r))
			for _, t := range r.Tests {
				for _, res := range t.ExpectResults {
					if res.Status == sandbox.StatusPass {
						continue
					}
					fmt.Fprintf(w, "    %s %s: %s\n", red("✗"), t.Descriptor, res.Message)
				}
			}
		}
	}
	if len(errored) > 0 {
		fmt.Fprintf(w, "\n%s\n", bold("Errors"))
		for _, r := range errored {
			fmt.Fprintf(w, "  %s\n", reportLabel(sum, r))
			for _, e := range r.Errors {
				fmt.Fprintf(w, "    %s %s\n", red("["+string(e.Code)+"]"), e.Message)
			}
		}
	}

	m := sum.Metrics
	fmt.Fprintln(w)
	counterLine(w, "Test Cases", m.Tests)
	counterLine(w, "Test Suites", m.TestSuites)
	counterLine(w, "Test Scripts", m.TestScripts)
	fmt.Fprintf(w, "Tests Duration: %s\n\n", seconds(m.Duration.Test))
	counterLine(w, "Requests", m.Requests)
	fmt.Fprintf(w, "Requests Duration: %s (avg %s, p95 %s)\n\n", seconds(m.Duration.Request), seconds(m.Latency.Mean), seconds(m.Latency.P95))
	counterLine(w, "Pre-Request Scripts", m.PreRequestScripts)
	fmt.Fprintf(w, "Pre-Request Scripts Duration: %s\n", seconds(m.Duration.PreRequest))
	if sum.Iterations > 1 {
		fmt.Fprintf(w, "\nIterations: %d\n", sum.Iterations)
	}
}

func reportLabel(sum hopprun.Summary, r hopprun.RequestReport) string {
	label := r.Path
	if sum.Iterations > 1 {
		label = fmt.Sprintf("%s (iteration %d)", label, r.Iteration)
	}
	if r.Status > 0 {
		label = fmt.Sprintf("%s %s [%d]", label, r.Method, r.Status)
	}
	return label
}

func counterLine(w io.Writer, label string, c hopprun.Counter) {
	red := color.New(color.FgRed).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(w, "%s: %s failed %s passed\n", label, red(c.Failed), green(c.Passed))
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.3fs", d.Seconds())
}
