package hopprun

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/hopprun/internal/errs"
	"pkt.systems/hopprun/internal/sandbox"
)

const junitRootName = "hopprun collection run"

type junitTestsuites struct {
	XMLName  xml.Name         `xml:"testsuites"`
	Name     string           `xml:"name,attr"`
	Tests    int              `xml:"tests,attr"`
	Failures int              `xml:"failures,attr"`
	Errors   int              `xml:"errors,attr"`
	Time     string           `xml:"time,attr"`
	Suites   []junitTestsuite `xml:"testsuite"`
}

type junitTestsuite struct {
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Time      string          `xml:"time,attr"`
	Cases     []junitTestcase `xml:"testcase"`
	SystemErr string          `xml:"system-err,omitempty"`
}

type junitTestcase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	Error     *junitFailure `xml:"error,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}

// junitDocument groups one testsuite per request and one testcase per
// expectation. Errors that are not expectations go to system-err.
func junitDocument(sum Summary) junitTestsuites {
	doc := junitTestsuites{Name: junitRootName, Time: seconds(sum.Elapsed)}
	for _, r := range sum.Reports {
		name := r.Path
		if sum.Iterations > 1 {
			name = fmt.Sprintf("%s [iteration %d]", r.Path, r.Iteration)
		}
		suite := junitTestsuite{
			Name: name,
			Time: seconds(r.Duration.PreRequest + r.Duration.Request + r.Duration.Test),
		}
		for _, t := range r.Tests {
			for _, res := range t.ExpectResults {
				tc := junitTestcase{Name: res.Message, Classname: t.Descriptor}
				switch res.Status {
				case sandbox.StatusFail:
					tc.Failure = &junitFailure{Message: res.Message, Type: "AssertionFailure", Body: res.Message}
					suite.Failures++
				case sandbox.StatusError:
					tc.Error = &junitFailure{Message: res.Message, Type: "Error", Body: res.Message}
					suite.Errors++
				}
				suite.Tests++
				suite.Cases = append(suite.Cases, tc)
			}
		}
		if len(r.Errors) > 0 {
			lines := make([]string, 0, len(r.Errors))
			for _, e := range r.Errors {
				lines = append(lines, fmt.Sprintf("%s: %s", e.Code, e.Message))
			}
			suite.SystemErr = strings.Join(lines, "\n")
			suite.Errors += len(r.Errors)
		}
		doc.Tests += suite.Tests
		doc.Failures += suite.Failures
		doc.Errors += suite.Errors
		doc.Suites = append(doc.Suites, suite)
	}
	return doc
}

// WriteJUnitReport writes the run as JUnit XML for CI consumers. Missing
// parent directories are created and an existing file is overwritten.
func WriteJUnitReport(path string, sum Summary, logger pslog.Base) error {
	data, err := xml.MarshalIndent(junitDocument(sum), "", "  ")
	if err != nil {
		return errs.Wrap(errs.ReportExportFailed, err, "")
	}
	data = append([]byte(xml.Header), data...)
	return writeExport(path, data, "junit", logger)
}

// WriteJSONReport writes the Summary as indented JSON.
func WriteJSONReport(path string, sum Summary, logger pslog.Base) error {
	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return errs.Wrap(errs.ReportExportFailed, err, "")
	}
	return writeExport(path, data, "json", logger)
}

// HTML template structured as a table of requests with status classes.
var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"failedTests": func(r RequestReport) []string {
		var out []string
		for _, t := range r.Tests {
			for _, res := range t.ExpectResults {
				if res.Status != sandbox.StatusPass {
					out = append(out, t.Descriptor+": "+res.Message)
				}
			}
		}
		return out
	},
}).Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <title>hopprun report</title>
  <style>
    body { font-family: Arial, sans-serif; margin: 16px; background: #fafafa; }
    .summary { margin-bottom: 16px; }
    table { width: 100%; border-collapse: collapse; background: #fff; }
    th, td { padding: 8px 10px; border: 1px solid #e0e0e0; font-size: 14px; vertical-align: top; }
    th { background: #f5f5f5; text-align: left; }
    .status-pass { color: #2e7d32; font-weight: 600; }
    .status-fail { color: #c62828; font-weight: 600; }
    .mono { font-family: Consolas, Menlo, monospace; font-size: 12px; }
  </style>
</head>
<body>
  <h1>hopprun report</h1>
  <div class="summary">
    Tests: {{.Metrics.Tests.Passed}} passed, {{.Metrics.Tests.Failed}} failed &nbsp;
    Requests: {{.Metrics.Requests.Passed}} passed, {{.Metrics.Requests.Failed}} failed &nbsp;
    Iterations: {{.Iterations}} &nbsp; Time: {{.Elapsed}}
  </div>
  <table>
    <thead>
      <tr><th>#</th><th>Path</th><th>Request</th><th>Status</th><th>Result</th><th>Failures</th></tr>
    </thead>
    <tbody>
      {{range $idx, $r := .Reports}}
      <tr>
        <td>{{$idx}}</td>
        <td>{{$r.Path}}</td>
        <td class="mono">{{$r.Method}} {{$r.URL}}</td>
        <td>{{if $r.Status}}{{$r.Status}}{{end}}</td>
        <td>{{if $r.Result}}<span class="status-pass">passed</span>{{else}}<span class="status-fail">failed</span>{{end}}</td>
        <td class="mono">
          {{range failedTests $r}}<div>{{.}}</div>{{end}}
          {{range $r.Errors}}<div>{{.Code}}: {{.Message}}</div>{{end}}
        </td>
      </tr>
      {{end}}
    </tbody>
  </table>
</body>
</html>`))

// WriteHTMLReport renders a table of requests.
func WriteHTMLReport(path string, sum Summary, logger pslog.Base) error {
	var b strings.Builder
	if err := htmlTemplate.Execute(&b, sum); err != nil {
		return errs.Wrap(errs.ReportExportFailed, err, "")
	}
	return writeExport(path, []byte(b.String()), "html", logger)
}

// WriteReport picks the reporter function by format.
func WriteReport(format, path string, sum Summary, logger pslog.Base) error {
	switch strings.ToLower(format) {
	case "junit", "":
		return WriteJUnitReport(path, sum, logger)
	case "json":
		return WriteJSONReport(path, sum, logger)
	case "html":
		return WriteHTMLReport(path, sum, logger)
	default:
		return errs.Newf(errs.InvalidArgument, "unknown report format %q", format)
	}
}

func writeExport(path string, data []byte, kind string, logger pslog.Base) error {
	if logger == nil {
		logger = pslog.New(os.Stdout)
	}
	if strings.TrimSpace(path) == "" {
		return errs.New(errs.ReportExportFailed, "empty report path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errs.Wrap(errs.ReportExportFailed, err, fmt.Sprintf("create %s", dir))
		}
	}
	_, statErr := os.Stat(path)
	exists := statErr == nil
	if statErr != nil && !errors.Is(statErr, fs.ErrNotExist) {
		return errs.Wrap(errs.ReportExportFailed, statErr, "")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.Wrap(errs.ReportExportFailed, err, "")
	}
	event := "report." + kind + ".created"
	if exists {
		event = "report." + kind + ".overwrote"
	}
	logger.Info(event, "path", path, "bytes", len(data))
	return nil
}
