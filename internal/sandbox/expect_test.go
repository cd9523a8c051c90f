package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkt.systems/hopprun/internal/collection"
)

// expectResults runs script as a test script and returns the root's results.
func expectResults(t *testing.T, script string) []ExpectResult {
	t.Helper()
	e := newTestEngine(t)
	res, err := e.RunTests(context.Background(), []string{script}, collection.Envs{}, Request{}, Response{Status: 404})
	require.NoError(t, err)
	return res.Tests.ExpectResults
}

func TestExpectationMessages(t *testing.T) {
	cases := []struct {
		name   string
		script string
		want   ExpectResult
	}{
		{"toBe", `pw.expect(1).toBe(1)`, ExpectResult{StatusPass, "Expected '1' to be '1'"}},
		{"toBe strict", `pw.expect("1").toBe(1)`, ExpectResult{StatusFail, "Expected '1' to be '1'"}},
		{"not toBe", `pw.expect(1).not.toBe(2)`, ExpectResult{StatusPass, "Expected '1' to not be '2'"}},
		{"level", `pw.expect(pw.response.status).toBeLevel4xx()`, ExpectResult{StatusPass, "Expected '404' to be 400-level status"}},
		{"level numeric string", `pw.expect("201").toBeLevel2xx()`, ExpectResult{StatusPass, "Expected '201' to be 200-level status"}},
		{"not level", `pw.expect(404).not.toBeLevel2xx()`, ExpectResult{StatusPass, "Expected '404' to not be 200-level status"}},
		{"level unparsable", `pw.expect("abc").toBeLevel5xx()`, ExpectResult{StatusError, "Expected 500-level status but could not parse value 'abc'"}},
		{"level fail", `pw.expect(200).toBeLevel3xx()`, ExpectResult{StatusFail, "Expected '200' to be 300-level status"}},
		{"type", `pw.expect("x").toBeType("string")`, ExpectResult{StatusPass, "Expected 'x' to be type 'string'"}},
		{"type null", `pw.expect(null).toBeType("object")`, ExpectResult{StatusPass, "Expected 'null' to be type 'object'"}},
		{"not type", `pw.expect(true).not.toBeType("number")`, ExpectResult{StatusPass, "Expected 'true' to not be type 'number'"}},
		{"type bad arg", `pw.expect(1).toBeType("integer")`, ExpectResult{StatusError, `Argument for toBeType should be "string", "boolean", "number", "object", "undefined", "bigint", "symbol" or "function"`}},
		{"length", `pw.expect([1, 2, 3]).toHaveLength(3)`, ExpectResult{StatusPass, "Expected the array to be of length '3'"}},
		{"length string", `pw.expect("abc").not.toHaveLength(2)`, ExpectResult{StatusPass, "Expected the array to not be of length '2'"}},
		{"length bad target", `pw.expect(5).toHaveLength(1)`, ExpectResult{StatusError, "Expected toHaveLength to be called for an array or string"}},
		{"length bad arg", `pw.expect([]).toHaveLength("1")`, ExpectResult{StatusError, "Argument for toHaveLength should be a number"}},
		{"include", `pw.expect([1, "a"]).toInclude("a")`, ExpectResult{StatusPass, `Expected [1,"a"] to include "a"`}},
		{"include string", `pw.expect("hello").not.toInclude("z")`, ExpectResult{StatusPass, `Expected "hello" to not include "z"`}},
		{"include null", `pw.expect([]).toInclude(null)`, ExpectResult{StatusError, "Argument for toInclude should not be null"}},
		{"include undefined", `pw.expect([]).toInclude()`, ExpectResult{StatusError, "Argument for toInclude should not be undefined"}},
		{"include bad target", `pw.expect({}).toInclude(1)`, ExpectResult{StatusError, "Expected toInclude to be called for an array or string"}},
		{"property", `pw.expect({a: 1}).toHaveProperty("a")`, ExpectResult{StatusPass, `Expected object '{"a":1}' to have property 'a'`}},
		{"not property", `pw.expect({a: 1}).not.toHaveProperty("b")`, ExpectResult{StatusPass, `Expected object '{"a":1}' to not have property 'b'`}},
		{"inherited property", `pw.expect({}).toHaveProperty("toString")`, ExpectResult{StatusFail, `Expected object '{}' to have property 'toString'`}},
		{"not inherited property", `pw.expect({a: 1}).not.toHaveProperty("constructor")`, ExpectResult{StatusPass, `Expected object '{"a":1}' to not have property 'constructor'`}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := expectResults(t, tc.script)
			require.Len(t, got, 1)
			assert.Equal(t, tc.want, got[0])
		})
	}
}

func TestLevelCheckRaisesOnUncoercibleValue(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.RunTests(context.Background(), []string{`pw.expect(Symbol("s")).toBeLevel2xx()`}, collection.Envs{}, Request{}, Response{})
	require.Error(t, err)
}

func TestNotIsSymmetric(t *testing.T) {
	got := expectResults(t, `
		pw.expect(1).toBe(2)
		pw.expect(1).not.toBe(1)
	`)
	require.Len(t, got, 2)
	assert.Equal(t, StatusFail, got[0].Status)
	assert.Equal(t, StatusFail, got[1].Status)
	assert.Equal(t, "Expected '1' to not be '1'", got[1].Message)
}

func TestReportsCountErrorsAsFailures(t *testing.T) {
	root := &TestNode{Descriptor: "root", Children: []*TestNode{{
		Descriptor: "t",
		ExpectResults: []ExpectResult{
			{Status: StatusPass}, {Status: StatusFail}, {Status: StatusError},
		},
	}}}
	reports := root.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, 1, reports[0].Passed)
	assert.Equal(t, 2, reports[0].Failed)
}
