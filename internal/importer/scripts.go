package importer

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/dop251/goja"
	"github.com/getkin/kin-openapi/openapi3"
)

// StrictnessLevel controls how deep generated schema assertions are.
type StrictnessLevel int

const (
	// StrictnessLoose only checks the status class.
	StrictnessLoose StrictnessLevel = iota
	// StrictnessStandard adds required-property checks (default).
	StrictnessStandard
	// StrictnessStrict adds type and enum checks on every property.
	StrictnessStrict
)

func parseStrictness(level string) StrictnessLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "loose":
		return StrictnessLoose
	case "strict":
		return StrictnessStrict
	default:
		return StrictnessStandard
	}
}

const statusTest = `pw.test("status ok", () => {
  pw.expect(pw.response.status).toBeLevel2xx();
});
`

// tests returns the test script of an operation: the status class check,
// followed by schema checks against the first 2xx JSON response.
func (b *builder) tests(op string, o *openapi3.Operation) string {
	if b.opts.DisableTests || b.level == StrictnessLoose {
		return statusTest
	}
	schema := successSchema(o)
	if schema == nil {
		b.log.Debug("import.openapi.tests.default", "op", op)
		return statusTest
	}
	asserts := schemaAsserts(schema, b.level)
	if len(asserts) == 0 {
		return statusTest
	}
	script := statusTest + fmt.Sprintf("\npw.test(\"schema\", () => {\n  const body = pw.response.body;\n  %s\n});\n", strings.Join(asserts, "\n  "))
	if err := validJS(script); err != nil {
		b.log.Error("import.openapi.tests.invalid-js", "op", op, "err", err)
		return statusTest
	}
	b.log.Debug("import.openapi.tests.schema", "op", op, "asserts", len(asserts))
	return script
}

func successSchema(o *openapi3.Operation) *openapi3.Schema {
	if o == nil || o.Responses == nil {
		return nil
	}
	responses := o.Responses.Map()
	for _, code := range slices.Sorted(maps.Keys(responses)) {
		if !strings.HasPrefix(code, "2") {
			continue
		}
		rr := responses[code]
		if rr == nil || rr.Value == nil {
			continue
		}
		media := rr.Value.Content.Get("application/json")
		if media == nil || media.Schema == nil || media.Schema.Value == nil {
			continue
		}
		return media.Schema.Value
	}
	return nil
}

func schemaAsserts(s *openapi3.Schema, level StrictnessLevel) []string {
	var out []string
	switch {
	case isType(s, "array"):
		out = append(out, "pw.expect(Array.isArray(body)).toBe(true);")
		if level >= StrictnessStrict && s.Items != nil {
			if t := jsTypeFor(firstType(s.Items.Value)); t != "" {
				out = append(out, fmt.Sprintf("pw.expect(body.every((it) => typeof it === %q)).toBe(true);", t))
			}
		}
	case isType(s, "object") || len(s.Properties) > 0:
		out = append(out, `pw.expect(body).toBeType("object");`)
		for _, name := range s.Required {
			out = append(out, fmt.Sprintf("pw.expect(body).toHaveProperty(%q);", name))
		}
		if level < StrictnessStrict {
			break
		}
		for _, name := range slices.Sorted(maps.Keys(s.Properties)) {
			prop := s.Properties[name]
			if prop == nil || prop.Value == nil {
				continue
			}
			out = append(out, propertyAsserts(name, prop.Value)...)
		}
	}
	return out
}

func propertyAsserts(name string, s *openapi3.Schema) []string {
	expr := fmt.Sprintf("body[%q]", name)
	var checks []string
	if t := jsTypeFor(firstType(s)); t != "" {
		checks = append(checks, fmt.Sprintf("pw.expect(%s).toBeType(%q);", expr, t))
	}
	if firstType(s) == "array" {
		checks = append(checks, fmt.Sprintf("pw.expect(Array.isArray(%s)).toBe(true);", expr))
	}
	if len(s.Enum) > 0 {
		checks = append(checks, fmt.Sprintf("pw.expect(%s).toInclude(%s);", toJSArray(s.Enum), expr))
	}
	if len(checks) == 0 {
		return nil
	}
	return []string{fmt.Sprintf("if (%s !== undefined && %s !== null) {\n    %s\n  }", expr, expr, strings.Join(checks, "\n    "))}
}

func isType(s *openapi3.Schema, want string) bool {
	if s == nil || s.Type == nil {
		return false
	}
	return slices.Contains(*s.Type, want)
}

func jsTypeFor(openapiType string) string {
	switch openapiType {
	case "integer", "number":
		return "number"
	case "boolean":
		return "boolean"
	case "string":
		return "string"
	case "array", "object":
		return "object"
	default:
		return ""
	}
}

// validJS is a syntax check with the goja parser.
func validJS(code string) error {
	_, err := goja.Parse("generated.js", code)
	return err
}

func toJSArray(vals []any) string {
	parts := make([]string, 0, len(vals))
	for _, v := range vals {
		switch vv := v.(type) {
		case string:
			parts = append(parts, fmt.Sprintf("%q", vv))
		case nil:
			parts = append(parts, "null")
		default:
			parts = append(parts, fmt.Sprint(vv))
		}
	}
	return "[" + strings.Join(parts, ",") + "]"
}
