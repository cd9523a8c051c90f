package sandbox

import (
	"fmt"
	"math"
	"reflect"

	"github.com/dop251/goja"
)

var validTypes = []string{"string", "boolean", "number", "object", "undefined", "bigint", "symbol", "function"}

// statusLevels maps the level matchers to their inclusive lower bound.
var statusLevels = map[string]int64{
	"toBeLevel2xx": 200,
	"toBeLevel3xx": 300,
	"toBeLevel4xx": 400,
	"toBeLevel5xx": 500,
}

type expectation struct {
	vm      *goja.Runtime
	tests   *testStack
	val     goja.Value
	negated bool
}

// newExpectation builds the object returned by pw.expect. Its .not member is
// the same object with polarity inverted.
func newExpectation(vm *goja.Runtime, tests *testStack, val goja.Value) *goja.Object {
	pos := (&expectation{vm: vm, tests: tests, val: val}).object()
	neg := (&expectation{vm: vm, tests: tests, val: val, negated: true}).object()
	_ = pos.Set("not", neg)
	return pos
}

func (e *expectation) object() *goja.Object {
	obj := e.vm.NewObject()
	_ = obj.Set("toBe", e.toBe)
	for name, lo := range statusLevels {
		_ = obj.Set(name, e.toBeLevel(lo))
	}
	_ = obj.Set("toBeType", e.toBeType)
	_ = obj.Set("toHaveLength", e.toHaveLength)
	_ = obj.Set("toInclude", e.toInclude)
	_ = obj.Set("toHaveProperty", e.toHaveProperty)
	return obj
}

// not fills the negation slot of a message template.
func (e *expectation) not() string {
	if e.negated {
		return " not"
	}
	return ""
}

func (e *expectation) assert(ok bool, msg string) goja.Value {
	if e.negated {
		ok = !ok
	}
	if ok {
		e.tests.record(StatusPass, msg)
	} else {
		e.tests.record(StatusFail, msg)
	}
	return goja.Undefined()
}

func (e *expectation) fail(msg string) goja.Value {
	e.tests.record(StatusError, msg)
	return goja.Undefined()
}

func (e *expectation) toBe(call goja.FunctionCall) goja.Value {
	want := call.Argument(0)
	return e.assert(e.val.StrictEquals(want), fmt.Sprintf("Expected '%s' to%s be '%s'", display(e.val), e.not(), display(want)))
}

// toBeLevel parses the value with the runtime's parseInt, so numeric strings
// pass and values without a primitive form raise.
func (e *expectation) toBeLevel(lo int64) func(goja.FunctionCall) goja.Value {
	return func(goja.FunctionCall) goja.Value {
		parsed := e.parseInt(e.val)
		if math.IsNaN(parsed) {
			return e.fail(fmt.Sprintf("Expected %d-level status but could not parse value '%s'", lo, display(e.val)))
		}
		n := int64(parsed)
		return e.assert(n >= lo && n < lo+100, fmt.Sprintf("Expected '%d' to%s be %d-level status", n, e.not(), lo))
	}
}

func (e *expectation) toBeType(call goja.FunctionCall) goja.Value {
	want := call.Argument(0)
	name, isString := want.Export().(string)
	valid := false
	for _, t := range validTypes {
		if isString && name == t {
			valid = true
			break
		}
	}
	if !valid {
		return e.fail(`Argument for toBeType should be "string", "boolean", "number", "object", "undefined", "bigint", "symbol" or "function"`)
	}
	return e.assert(e.typeOf(e.val) == name, fmt.Sprintf("Expected '%s' to%s be type '%s'", display(e.val), e.not(), name))
}

func (e *expectation) toHaveLength(call goja.FunctionCall) goja.Value {
	if !e.isArray(e.val) && e.typeOf(e.val) != "string" {
		return e.fail("Expected toHaveLength to be called for an array or string")
	}
	want := call.Argument(0)
	if e.typeOf(want) != "number" || math.IsNaN(want.ToFloat()) {
		return e.fail("Argument for toHaveLength should be a number")
	}
	length := e.val.ToObject(e.vm).Get("length").ToFloat()
	return e.assert(length == want.ToFloat(), fmt.Sprintf("Expected the array to%s be of length '%s'", e.not(), display(want)))
}

func (e *expectation) toInclude(call goja.FunctionCall) goja.Value {
	if !e.isArray(e.val) && e.typeOf(e.val) != "string" {
		return e.fail("Expected toInclude to be called for an array or string")
	}
	needle := call.Argument(0)
	if goja.IsNull(needle) {
		return e.fail("Argument for toInclude should not be null")
	}
	if goja.IsUndefined(needle) {
		return e.fail("Argument for toInclude should not be undefined")
	}
	includes, ok := goja.AssertFunction(e.val.ToObject(e.vm).Get("includes"))
	if !ok {
		return e.fail("Expected toInclude to be called for an array or string")
	}
	found, err := includes(e.val, needle)
	if err != nil {
		panic(err)
	}
	return e.assert(found.ToBoolean(), fmt.Sprintf("Expected %s to%s include %s", e.stringify(e.val), e.not(), e.stringify(needle)))
}

func (e *expectation) toHaveProperty(call goja.FunctionCall) goja.Value {
	key := call.Argument(0)
	obj, ok := e.val.(*goja.Object)
	if !ok {
		return e.fail(fmt.Sprintf("Expected toHaveProperty to be called for an object, got '%s'", display(e.val)))
	}
	return e.assert(e.hasOwn(obj, key), fmt.Sprintf("Expected object '%s' to%s have property '%s'", e.stringify(e.val), e.not(), display(key)))
}

// hasOwn calls Object.prototype.hasOwnProperty so inherited members such as
// toString do not count.
func (e *expectation) hasOwn(obj *goja.Object, key goja.Value) bool {
	proto := e.vm.Get("Object").ToObject(e.vm).Get("prototype").ToObject(e.vm)
	fn, ok := goja.AssertFunction(proto.Get("hasOwnProperty"))
	if !ok {
		return false
	}
	out, err := fn(obj, key)
	if err != nil {
		panic(err)
	}
	return out.ToBoolean()
}

func (e *expectation) parseInt(v goja.Value) float64 {
	fn, ok := goja.AssertFunction(e.vm.Get("parseInt"))
	if !ok {
		return math.NaN()
	}
	out, err := fn(goja.Undefined(), v)
	if err != nil {
		panic(err)
	}
	return out.ToFloat()
}

func (e *expectation) typeOf(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "object"
	}
	if _, ok := v.(*goja.Symbol); ok {
		return "symbol"
	}
	if _, ok := goja.AssertFunction(v); ok {
		return "function"
	}
	if _, ok := v.(*goja.Object); ok {
		return "object"
	}
	switch v.ExportType().Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int64, reflect.Uint64, reflect.Float64:
		return "number"
	case reflect.Pointer:
		return "bigint"
	}
	return "object"
}

func (e *expectation) isArray(v goja.Value) bool {
	obj, ok := v.(*goja.Object)
	return ok && obj.ClassName() == "Array"
}

func (e *expectation) stringify(v goja.Value) string {
	jsonObj := e.vm.Get("JSON").ToObject(e.vm)
	fn, ok := goja.AssertFunction(jsonObj.Get("stringify"))
	if !ok {
		return display(v)
	}
	out, err := fn(jsonObj, v)
	if err != nil || goja.IsUndefined(out) {
		return display(v)
	}
	return out.String()
}

// display renders v the way a JS template literal does.
func display(v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	return v.String()
}
