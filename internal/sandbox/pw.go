package sandbox

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/tidwall/gjson"
	"pkt.systems/pslog"

	"pkt.systems/hopprun/internal/collection"
	"pkt.systems/hopprun/internal/template"
)

// state is what one phase shares across its scripts.
type state struct {
	envs   collection.Envs
	tests  *testStack
	logger pslog.Base
}

// install binds pw and console into vm. Test-only members (pw.test,
// pw.expect, pw.response) are bound when resp is non-nil.
func (st *state) install(vm *goja.Runtime, req Request, resp *Response) error {
	pw := vm.NewObject()
	if err := pw.Set("env", st.envObject(vm)); err != nil {
		return err
	}
	reqVal, err := requestValue(vm, req)
	if err != nil {
		return err
	}
	if err := pw.Set("request", reqVal); err != nil {
		return err
	}
	if resp != nil {
		respVal, err := responseValue(vm, *resp)
		if err != nil {
			return err
		}
		if err := pw.Set("response", respVal); err != nil {
			return err
		}
		if err := pw.Set("test", st.testFn(vm)); err != nil {
			return err
		}
		if err := pw.Set("expect", st.expectFn(vm)); err != nil {
			return err
		}
	}
	if err := vm.Set("pw", pw); err != nil {
		return err
	}
	return vm.Set("console", st.consoleObject(vm))
}

func (st *state) envObject(vm *goja.Runtime) *goja.Object {
	env := vm.NewObject()
	stringArg := func(call goja.FunctionCall, i int, what string) string {
		v := call.Argument(i)
		if _, ok := v.Export().(string); !ok {
			panic(vm.NewTypeError(fmt.Sprintf("Expected %s to be a string", what)))
		}
		return v.String()
	}
	resolve := func(text string) string {
		out, err := template.NewScope(st.envs.TemplateVars()).Resolve(text, false)
		if err != nil {
			return text
		}
		return out
	}
	_ = env.Set("get", func(call goja.FunctionCall) goja.Value {
		key := stringArg(call, 0, "key")
		if v, ok := st.envs.Lookup(key); ok {
			return vm.ToValue(v.Value())
		}
		return goja.Undefined()
	})
	_ = env.Set("getResolve", func(call goja.FunctionCall) goja.Value {
		key := stringArg(call, 0, "key")
		if v, ok := st.envs.Lookup(key); ok {
			return vm.ToValue(resolve(v.Value()))
		}
		return goja.Undefined()
	})
	_ = env.Set("set", func(call goja.FunctionCall) goja.Value {
		key := stringArg(call, 0, "key")
		value := stringArg(call, 1, "value")
		st.envs = st.envs.Set(key, value)
		return goja.Undefined()
	})
	_ = env.Set("unset", func(call goja.FunctionCall) goja.Value {
		key := stringArg(call, 0, "key")
		st.envs = st.envs.Unset(key)
		return goja.Undefined()
	})
	_ = env.Set("resolve", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(resolve(stringArg(call, 0, "value")))
	})
	return env
}

func (st *state) consoleObject(vm *goja.Runtime) *goja.Object {
	console := vm.NewObject()
	logFn := func(level string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			st.logger.Debug("sandbox.console", "level", level, "msg", strings.Join(parts, " "))
			return goja.Undefined()
		}
	}
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		_ = console.Set(level, logFn(level))
	}
	return console
}

func (st *state) testFn(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		descriptor := call.Argument(0).String()
		fn, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			panic(vm.NewTypeError("pw.test expects a function as second argument"))
		}
		depth := len(st.tests.nodes)
		st.tests.push(descriptor)
		if _, err := fn(goja.Undefined()); err != nil {
			st.tests.unwindTo(depth)
			panic(err)
		}
		st.tests.pop()
		return goja.Undefined()
	}
}

func (st *state) expectFn(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		return newExpectation(vm, st.tests, call.Argument(0))
	}
}

func requestValue(vm *goja.Runtime, req Request) (goja.Value, error) {
	doc := map[string]any{
		"url":     req.URL,
		"method":  req.Method,
		"params":  pairs(req.Params),
		"headers": pairs(req.Headers),
	}
	v, err := toJSValue(vm, doc)
	if err != nil {
		return nil, err
	}
	return freeze(vm, v)
}

func responseValue(vm *goja.Runtime, resp Response) (goja.Value, error) {
	obj := vm.NewObject()
	_ = obj.Set("status", resp.Status)
	_ = obj.Set("statusText", resp.StatusText)
	headers, err := toJSValue(vm, pairs(resp.Headers))
	if err != nil {
		return nil, err
	}
	_ = obj.Set("headers", headers)
	_ = obj.Set("body", bodyValue(vm, resp.Body))
	raw := resp.Body
	_ = obj.Set("jsonPath", func(call goja.FunctionCall) goja.Value {
		res := gjson.GetBytes(raw, call.Argument(0).String())
		if !res.Exists() {
			return goja.Undefined()
		}
		v, err := parseJSON(vm, res.Raw)
		if err != nil {
			return vm.ToValue(res.String())
		}
		return v
	})
	return obj, nil
}

// bodyValue parses a JSON body into native JS values and falls back to the
// text.
func bodyValue(vm *goja.Runtime, body []byte) goja.Value {
	if len(body) == 0 {
		return vm.ToValue("")
	}
	if json.Valid(body) {
		if v, err := parseJSON(vm, string(body)); err == nil {
			return v
		}
	}
	return vm.ToValue(string(body))
}

type pair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func pairs(entries []collection.MetaEntry) []pair {
	out := make([]pair, 0, len(entries))
	for _, e := range entries {
		out = append(out, pair{Key: e.Key, Value: e.Value})
	}
	return out
}

// toJSValue round-trips v through JSON so the runtime sees plain JS arrays
// and objects instead of wrapped Go values.
func toJSValue(vm *goja.Runtime, v any) (goja.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return parseJSON(vm, string(b))
}

func parseJSON(vm *goja.Runtime, text string) (goja.Value, error) {
	jsonObj := vm.Get("JSON").ToObject(vm)
	parse, ok := goja.AssertFunction(jsonObj.Get("parse"))
	if !ok {
		return nil, fmt.Errorf("JSON.parse missing")
	}
	return parse(jsonObj, vm.ToValue(text))
}

func freeze(vm *goja.Runtime, v goja.Value) (goja.Value, error) {
	object := vm.Get("Object").ToObject(vm)
	fn, ok := goja.AssertFunction(object.Get("freeze"))
	if !ok {
		return nil, fmt.Errorf("Object.freeze missing")
	}
	return fn(object, v)
}
