package collection

import (
	"encoding/json"
	"os"
	"slices"
	"strings"

	"pkt.systems/hopprun/internal/errs"
	"pkt.systems/hopprun/internal/template"
)

// EnvVar is one environment variable. Value resolution uses CurrentValue and
// falls back to InitialValue.
type EnvVar = Variable

// Envs is the mutable environment state threaded through a run.
type Envs struct {
	Global   []EnvVar `json:"global"`
	Selected []EnvVar `json:"selected"`
}

// Clone returns a copy that shares nothing with e.
func (e Envs) Clone() Envs {
	return Envs{Global: slices.Clone(e.Global), Selected: slices.Clone(e.Selected)}
}

// Lookup finds key in selected first, then global.
func (e Envs) Lookup(key string) (EnvVar, bool) {
	if i := indexOf(e.Selected, key); i >= 0 {
		return e.Selected[i], true
	}
	if i := indexOf(e.Global, key); i >= 0 {
		return e.Global[i], true
	}
	return EnvVar{}, false
}

// Set updates an existing selected entry, else an existing global entry,
// else appends a new non-secret entry to selected. The receiver is not
// modified; the updated state is returned.
func (e Envs) Set(key, value string) Envs {
	out := e.Clone()
	if i := indexOf(out.Selected, key); i >= 0 {
		out.Selected[i].assign(value)
		return out
	}
	if i := indexOf(out.Global, key); i >= 0 {
		out.Global[i].assign(value)
		return out
	}
	out.Selected = append(out.Selected, EnvVar{Key: key, InitialValue: value, CurrentValue: value})
	return out
}

// assign replaces both values so an empty string is observable through
// Value. Secrets never carry an initial value.
func (v *EnvVar) assign(value string) {
	v.CurrentValue = value
	v.InitialValue = value
	if v.Secret {
		v.InitialValue = ""
	}
}

// Unset removes key from selected, or from global when selected lacks it.
func (e Envs) Unset(key string) Envs {
	out := e.Clone()
	if i := indexOf(out.Selected, key); i >= 0 {
		out.Selected = slices.Delete(out.Selected, i, i+1)
		return out
	}
	if i := indexOf(out.Global, key); i >= 0 {
		out.Global = slices.Delete(out.Global, i, i+1)
	}
	return out
}

// Overlay sets each non-empty value of row on the selected list; row keys
// win over existing entries.
func (e Envs) Overlay(row map[string]string, order []string) Envs {
	out := e.Clone()
	for _, k := range order {
		v, ok := row[k]
		if !ok || v == "" {
			continue
		}
		if i := indexOf(out.Selected, k); i >= 0 {
			out.Selected[i].CurrentValue = v
			continue
		}
		out.Selected = append(out.Selected, EnvVar{Key: k, InitialValue: v, CurrentValue: v})
	}
	return out
}

// TemplateVars flattens the state into a resolver scope, global first so
// selected entries win.
func (e Envs) TemplateVars() []template.Variable {
	out := make([]template.Variable, 0, len(e.Global)+len(e.Selected))
	for _, list := range [][]EnvVar{e.Global, e.Selected} {
		for _, v := range list {
			out = append(out, template.Variable{Key: v.Key, Value: v.Value(), Secret: v.Secret})
		}
	}
	return out
}

func indexOf(list []EnvVar, key string) int {
	return slices.IndexFunc(list, func(v EnvVar) bool { return v.Key == key })
}

// Environment is a named variable set loaded from an environment document.
type Environment struct {
	Name      string   `json:"name"`
	Variables []EnvVar `json:"variables"`
}

// SecretLookup returns an externally supplied value for a secret variable.
type SecretLookup func(key string) (string, bool)

// OSSecrets looks secrets up in the process environment.
func OSSecrets(key string) (string, bool) { return os.LookupEnv(key) }

// ChainSecrets consults each lookup in order and returns the first non-empty
// value.
func ChainSecrets(lookups ...SecretLookup) SecretLookup {
	return func(key string) (string, bool) {
		for _, l := range lookups {
			if l == nil {
				continue
			}
			if v, ok := l(key); ok && v != "" {
				return v, true
			}
		}
		return "", false
	}
}

// MapSecrets wraps a map as a SecretLookup.
func MapSecrets(m map[string]string) SecretLookup {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

type envVarWire struct {
	Key          string  `json:"key"`
	Value        *string `json:"value"`
	InitialValue *string `json:"initialValue"`
	CurrentValue *string `json:"currentValue"`
	Secret       *bool   `json:"secret"`
}

type envDocWire struct {
	Name      string       `json:"name"`
	Variables []envVarWire `json:"variables"`
}

// ParseEnvironment decodes an environment document. Two shapes are accepted:
// {name, variables:[...]} and a flat {"KEY": "value"} object. Secret values
// are resolved in order: a value written in the document, the secret lookup,
// then the stored initial/current value.
func ParseEnvironment(data []byte, secrets SecretLookup) (Environment, error) {
	if err := validateDocument(envSchema, data); err != nil {
		return Environment{}, errs.Wrap(errs.MalformedEnvFile, err, "")
	}
	var doc envDocWire
	if err := json.Unmarshal(data, &doc); err == nil && doc.Variables != nil {
		env := Environment{Name: doc.Name}
		for _, w := range doc.Variables {
			if strings.TrimSpace(w.Key) == "" {
				continue
			}
			env.Variables = append(env.Variables, normalizeEnvVar(w, secrets))
		}
		return env, nil
	}
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return Environment{}, errs.Wrap(errs.MalformedEnvFile, err, "")
	}
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	env := Environment{}
	for _, k := range keys {
		s, ok := flat[k].(string)
		if !ok {
			return Environment{}, errs.Newf(errs.MalformedEnvFile, "value of %q must be a string", k)
		}
		env.Variables = append(env.Variables, EnvVar{Key: k, InitialValue: s, CurrentValue: s})
	}
	return env, nil
}

func normalizeEnvVar(w envVarWire, secrets SecretLookup) EnvVar {
	secret := w.Secret != nil && *w.Secret
	v := EnvVar{Key: w.Key, Secret: secret}
	if w.Secret != nil && w.InitialValue != nil && w.CurrentValue != nil {
		v.InitialValue, v.CurrentValue = *w.InitialValue, *w.CurrentValue
	} else if !secret {
		value := deref(w.Value)
		v.InitialValue = value
		v.CurrentValue = value
		if w.InitialValue != nil {
			v.InitialValue = *w.InitialValue
		}
		if w.CurrentValue != nil {
			v.CurrentValue = *w.CurrentValue
		}
	}
	if !secret {
		return v
	}
	stored := v.Value()
	v.InitialValue = ""
	if value := deref(w.Value); value != "" {
		v.CurrentValue = value
		return v
	}
	v.CurrentValue = stored
	if secrets != nil {
		if s, ok := secrets(w.Key); ok && s != "" {
			v.CurrentValue = s
		}
	}
	return v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
