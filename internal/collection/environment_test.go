package collection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkt.systems/hopprun/internal/errs"
)

func TestParseEnvironmentNormalizesEntries(t *testing.T) {
	doc := `{
  "name": "staging",
  "variables": [
    {"key": "baseUrl", "value": "https://staging"},
    {"key": "full", "initialValue": "i", "currentValue": "c", "secret": false},
    {"key": "apiKey", "secret": true},
    {"key": "inline", "value": "from-doc", "secret": true},
    {"key": "stored", "initialValue": "", "currentValue": "kept", "secret": true},
    {"key": ""}
  ]
}`
	secrets := MapSecrets(map[string]string{"apiKey": "from-env", "inline": "ignored", "stored": ""})
	env, err := ParseEnvironment([]byte(doc), secrets)
	require.NoError(t, err)
	assert.Equal(t, "staging", env.Name)
	require.Len(t, env.Variables, 5)

	assert.Equal(t, EnvVar{Key: "baseUrl", InitialValue: "https://staging", CurrentValue: "https://staging"}, env.Variables[0])
	assert.Equal(t, EnvVar{Key: "full", InitialValue: "i", CurrentValue: "c"}, env.Variables[1])
	assert.Equal(t, EnvVar{Key: "apiKey", CurrentValue: "from-env", Secret: true}, env.Variables[2])
	assert.Equal(t, EnvVar{Key: "inline", CurrentValue: "from-doc", Secret: true}, env.Variables[3])
	assert.Equal(t, EnvVar{Key: "stored", CurrentValue: "kept", Secret: true}, env.Variables[4])
}

func TestParseEnvironmentFlatShape(t *testing.T) {
	env, err := ParseEnvironment([]byte(`{"b": "2", "a": "1"}`), nil)
	require.NoError(t, err)
	require.Len(t, env.Variables, 2)
	assert.Equal(t, "a", env.Variables[0].Key)
	assert.Equal(t, "2", env.Variables[1].Value())
}

func TestParseEnvironmentRejectsMalformed(t *testing.T) {
	for _, doc := range []string{`[]`, `{"a": 1}`, `{"variables": [{"value": "x"}]}`} {
		_, err := ParseEnvironment([]byte(doc), nil)
		require.Error(t, err, doc)
		assert.Equal(t, errs.MalformedEnvFile, errs.CodeOf(err), doc)
	}
}

func TestEnvsSetPrefersSelectedThenGlobal(t *testing.T) {
	envs := Envs{
		Global:   []EnvVar{{Key: "g", CurrentValue: "1"}, {Key: "both", CurrentValue: "global"}},
		Selected: []EnvVar{{Key: "both", CurrentValue: "selected"}},
	}
	next := envs.Set("both", "x").Set("g", "2").Set("new", "3")
	assert.Equal(t, "x", next.Selected[0].CurrentValue)
	assert.Equal(t, "global", next.Global[1].CurrentValue)
	assert.Equal(t, "2", next.Global[0].CurrentValue)
	assert.Equal(t, EnvVar{Key: "new", InitialValue: "3", CurrentValue: "3"}, next.Selected[1])

	// the original state is untouched
	assert.Equal(t, "selected", envs.Selected[0].CurrentValue)
	assert.Len(t, envs.Selected, 1)

	v, ok := next.Lookup("both")
	require.True(t, ok)
	assert.Equal(t, "x", v.Value())

	removed := next.Unset("both")
	v, ok = removed.Lookup("both")
	require.True(t, ok)
	assert.Equal(t, "global", v.Value())
}

func TestEnvsSetEmptyValueIsObservable(t *testing.T) {
	envs := Envs{
		Global:   []EnvVar{{Key: "token", CurrentValue: "s3cr3t", Secret: true}},
		Selected: []EnvVar{{Key: "x", InitialValue: "init", CurrentValue: "init"}},
	}
	next := envs.Set("x", "").Set("token", "rotated")

	v, ok := next.Lookup("x")
	require.True(t, ok)
	assert.Equal(t, "", v.Value())
	assert.Equal(t, EnvVar{Key: "x"}, next.Selected[0])
	assert.Equal(t, EnvVar{Key: "token", CurrentValue: "rotated", Secret: true}, next.Global[0])

	cleared := next.Set("token", "")
	v, ok = cleared.Lookup("token")
	require.True(t, ok)
	assert.Equal(t, "", v.Value())
}

func TestEnvsOverlaySkipsEmptyCells(t *testing.T) {
	envs := Envs{Selected: []EnvVar{{Key: "user", CurrentValue: "base"}, {Key: "keep", CurrentValue: "k"}}}
	out := envs.Overlay(map[string]string{"user": "alice", "keep": "", "extra": "e"}, []string{"user", "keep", "extra"})
	assert.Equal(t, []EnvVar{
		{Key: "user", CurrentValue: "alice"},
		{Key: "keep", CurrentValue: "k"},
		{Key: "extra", InitialValue: "e", CurrentValue: "e"},
	}, out.Selected)
}

func TestChainSecretsFirstNonEmpty(t *testing.T) {
	lookup := ChainSecrets(nil, MapSecrets(map[string]string{"a": ""}), MapSecrets(map[string]string{"a": "2"}))
	v, ok := lookup("a")
	assert.True(t, ok)
	assert.Equal(t, "2", v)
	_, ok = lookup("missing")
	assert.False(t, ok)
}
