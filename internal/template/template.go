// Package template expands <<name>> placeholders against a variable scope.
//
// Lookups are by exact key. A scope is an ordered list of variables where a
// later entry overrides an earlier entry with the same key, so callers build
// scopes from lowest to highest precedence. Expansion is repeated while the
// output still contains placeholders, up to MaxExpandDepth passes, which lets
// one variable reference another while bounding self-referencing chains.
package template

import (
	"regexp"
	"strings"

	"pkt.systems/hopprun/internal/errs"
)

// MaxExpandDepth bounds nested expansion passes.
const MaxExpandDepth = 10

// Mask replaces secret values in display strings.
const Mask = "********"

// Pattern matches a single <<name>> placeholder.
var Pattern = regexp.MustCompile(`<<([^>]*)>>`)

// Variable is one entry of a resolution scope.
type Variable struct {
	Key    string
	Value  string
	Secret bool
}

// Scope is an indexed, read-only view of an ordered variable list.
type Scope struct {
	vars map[string]Variable
}

// NewScope indexes the given lists in order; later keys win.
func NewScope(lists ...[]Variable) Scope {
	s := Scope{vars: map[string]Variable{}}
	for _, list := range lists {
		for _, v := range list {
			s.vars[v.Key] = v
		}
	}
	return s
}

// Lookup returns the variable stored under key.
func (s Scope) Lookup(key string) (Variable, bool) {
	v, ok := s.vars[key]
	return v, ok
}

// Len reports the number of distinct keys.
func (s Scope) Len() int { return len(s.vars) }

// Resolve expands text against vars. See Scope.Resolve.
func Resolve(text string, vars []Variable, maskSecrets bool) (string, error) {
	if !HasPlaceholders(text) {
		return text, nil
	}
	return NewScope(vars).Resolve(text, maskSecrets)
}

// HasPlaceholders reports whether text contains at least one <<name>> token.
func HasPlaceholders(text string) bool {
	return strings.Contains(text, "<<") && Pattern.MatchString(text)
}

// Resolve expands every placeholder in text. A key present in the scope with
// an empty value expands to "". A key that is neither in the scope nor a
// predefined $variable fails the whole string with PARSING_ERROR, as does
// exceeding MaxExpandDepth.
func (s Scope) Resolve(text string, maskSecrets bool) (string, error) {
	out := text
	for depth := 0; HasPlaceholders(out); depth++ {
		if depth >= MaxExpandDepth {
			return "", errs.Newf(errs.ParsingError, "ENV_EXPAND_LOOP: variable expansion exceeded %d levels in %q", MaxExpandDepth, text)
		}
		var missing string
		out = Pattern.ReplaceAllStringFunc(out, func(match string) string {
			if missing != "" {
				return match
			}
			key := match[2 : len(match)-2]
			if v, ok := s.vars[key]; ok {
				if maskSecrets && v.Secret {
					return Mask
				}
				return v.Value
			}
			if gen, ok := predefined[key]; ok {
				return gen()
			}
			missing = key
			return match
		})
		if missing != "" {
			return "", errs.Newf(errs.ParsingError, "variable %q is not defined", missing)
		}
	}
	return out, nil
}

// Keys lists the placeholder names in text in order of appearance, without
// duplicates.
func Keys(text string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, m := range Pattern.FindAllStringSubmatch(text, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		out = append(out, m[1])
	}
	return out
}
