package collection

import (
	"slices"
	"strings"
)

// Inherited is what a resolved folder passes down to its children: its
// effective authorization, its merged header list, the collection variables
// in scope and the script chain from the root down to the folder.
type Inherited struct {
	Auth              Auth
	Headers           []MetaEntry
	Variables         []Variable
	PreRequestScripts []string
	TestScripts       []string
}

// Root resolves a top-level collection. A root that asks to inherit has no
// ancestor to inherit from and resolves to NoAuth.
func Root(c Collection) (Collection, Inherited) {
	return Inherited{Auth: NoAuth{}}.Descend(c)
}

// Descend resolves folder c against its already-resolved parent. The
// returned folder is a copy; c is not modified.
func (p Inherited) Descend(c Collection) (Collection, Inherited) {
	out := c
	out.Auth = ResolveAuth(c.Auth, p.Auth)
	out.Headers = MergeHeaders(c.Headers, p.Headers)
	next := Inherited{
		Auth:              out.Auth,
		Headers:           out.Headers,
		Variables:         MergeVariables(c.Variables, p.Variables),
		PreRequestScripts: appendScript(p.PreRequestScripts, c.PreRequestScript),
		TestScripts:       appendScript(p.TestScripts, c.TestScript),
	}
	return out, next
}

// Apply resolves a request against its parent folder.
func (p Inherited) Apply(r Request) Request {
	out := r.Clone()
	out.Auth = ResolveAuth(r.Auth, p.Auth)
	out.Headers = MergeHeaders(out.Headers, p.Headers)
	return out
}

// PreRequestChain lists the scripts to run before r, root first.
func (p Inherited) PreRequestChain(r Request) []string {
	return appendScript(p.PreRequestScripts, r.PreRequestScript)
}

// TestChain lists the scripts to run after r's response, request first and
// root last.
func (p Inherited) TestChain(r Request) []string {
	chain := appendScript(p.TestScripts, r.TestScript)
	slices.Reverse(chain)
	return chain
}

// ResolveAuth returns own unless it is inherit (or unset), in which case the
// ancestor's resolved authorization is used.
func ResolveAuth(own, ancestor Auth) Auth {
	if own == nil || own.Type() == AuthInherit {
		if ancestor == nil || ancestor.Type() == AuthInherit {
			return NoAuth{}
		}
		return ancestor
	}
	return own
}

// MergeHeaders keeps child verbatim and appends each ancestor header whose
// key does not already appear in child. Keys compare exactly. The result is
// a fresh slice.
func MergeHeaders(child, ancestor []MetaEntry) []MetaEntry {
	out := slices.Clone(child)
	seen := make(map[string]struct{}, len(child)+len(ancestor))
	for _, h := range child {
		seen[h.Key] = struct{}{}
	}
	for _, h := range ancestor {
		if _, ok := seen[h.Key]; ok {
			continue
		}
		seen[h.Key] = struct{}{}
		out = append(out, h)
	}
	return out
}

// MergeVariables returns ancestor variables overlaid by child variables,
// preserving first-seen order.
func MergeVariables(child, ancestor []Variable) []Variable {
	out := make([]Variable, 0, len(child)+len(ancestor))
	idx := map[string]int{}
	for _, list := range [][]Variable{ancestor, child} {
		for _, v := range list {
			if strings.TrimSpace(v.Key) == "" {
				continue
			}
			if i, ok := idx[v.Key]; ok {
				out[i] = v
				continue
			}
			idx[v.Key] = len(out)
			out = append(out, v)
		}
	}
	return out
}

func appendScript(chain []string, script string) []string {
	out := slices.Clone(chain)
	if strings.TrimSpace(script) == "" {
		return out
	}
	return append(out, script)
}
