package collection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInheritAuthResolvesToNearestAncestor(t *testing.T) {
	root := Collection{
		Name: "root",
		Auth: BearerAuth{Token: "root-token"},
		Folders: []Collection{{
			Name: "users",
			Auth: InheritAuth{},
			Folders: []Collection{{
				Name:     "admin",
				Auth:     BasicAuth{Username: "u", Password: "p"},
				Requests: []Request{{Name: "list", Auth: InheritAuth{}}},
			}},
			Requests: []Request{{Name: "get", Auth: InheritAuth{}}},
		}},
	}

	_, rootIn := Root(root)
	users, usersIn := rootIn.Descend(root.Folders[0])
	assert.Equal(t, BearerAuth{Token: "root-token"}, users.Auth)
	assert.Equal(t, BearerAuth{Token: "root-token"}, usersIn.Apply(users.Requests[0]).Auth)

	admin, adminIn := usersIn.Descend(users.Folders[0])
	assert.Equal(t, BasicAuth{Username: "u", Password: "p"}, admin.Auth)
	assert.Equal(t, BasicAuth{Username: "u", Password: "p"}, adminIn.Apply(admin.Requests[0]).Auth)

	// copy-on-write: the source tree keeps its literal inherit
	assert.Equal(t, InheritAuth{}, root.Folders[0].Auth)
	assert.Equal(t, InheritAuth{}, root.Folders[0].Requests[0].Auth)
}

func TestRootInheritResolvesToNone(t *testing.T) {
	resolved, in := Root(Collection{Name: "root", Auth: InheritAuth{}})
	assert.Equal(t, NoAuth{}, resolved.Auth)
	assert.Equal(t, NoAuth{}, in.Apply(Request{Auth: InheritAuth{}}).Auth)
}

func TestMergeHeadersChildWins(t *testing.T) {
	child := []MetaEntry{{Key: "X-Trace", Value: "child", Active: true}, {Key: "accept", Value: "text/plain", Active: true}}
	ancestor := []MetaEntry{
		{Key: "X-Trace", Value: "parent", Active: true},
		{Key: "Accept", Value: "application/json", Active: true},
		{Key: "X-Tenant", Value: "t1", Active: true},
		{Key: "X-Tenant", Value: "t2", Active: true},
	}
	got := MergeHeaders(child, ancestor)
	require.Len(t, got, 4)
	assert.Equal(t, "child", got[0].Value)
	assert.Equal(t, "text/plain", got[1].Value)
	// case-sensitive keys: "Accept" is distinct from "accept"
	assert.Equal(t, "Accept", got[2].Key)
	assert.Equal(t, MetaEntry{Key: "X-Tenant", Value: "t1", Active: true}, got[3])

	count := 0
	for _, h := range got {
		if h.Key == "X-Tenant" {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Len(t, child, 2, "child slice must not grow")
}

func TestHeadersFlowThroughLevels(t *testing.T) {
	root := Collection{
		Name:    "root",
		Auth:    NoAuth{},
		Headers: []MetaEntry{{Key: "X-Root", Value: "r", Active: true}, {Key: "X-Level", Value: "root", Active: true}},
		Folders: []Collection{{
			Name:    "f",
			Auth:    InheritAuth{},
			Headers: []MetaEntry{{Key: "X-Level", Value: "folder", Active: true}},
		}},
	}
	_, rootIn := Root(root)
	_, folderIn := rootIn.Descend(root.Folders[0])
	req := folderIn.Apply(Request{Headers: []MetaEntry{{Key: "X-Own", Value: "o", Active: true}}})
	keys := map[string]string{}
	for _, h := range req.Headers {
		keys[h.Key] = h.Value
	}
	assert.Equal(t, map[string]string{"X-Own": "o", "X-Level": "folder", "X-Root": "r"}, keys)
}

func TestScriptChainsOrder(t *testing.T) {
	root := Collection{
		Name:             "root",
		PreRequestScript: "pre-root",
		TestScript:       "test-root",
		Folders: []Collection{{
			Name:             "parent",
			PreRequestScript: "pre-parent",
			TestScript:       "   ",
		}},
	}
	_, rootIn := Root(root)
	_, parentIn := rootIn.Descend(root.Folders[0])
	req := Request{PreRequestScript: "pre-req", TestScript: "test-req"}
	assert.Equal(t, []string{"pre-root", "pre-parent", "pre-req"}, parentIn.PreRequestChain(req))
	assert.Equal(t, []string{"test-req", "test-root"}, parentIn.TestChain(req))
}

func TestMergeVariablesChildOverrides(t *testing.T) {
	got := MergeVariables(
		[]Variable{{Key: "a", CurrentValue: "child"}, {Key: "c", CurrentValue: "3"}},
		[]Variable{{Key: "a", CurrentValue: "parent"}, {Key: "b", CurrentValue: "2"}, {Key: " "}},
	)
	require.Len(t, got, 3)
	assert.Equal(t, "child", got[0].Value())
	assert.Equal(t, "b", got[1].Key)
	assert.Equal(t, "c", got[2].Key)
}
