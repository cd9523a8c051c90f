package collection

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkt.systems/hopprun/internal/errs"
)

const sampleCollection = `{
  // comments are tolerated
  "v": 4,
  "name": "Users",
  "auth": {"authType": "oauth-2", "authActive": true, "addTo": "QUERY_PARAMS",
    "grantTypeInfo": {"grantType": "CLIENT_CREDENTIALS", "authEndpoint": "https://auth/token",
      "clientID": "id", "clientSecret": "secret", "clientAuthentication": "AS_BASIC_AUTH_HEADERS",
      "tokenRequestParams": [{"key": "audience", "value": "api", "sendIn": "body", "active": true}],
      "token": ""}},
  "headers": [{"key": "X-Root", "value": "1", "active": true}],
  "variables": [{"key": "tenant", "initialValue": "t", "currentValue": "", "secret": false}],
  "folders": [{
    "name": "Admin",
    "auth": {"authType": "inherit", "authActive": true},
    "headers": [],
    "folders": [],
    "requests": [{
      "v": "3",
      "name": "upload",
      "method": "POST",
      "endpoint": "<<baseUrl>>/upload",
      "params": [],
      "headers": [],
      "preRequestScript": "",
      "testScript": "",
      "auth": {"authType": "api-key", "authActive": true, "key": "X-Key", "value": "k", "addTo": "HEADERS"},
      "body": {"contentType": "multipart/form-data", "body": [
        {"key": "file", "value": ["a.txt", "b.txt"], "active": true, "isFile": true},
        {"key": "note", "value": "hi", "active": true, "isFile": false}
      ]}
    }]
  }],
  "requests": [{
    "name": "list",
    "method": "GET",
    "endpoint": "<<baseUrl>>/users",
    "params": [{"key": "page", "value": "1", "active": true}],
    "headers": [],
    "preRequestScript": "",
    "testScript": "",
    "auth": {"authType": "basic", "authActive": false, "username": "u", "password": "p"},
    "body": {"contentType": null, "body": null},
  }]
}`

func TestParseCollectionsDecodesUnion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleCollection), 0o644))

	cols, err := LoadCollections(path)
	require.NoError(t, err)
	require.Len(t, cols, 1)
	c := cols[0]

	oauth, ok := c.Auth.(OAuth2Auth)
	require.True(t, ok, "auth = %T", c.Auth)
	assert.Equal(t, AddToQueryParams, oauth.AddTo)
	grant, ok := oauth.Grant.(ClientCredentialsGrant)
	require.True(t, ok)
	assert.Equal(t, "https://auth/token", grant.TokenEndpoint)
	assert.Equal(t, ClientAuthBasicAuthHeader, grant.ClientAuthentication)
	require.Len(t, grant.TokenRequestParams, 1)

	assert.Equal(t, InheritAuth{}, c.Folders[0].Auth)
	upload := c.Folders[0].Requests[0]
	assert.Equal(t, APIKeyAuth{Key: "X-Key", Value: "k", AddTo: AddToHeaders}, upload.Auth)
	require.True(t, upload.Body.IsMultipart())
	assert.Equal(t, []string{"a.txt", "b.txt"}, upload.Body.Form[0].Files)
	assert.Equal(t, "hi", upload.Body.Form[1].Value)

	// inactive auth collapses to none
	assert.Equal(t, NoAuth{}, c.Requests[0].Auth)
	assert.Equal(t, "", c.Requests[0].Body.ContentType)
}

func TestCollectionJSONRoundTripKeepsAuth(t *testing.T) {
	cols, err := ParseCollections(jsoncToJSON(t, sampleCollection))
	require.NoError(t, err)
	data, err := json.Marshal(cols[0])
	require.NoError(t, err)
	again, err := ParseCollections(data)
	require.NoError(t, err)
	assert.Equal(t, cols[0].Auth, again[0].Auth)
	assert.Equal(t, cols[0].Folders[0].Requests[0].Body, again[0].Folders[0].Requests[0].Body)
}

func TestLoadCollectionsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.yaml")
	doc := `
- name: Health
  requests:
    - name: ping
      method: GET
      endpoint: https://example.com/ping
      testScript: pw.test("ok", () => pw.expect(pw.response.status).toBe(200))
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	cols, err := LoadCollections(path)
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Equal(t, "ping", cols[0].Requests[0].Name)
	assert.Equal(t, InheritAuth{}, cols[0].Requests[0].Auth)
}

func TestParseCollectionsRejectsMalformed(t *testing.T) {
	_, err := ParseCollections([]byte(`{"requests": []}`))
	require.Error(t, err)
	assert.Equal(t, errs.MalformedCollection, errs.CodeOf(err))

	_, err = ParseCollections([]byte(`{"name": "x", "requests": [{"name": "r", "method": "GET"}]}`))
	require.Error(t, err)
	assert.Equal(t, errs.MalformedCollection, errs.CodeOf(err))

	_, err = ParseCollections([]byte(`{"name": "x", "v": 99}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")

	_, err = ParseCollections([]byte(`{"name": "x", "auth": {"authType": "digest"}}`))
	require.Error(t, err)
}

func TestReadDocumentErrors(t *testing.T) {
	_, err := ReadDocument(filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, errs.FileNotFound, errs.CodeOf(err))

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))
	_, err = ReadDocument(path)
	assert.Equal(t, errs.FileNotJSON, errs.CodeOf(err))
}

func jsoncToJSON(t *testing.T, s string) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(s), 0o644))
	data, err := ReadDocument(path)
	require.NoError(t, err)
	return data
}
