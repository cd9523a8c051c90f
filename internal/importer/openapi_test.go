package importer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pkt.systems/pslog"

	"pkt.systems/hopprun/internal/collection"
	"pkt.systems/hopprun/internal/errs"
	"pkt.systems/hopprun/internal/runner"
)

func quietLogger() pslog.Logger {
	return pslog.New(io.Discard)
}

func importPetstore(t *testing.T, opts Options) Result {
	t.Helper()
	opts.Source = filepath.Join("testdata", "petstore.yaml")
	opts.Logger = quietLogger()
	res, err := ImportOpenAPI(context.Background(), opts)
	if err != nil {
		t.Fatalf("import openapi: %v", err)
	}
	return res
}

func findFolder(t *testing.T, c collection.Collection, name string) collection.Collection {
	t.Helper()
	for _, f := range c.Folders {
		if f.Name == name {
			return f
		}
	}
	t.Fatalf("folder %q not found", name)
	return collection.Collection{}
}

func findRequest(t *testing.T, c collection.Collection, name string) collection.Request {
	t.Helper()
	for _, r := range c.Requests {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("request %q not found in %q", name, c.Name)
	return collection.Request{}
}

func TestImportOpenAPIGroupsByTag(t *testing.T) {
	res := importPetstore(t, Options{})
	col := res.Collection

	if col.Name != "Petstore" {
		t.Fatalf("collection name %q", col.Name)
	}
	var folders []string
	for _, f := range col.Folders {
		folders = append(folders, f.Name)
	}
	if got := strings.Join(folders, ","); got != "pets,auth,files" {
		t.Fatalf("folders = %s", got)
	}
	if len(col.Requests) != 1 || col.Requests[0].Name != "Ping" {
		t.Fatalf("untagged operations belong to the root: %+v", col.Requests)
	}
	pets := findFolder(t, col, "pets")
	if len(pets.Requests) != 3 {
		t.Fatalf("pets requests = %d", len(pets.Requests))
	}
	if _, ok := pets.Auth.(collection.InheritAuth); !ok {
		t.Fatalf("folder auth should inherit, got %T", pets.Auth)
	}
}

func TestImportOpenAPIGroupsByPath(t *testing.T) {
	res := importPetstore(t, Options{GroupBy: "path", CollectionName: "Fixture"})
	if res.Collection.Name != "Fixture" {
		t.Fatalf("collection name %q", res.Collection.Name)
	}
	pets := findFolder(t, res.Collection, "pets")
	findRequest(t, pets, "showPet")
	findRequest(t, pets, "listPets")
	findRequest(t, findFolder(t, res.Collection, "ping"), "Ping")
}

func TestImportOpenAPIRequests(t *testing.T) {
	res := importPetstore(t, Options{})
	pets := findFolder(t, res.Collection, "pets")

	show := findRequest(t, pets, "showPet")
	if show.Method != "GET" || show.Endpoint != "<<baseUrl>>/pets/<<petId>>" {
		t.Fatalf("unexpected request line %s %s", show.Method, show.Endpoint)
	}
	if len(show.RequestVariables) != 1 || show.RequestVariables[0].Key != "petId" || show.RequestVariables[0].Value != "42" {
		t.Fatalf("path parameter should become a request variable: %+v", show.RequestVariables)
	}
	if len(show.Headers) != 1 || show.Headers[0].Key != "X-Trace" || show.Headers[0].Value != "trace-1" || !show.Headers[0].Active {
		t.Fatalf("unexpected headers %+v", show.Headers)
	}

	list := findRequest(t, pets, "listPets")
	if len(list.Params) != 1 || list.Params[0].Key != "limit" || list.Params[0].Value != "10" || list.Params[0].Active {
		t.Fatalf("optional query parameter should be inactive: %+v", list.Params)
	}

	create := findRequest(t, pets, "createPet")
	if create.Body.ContentType != collection.ContentTypeJSON {
		t.Fatalf("content type %q", create.Body.ContentType)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(create.Body.Raw), &body); err != nil {
		t.Fatalf("body is not JSON: %v (%s)", err, create.Body.Raw)
	}
	if _, ok := body["id"]; !ok || body["name"] != "string" || len(body) != 2 {
		t.Fatalf("synthesized body should carry required fields only: %v", body)
	}

	login := findRequest(t, findFolder(t, res.Collection, "auth"), "login")
	if login.Body.ContentType != collection.ContentTypeForm || login.Body.Raw != "mode: \nuser: alice" {
		t.Fatalf("unexpected form body %q", login.Body.Raw)
	}

	upload := findRequest(t, findFolder(t, res.Collection, "files"), "upload")
	if len(upload.Body.Form) != 2 || !upload.Body.Form[0].IsFile || upload.Body.Form[1].Value != "hello" {
		t.Fatalf("unexpected multipart rows %+v", upload.Body.Form)
	}
}

func TestImportOpenAPISecurity(t *testing.T) {
	res := importPetstore(t, Options{})
	col := res.Collection

	key, ok := col.Auth.(collection.APIKeyAuth)
	if !ok || key.Key != "X-API-Key" || key.Value != "<<apiKey>>" || key.AddTo != collection.AddToHeaders {
		t.Fatalf("root auth = %#v", col.Auth)
	}
	if _, ok := col.Requests[0].Auth.(collection.NoAuth); !ok {
		t.Fatalf("empty operation security should disable auth, got %T", col.Requests[0].Auth)
	}
	if _, ok := findRequest(t, findFolder(t, col, "pets"), "listPets").Auth.(collection.InheritAuth); !ok {
		t.Fatalf("operations without security inherit")
	}

	login := findRequest(t, findFolder(t, col, "auth"), "login")
	oauth, ok := login.Auth.(collection.OAuth2Auth)
	if !ok {
		t.Fatalf("login auth = %T", login.Auth)
	}
	grant, ok := oauth.Grant.(collection.ClientCredentialsGrant)
	if !ok || grant.TokenEndpoint != "https://auth.sample.test/token" || grant.Scopes != "read" || grant.ClientSecret != "<<clientSecret>>" {
		t.Fatalf("grant = %#v", oauth.Grant)
	}

	upload := findRequest(t, findFolder(t, col, "files"), "upload")
	if bearer, ok := upload.Auth.(collection.BearerAuth); !ok || bearer.Token != "<<bearerToken>>" {
		t.Fatalf("upload auth = %#v", upload.Auth)
	}

	var keys []string
	secrets := map[string]bool{}
	for _, v := range res.Environment.Variables {
		keys = append(keys, v.Key)
		secrets[v.Key] = v.Secret
	}
	if got := strings.Join(keys, ","); got != "apiKey,baseUrl,bearerToken,clientId,clientSecret" {
		t.Fatalf("env keys = %s", got)
	}
	if !secrets["apiKey"] || !secrets["clientSecret"] || secrets["clientId"] || secrets["baseUrl"] {
		t.Fatalf("unexpected secret flags %v", secrets)
	}
	if res.Environment.Variables[1].Value() != "https://api.sample.test/v1" {
		t.Fatalf("baseUrl = %q", res.Environment.Variables[1].Value())
	}
}

func TestImportOpenAPITestScripts(t *testing.T) {
	res := importPetstore(t, Options{})
	pets := findFolder(t, res.Collection, "pets")

	create := findRequest(t, pets, "createPet").TestScript
	for _, want := range []string{"toBeLevel2xx()", `toHaveProperty("id")`, `toHaveProperty("name")`} {
		if !strings.Contains(create, want) {
			t.Fatalf("createPet tests missing %q:\n%s", want, create)
		}
	}
	if strings.Contains(create, "toInclude") {
		t.Fatalf("standard strictness must not emit enum checks:\n%s", create)
	}
	if !strings.Contains(findRequest(t, pets, "listPets").TestScript, "Array.isArray(body)") {
		t.Fatalf("array response should be checked")
	}
	if got := res.Collection.Requests[0].TestScript; got != statusTest {
		t.Fatalf("operation without JSON response gets the status test, got:\n%s", got)
	}

	strict := importPetstore(t, Options{Strictness: "strict"})
	script := findRequest(t, findFolder(t, strict.Collection, "pets"), "createPet").TestScript
	if !strings.Contains(script, `pw.expect(["available","sold"]).toInclude(body["status"]);`) || !strings.Contains(script, `toBeType("number")`) {
		t.Fatalf("strict tests missing checks:\n%s", script)
	}
	if err := validJS(script); err != nil {
		t.Fatalf("strict script does not parse: %v", err)
	}

	disabled := importPetstore(t, Options{DisableTests: true})
	if got := findRequest(t, findFolder(t, disabled.Collection, "pets"), "createPet").TestScript; got != statusTest {
		t.Fatalf("disabled tests should leave the status test, got:\n%s", got)
	}
}

func TestImportOpenAPIWritesLoadableDocuments(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out", "petstore.json")
	envOut := filepath.Join(dir, "out", "petstore.env.json")
	importPetstore(t, Options{Output: out, EnvOutput: envOut})

	cols, err := collection.LoadCollections(out)
	if err != nil {
		t.Fatalf("load written collection: %v", err)
	}
	if len(cols) != 1 || len(cols[0].Folders) != 3 {
		t.Fatalf("unexpected reloaded collection %+v", cols)
	}
	if _, ok := cols[0].Auth.(collection.APIKeyAuth); !ok {
		t.Fatalf("auth lost on reload: %T", cols[0].Auth)
	}
	env, err := collection.LoadEnvironment(envOut, collection.MapSecrets(map[string]string{"apiKey": "k-1"}))
	if err != nil {
		t.Fatalf("load written environment: %v", err)
	}
	for _, v := range env.Variables {
		if v.Key == "apiKey" && v.Value() != "k-1" {
			t.Fatalf("secret should come from the lookup, got %q", v.Value())
		}
	}
}

func TestImportSwagger2(t *testing.T) {
	res, err := ImportOpenAPI(context.Background(), Options{Source: filepath.Join("testdata", "swagger.json"), Logger: quietLogger()})
	if err != nil {
		t.Fatalf("import swagger: %v", err)
	}
	items := findFolder(t, res.Collection, "items")
	findRequest(t, items, "listItems")
	if res.Environment.Variables[0].Key != "baseUrl" || res.Environment.Variables[0].Value() != "https://legacy.sample.test/api" {
		t.Fatalf("unexpected env %+v", res.Environment.Variables)
	}
}

func TestImportOpenAPIFilterAndRemote(t *testing.T) {
	spec, err := os.ReadFile(filepath.Join("testdata", "petstore.yaml"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(spec)
	}))
	defer srv.Close()

	res, err := ImportOpenAPI(context.Background(), Options{
		Source:       srv.URL + "/petstore.yaml",
		IncludePaths: []string{"/pets/"},
		Logger:       quietLogger(),
	})
	if err != nil {
		t.Fatalf("import remote: %v", err)
	}
	if len(res.Collection.Requests) != 0 || len(res.Collection.Folders) != 1 {
		t.Fatalf("filter should keep /pets/{petId} only: %+v", res.Collection)
	}
	findRequest(t, res.Collection.Folders[0], "showPet")
}

func TestImportOpenAPIMissingSource(t *testing.T) {
	_, err := ImportOpenAPI(context.Background(), Options{Source: filepath.Join(t.TempDir(), "nope.yaml"), Logger: quietLogger()})
	if !errs.HasCode(err, errs.FileNotFound) {
		t.Fatalf("expected FILE_NOT_FOUND, got %v", err)
	}
}

func TestAllowLocalRef(t *testing.T) {
	base := filepath.Join(t.TempDir(), "apidocs")
	opts := Options{Source: filepath.Join(base, "openapi.yaml")}
	if !allowLocalRef(&url.URL{Path: "schemas/pet.yaml"}, opts) {
		t.Fatalf("ref inside the tree should be allowed")
	}
	if allowLocalRef(&url.URL{Path: "../secrets.yaml"}, opts) {
		t.Fatalf("ref outside the tree should be blocked")
	}
	opts.AllowFileRefs = true
	if !allowLocalRef(&url.URL{Path: "../secrets.yaml"}, opts) {
		t.Fatalf("AllowFileRefs should allow everything")
	}
}

func TestToVarName(t *testing.T) {
	cases := map[string]string{
		"api_key":         "apiKey",
		"X-API-Key":       "xApiKey",
		"  petstore auth": "petstoreAuth",
		"--":              "auth",
	}
	for in, want := range cases {
		if got := toVarName(in); got != want {
			t.Fatalf("toVarName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestImportedCollectionRuns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/pets":
			_, _ = io.WriteString(w, `[]`)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/pets":
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"id":1,"name":"rex"}`)
		case r.URL.Path == "/v1/pets/42" && r.Header.Get("X-Trace") == "trace-1":
			_, _ = io.WriteString(w, `{"id":42,"name":"rex","status":"sold"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	res := importPetstore(t, Options{Strictness: "strict"})
	env := res.Environment
	for i, v := range env.Variables {
		if v.Key == "baseUrl" {
			env.Variables[i].InitialValue = srv.URL + "/v1"
			env.Variables[i].CurrentValue = srv.URL + "/v1"
		}
	}
	col := res.Collection
	col.Requests = nil
	col.Folders = []collection.Collection{findFolder(t, col, "pets")}

	r, err := runner.New(context.Background(), runner.WithLogger(pslog.New(io.Discard)))
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	sum, err := r.Run(context.Background(), []collection.Collection{col}, runner.RunOptions{Environment: env})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(sum.Reports) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(sum.Reports))
	}
	for _, rep := range sum.Reports {
		if !rep.Result {
			t.Fatalf("request %s failed: %+v", rep.Path, rep)
		}
	}
	if sum.Metrics.Tests.Failed != 0 || sum.Metrics.Tests.Passed == 0 {
		t.Fatalf("unexpected test metrics %+v", sum.Metrics.Tests)
	}
}
