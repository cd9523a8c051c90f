// Package importer converts OpenAPI and Swagger documents into hopprun
// collection and environment documents.
package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/getkin/kin-openapi/openapi2"
	"github.com/getkin/kin-openapi/openapi2conv"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/oasdiff/yaml"
	"pkt.systems/pslog"

	"pkt.systems/hopprun/internal/collection"
	"pkt.systems/hopprun/internal/errs"
)

const (
	defaultBaseURL = "https://api.example.com"
	placeholder    = "CHANGEME"
)

var verbs = []string{"get", "post", "put", "patch", "delete", "options", "head", "trace"}

// Result is an imported collection with the environment that fills its
// variables.
type Result struct {
	Collection  collection.Collection
	Environment collection.Environment
}

// ImportOpenAPI generates a collection from an OpenAPI 3 or Swagger 2
// document. Every operation becomes a request with a <<baseUrl>> endpoint,
// grouped into folders by tag or by path. Security schemes become auth and
// their secrets become environment variables.
func ImportOpenAPI(ctx context.Context, opts Options) (Result, error) {
	var (
		doc      *openapi3.T
		err      error
		data     []byte
		location *url.URL
	)

	if isURL(opts.Source) {
		data, err = newFetcher(ctx, opts.Insecure).get(opts.Source)
		location, _ = url.Parse(opts.Source)
	} else {
		if !filepath.IsAbs(opts.Source) {
			if abs, errAbs := filepath.Abs(opts.Source); errAbs == nil {
				opts.Source = abs
			}
		}
		data, err = os.ReadFile(opts.Source)
		location = &url.URL{Path: filepath.ToSlash(opts.Source)}
		if os.IsNotExist(err) {
			return Result{}, errs.Wrap(errs.FileNotFound, err, opts.Source)
		}
	}
	if err != nil {
		return Result{}, fmt.Errorf("load openapi source: %w", err)
	}

	data = normalizeExampleValues(data)

	if isSwagger2Data(data) {
		doc, err = loadSwaggerAsV3(ctx, data, location, opts)
	} else {
		doc, err = loadOpenAPIv3(ctx, data, location, opts)
	}
	if err != nil {
		return Result{}, fmt.Errorf("load openapi: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = pslog.NewWithOptions(os.Stdout, pslog.Options{Mode: pslog.ModeConsole, MinLevel: pslog.InfoLevel})
	}
	log = log.With("fn", pslog.CurrentFn())

	if verr := doc.Validate(ctx); verr != nil {
		log.Warn("import.openapi.validate.warn", "err", verr)
	}
	log.Info("import.openapi.start", "source", opts.Source, "output", opts.Output)

	b := newBuilder(doc, opts, log)
	res := b.build()

	if opts.Output != "" {
		if err := writeJSONFile(opts.Output, res.Collection); err != nil {
			return Result{}, fmt.Errorf("write collection: %w", err)
		}
	}
	if opts.EnvOutput != "" {
		if err := writeJSONFile(opts.EnvOutput, res.Environment); err != nil {
			return Result{}, fmt.Errorf("write environment: %w", err)
		}
	}
	log.Info("import.openapi.done", "output", opts.Output, "requests", b.requests, "folders", len(res.Collection.Folders))
	return res, nil
}

// builder accumulates the collection tree and the environment variables the
// generated requests reference.
type builder struct {
	doc      *openapi3.T
	opts     Options
	log      pslog.Logger
	level    StrictnessLevel
	env      map[string]collection.EnvVar
	folders  map[string]*collection.Collection
	order    []string
	names    map[string]int
	requests int
}

func newBuilder(doc *openapi3.T, opts Options, log pslog.Logger) *builder {
	return &builder{
		doc:     doc,
		opts:    opts,
		log:     log,
		level:   parseStrictness(opts.Strictness),
		env:     map[string]collection.EnvVar{},
		folders: map[string]*collection.Collection{},
		names:   map[string]int{},
	}
}

func (b *builder) build() Result {
	baseURL := ""
	if len(b.doc.Servers) > 0 {
		baseURL = b.doc.Servers[0].URL
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	b.env["baseUrl"] = collection.EnvVar{Key: "baseUrl", InitialValue: baseURL, CurrentValue: baseURL}

	name := b.opts.CollectionName
	if name == "" {
		if b.doc.Info != nil && b.doc.Info.Title != "" {
			name = b.doc.Info.Title
		} else {
			name = "imported-openapi"
		}
	}

	root := collection.Collection{V: "1", Name: name, Auth: collection.NoAuth{}}
	if len(b.doc.Security) > 0 {
		root.Auth = b.auth(b.doc.Security[0])
	}

	paths := map[string]*openapi3.PathItem{}
	if b.doc.Paths != nil {
		paths = b.doc.Paths.Map()
	}
	for _, route := range slices.Sorted(maps.Keys(paths)) {
		if !shouldIncludePath(route, b.opts.IncludePaths) {
			continue
		}
		item := paths[route]
		if item == nil {
			continue
		}
		for _, verb := range verbs {
			op := item.GetOperation(strings.ToUpper(verb))
			if op == nil {
				continue
			}
			req := b.request(route, verb, item, op)
			folder := b.folderName(route, op)
			if folder == "" {
				root.Requests = append(root.Requests, req)
			} else {
				b.folder(folder).Requests = append(b.folder(folder).Requests, req)
			}
			b.requests++
			b.log.Debug("import.openapi.op", "op", req.Name, "path", route, "verb", req.Method, "folder", folder)
		}
	}
	for _, f := range b.order {
		root.Folders = append(root.Folders, *b.folders[f])
	}

	env := collection.Environment{Name: name}
	for _, k := range slices.Sorted(maps.Keys(b.env)) {
		env.Variables = append(env.Variables, b.env[k])
	}
	return Result{Collection: root, Environment: env}
}

func (b *builder) folder(name string) *collection.Collection {
	if f, ok := b.folders[name]; ok {
		return f
	}
	f := &collection.Collection{Name: name, Auth: collection.InheritAuth{}}
	b.folders[name] = f
	b.order = append(b.order, name)
	return f
}

func (b *builder) folderName(route string, op *openapi3.Operation) string {
	dir := ""
	switch b.opts.GroupBy {
	case "path":
		dir = strings.Trim(path.Dir(route), "/")
		if dir == "" {
			dir = strings.Trim(route, "/")
		}
	default: // tags
		if len(op.Tags) > 0 {
			dir = op.Tags[0]
		}
	}
	if dir == "." || dir == "/" {
		dir = ""
	}
	return dir
}

func (b *builder) request(route, verb string, item *openapi3.PathItem, op *openapi3.Operation) collection.Request {
	name := op.OperationID
	if name == "" {
		name = op.Summary
	}
	if name == "" {
		name = strings.TrimSpace(titleCase(verb) + " " + route)
	}
	name = b.uniqueName(b.folderName(route, op), name)

	req := collection.Request{
		V:        "1",
		Name:     name,
		Method:   strings.ToUpper(verb),
		Endpoint: "<<baseUrl>>" + toTemplateRoute(route),
		Auth:     collection.InheritAuth{},
	}

	params := slices.Clone(item.Parameters)
	params = append(params, op.Parameters...)
	for _, pref := range params {
		if pref == nil || pref.Value == nil {
			continue
		}
		p := pref.Value
		value := parameterExample(p)
		switch p.In {
		case openapi3.ParameterInPath:
			req.RequestVariables = append(req.RequestVariables, collection.RawEntry{Key: p.Name, Value: value, Active: true})
		case openapi3.ParameterInQuery:
			req.Params = append(req.Params, collection.MetaEntry{Key: p.Name, Value: value, Active: p.Required, Description: p.Description})
		case openapi3.ParameterInHeader:
			req.Headers = append(req.Headers, collection.MetaEntry{Key: p.Name, Value: value, Active: p.Required, Description: p.Description})
		}
	}

	if op.Security != nil {
		if len(*op.Security) == 0 {
			req.Auth = collection.NoAuth{}
		} else {
			req.Auth = b.auth((*op.Security)[0])
		}
	}

	if op.RequestBody != nil && op.RequestBody.Value != nil {
		req.Body = b.body(name, op.RequestBody.Value.Content)
	}
	req.TestScript = b.tests(name, op)
	return req
}

func (b *builder) uniqueName(folder, base string) string {
	key := folder + "|" + base
	count := b.names[key]
	b.names[key] = count + 1
	if count > 0 {
		return fmt.Sprintf("%s %d", base, count+1)
	}
	return base
}

// body picks the first supported media type in a stable order and fills it
// from examples, or from the schema when no example exists.
func (b *builder) body(op string, content openapi3.Content) collection.Body {
	if len(content) == 0 {
		return collection.Body{}
	}
	preferred := []string{collection.ContentTypeJSON, "application/xml", "text/xml", collection.ContentTypeForm, collection.ContentTypeMultipart}
	mt := ""
	for _, p := range preferred {
		if content.Get(p) != nil {
			mt = p
			break
		}
	}
	if mt == "" {
		mt = slices.Sorted(maps.Keys(content))[0]
	}
	media := content.Get(mt)

	switch mt {
	case collection.ContentTypeForm:
		var lines []string
		for _, k := range schemaProperties(media.Schema) {
			lines = append(lines, fmt.Sprintf("%s: %s", k, exampleString(media.Schema.Value.Properties[k])))
		}
		return collection.Body{ContentType: mt, Raw: strings.Join(lines, "\n")}
	case collection.ContentTypeMultipart:
		body := collection.Body{ContentType: mt}
		for _, k := range schemaProperties(media.Schema) {
			prop := media.Schema.Value.Properties[k]
			entry := collection.FormEntry{Key: k, Active: true}
			if prop.Value != nil && prop.Value.Format == "binary" {
				entry.IsFile = true
			} else {
				entry.Value = exampleString(prop)
			}
			body.Form = append(body.Form, entry)
		}
		return body
	}

	raw := examplePayload(media, mt)
	if raw == "" {
		b.log.Debug("import.openapi.request.example.missing", "op", op, "ct", mt)
		if strings.Contains(mt, "json") {
			raw = "{}"
		}
	}
	return collection.Body{ContentType: mt, Raw: raw}
}

// auth maps the first usable scheme of a security requirement onto the auth
// union and registers the secrets it references.
func (b *builder) auth(sec openapi3.SecurityRequirement) collection.Auth {
	if b.doc.Components == nil || b.doc.Components.SecuritySchemes == nil {
		return collection.InheritAuth{}
	}
	for _, name := range slices.Sorted(maps.Keys(sec)) {
		sref := b.doc.Components.SecuritySchemes[name]
		if sref == nil || sref.Value == nil {
			continue
		}
		s := sref.Value
		scopes := strings.Join(sec[name], " ")
		switch strings.ToLower(s.Type) {
		case "apikey":
			v := b.secret(toVarName(name))
			switch strings.ToLower(s.In) {
			case "header":
				return collection.APIKeyAuth{Key: s.Name, Value: v, AddTo: collection.AddToHeaders}
			case "query":
				return collection.APIKeyAuth{Key: s.Name, Value: v, AddTo: collection.AddToQueryParams}
			case "cookie":
				return collection.APIKeyAuth{Key: "Cookie", Value: s.Name + "=" + v, AddTo: collection.AddToHeaders}
			}
		case "http":
			switch strings.ToLower(s.Scheme) {
			case "bearer":
				return collection.BearerAuth{Token: b.secret("bearerToken")}
			case "basic":
				return collection.BasicAuth{Username: b.variable("basicUsername"), Password: b.secret("basicPassword")}
			}
		case "oauth2":
			if auth, ok := b.oauth2(s.Flows, scopes); ok {
				return auth
			}
		case "openidconnect":
			return collection.BearerAuth{Token: b.secret("accessToken")}
		}
	}
	return collection.InheritAuth{}
}

func (b *builder) oauth2(flows *openapi3.OAuthFlows, scopes string) (collection.Auth, bool) {
	if flows == nil {
		return nil, false
	}
	if scopes == "" {
		for _, f := range []*openapi3.OAuthFlow{flows.ClientCredentials, flows.Password, flows.AuthorizationCode, flows.Implicit} {
			if f != nil {
				scopes = strings.Join(slices.Sorted(maps.Keys(f.Scopes)), " ")
				break
			}
		}
	}
	switch {
	case flows.ClientCredentials != nil:
		return collection.OAuth2Auth{AddTo: collection.AddToHeaders, Grant: collection.ClientCredentialsGrant{
			TokenEndpoint:        flows.ClientCredentials.TokenURL,
			ClientID:             b.variable("clientId"),
			ClientSecret:         b.secret("clientSecret"),
			Scopes:               scopes,
			ClientAuthentication: collection.ClientAuthInBody,
		}}, true
	case flows.Password != nil:
		return collection.OAuth2Auth{AddTo: collection.AddToHeaders, Grant: collection.PasswordGrant{
			TokenEndpoint: flows.Password.TokenURL,
			ClientID:      b.variable("clientId"),
			ClientSecret:  b.secret("clientSecret"),
			Username:      b.variable("username"),
			Password:      b.secret("password"),
			Scopes:        scopes,
		}}, true
	case flows.AuthorizationCode != nil:
		return collection.OAuth2Auth{AddTo: collection.AddToHeaders, Grant: collection.AuthorizationCodeGrant{
			AuthEndpoint:  flows.AuthorizationCode.AuthorizationURL,
			TokenEndpoint: flows.AuthorizationCode.TokenURL,
			ClientID:      b.variable("clientId"),
			ClientSecret:  b.secret("clientSecret"),
			Scopes:        scopes,
			Token:         b.secret("accessToken"),
		}}, true
	case flows.Implicit != nil:
		return collection.OAuth2Auth{AddTo: collection.AddToHeaders, Grant: collection.ImplicitGrant{
			AuthEndpoint: flows.Implicit.AuthorizationURL,
			ClientID:     b.variable("clientId"),
			Scopes:       scopes,
			Token:        b.secret("accessToken"),
		}}, true
	}
	return nil, false
}

// variable registers a plain environment placeholder and returns its
// template reference.
func (b *builder) variable(key string) string {
	if _, ok := b.env[key]; !ok {
		b.env[key] = collection.EnvVar{Key: key, InitialValue: placeholder, CurrentValue: placeholder}
	}
	return "<<" + key + ">>"
}

// secret registers a secret environment variable, left empty so the value
// comes from the secret lookup at run time.
func (b *builder) secret(key string) string {
	b.env[key] = collection.EnvVar{Key: key, Secret: true}
	return "<<" + key + ">>"
}

func schemaProperties(ref *openapi3.SchemaRef) []string {
	if ref == nil || ref.Value == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(ref.Value.Properties))
}

func parameterExample(p *openapi3.Parameter) string {
	if p.Example != nil {
		return fmt.Sprint(p.Example)
	}
	for _, k := range slices.Sorted(maps.Keys(p.Examples)) {
		if ex := p.Examples[k]; ex != nil && ex.Value != nil && ex.Value.Value != nil {
			return fmt.Sprint(ex.Value.Value)
		}
	}
	if p.Schema != nil && p.Schema.Value != nil {
		if p.Schema.Value.Example != nil {
			return fmt.Sprint(p.Schema.Value.Example)
		}
		if p.Schema.Value.Default != nil {
			return fmt.Sprint(p.Schema.Value.Default)
		}
	}
	return ""
}

func exampleString(ref *openapi3.SchemaRef) string {
	if ref == nil || ref.Value == nil {
		return ""
	}
	if ref.Value.Example != nil {
		return fmt.Sprint(ref.Value.Example)
	}
	if ref.Value.Default != nil {
		return fmt.Sprint(ref.Value.Default)
	}
	return ""
}

// examplePayload prefers named examples, then the media example, then the
// schema example, then a value synthesized from the schema. XML bodies are
// only taken from string examples.
func examplePayload(media *openapi3.MediaType, mediaType string) string {
	if media == nil {
		return ""
	}
	var candidates []any
	for _, k := range slices.Sorted(maps.Keys(media.Examples)) {
		if ex := media.Examples[k]; ex != nil && ex.Value != nil && ex.Value.Value != nil {
			candidates = append(candidates, ex.Value.Value)
		}
	}
	if media.Example != nil {
		candidates = append(candidates, media.Example)
	}
	if media.Schema != nil && media.Schema.Value != nil && media.Schema.Value.Example != nil {
		candidates = append(candidates, media.Schema.Value.Example)
	}
	isJSON := strings.Contains(strings.ToLower(mediaType), "json")
	if isJSON {
		if ex, ok := synthesizeExample(media.Schema); ok {
			candidates = append(candidates, ex)
		}
	}
	for _, v := range candidates {
		if s, ok := v.(string); ok {
			if !isJSON {
				return strings.TrimSpace(s)
			}
			if json.Valid([]byte(s)) {
				var buf bytes.Buffer
				if err := json.Indent(&buf, []byte(s), "", "  "); err == nil {
					return buf.String()
				}
			}
		}
		if !isJSON {
			continue
		}
		data, err := json.MarshalIndent(v, "", "  ")
		if err == nil {
			return string(data)
		}
	}
	return ""
}

func synthesizeExample(sref *openapi3.SchemaRef) (any, bool) {
	if sref == nil || sref.Value == nil {
		return nil, false
	}
	s := sref.Value
	if s.Example != nil {
		return s.Example, true
	}
	switch firstType(s) {
	case "object":
		obj := map[string]any{}
		for name, prop := range s.Properties {
			if prop == nil || prop.Value == nil {
				continue
			}
			if len(s.Required) > 0 && !slices.Contains(s.Required, name) {
				continue
			}
			if ex, ok := synthesizeExample(prop); ok {
				obj[name] = ex
			}
		}
		return obj, true
	case "array":
		if s.Items != nil {
			if ex, ok := synthesizeExample(s.Items); ok {
				return []any{ex}, true
			}
		}
		return []any{}, true
	case "integer", "number":
		return 0, true
	case "boolean":
		return true, true
	case "string":
		return "string", true
	}
	return nil, false
}

func normalizeExampleValues(data []byte) []byte {
	var obj any
	if err := yaml.Unmarshal(data, &obj); err != nil {
		return data
	}
	obj = fixExampleValue(obj, "")
	out, err := json.Marshal(obj)
	if err != nil {
		return data
	}
	return out
}

// fixExampleValue hoists the vendor exampleValue and x-example keys into the
// standard example fields.
func fixExampleValue(node any, parentKey string) any {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			if k == "exampleValue" {
				fixed := fixExampleValue(val, k)
				if _, ok := v["example"]; !ok {
					out["example"] = fixed
				}
				if parentKey == "examples" {
					if _, ok := v["value"]; !ok {
						out["value"] = fixed
					}
				}
				continue
			}
			if k == "x-example" {
				if _, ok := v["example"]; !ok {
					out["example"] = fixExampleValue(val, k)
				}
				continue
			}
			out[k] = fixExampleValue(val, k)
		}
		return out
	case []any:
		for i := range v {
			v[i] = fixExampleValue(v[i], parentKey)
		}
		return v
	default:
		return v
	}
}

func toVarName(name string) string {
	name = nonAlnumRe.ReplaceAllString(strings.TrimSpace(name), "_")
	name = strings.Trim(name, "_")
	if name == "" {
		return "auth"
	}
	parts := strings.Split(name, "_")
	for i := range parts {
		if i == 0 {
			parts[i] = strings.ToLower(parts[i])
		} else {
			parts[i] = titleCase(parts[i])
		}
	}
	return strings.Join(parts, "")
}

var nonAlnumRe = regexp.MustCompile(`[^a-zA-Z0-9]+`)

func titleCase(s string) string {
	if s == "" {
		return s
	}
	rs := []rune(strings.ToLower(s))
	rs[0] = unicode.ToUpper(rs[0])
	return string(rs)
}

func shouldIncludePath(route string, includes []string) bool {
	if len(includes) == 0 {
		return true
	}
	for _, p := range includes {
		if p == route || strings.HasPrefix(route, p) {
			return true
		}
	}
	return false
}

var pathParamRe = regexp.MustCompile(`\{([^}]+)\}`)

// toTemplateRoute turns /users/{id} into /users/<<id>>.
func toTemplateRoute(route string) string {
	return pathParamRe.ReplaceAllString(route, "<<$1>>")
}

func firstType(s *openapi3.Schema) string {
	if s == nil || s.Type == nil || len(*s.Type) == 0 {
		return ""
	}
	return (*s.Type)[0]
}

func isSwagger2Data(data []byte) bool {
	var head struct {
		Swagger string `json:"swagger"`
	}
	if err := json.Unmarshal(data, &head); err == nil {
		return strings.HasPrefix(head.Swagger, "2")
	}
	lower := bytes.ToLower(data)
	return bytes.Contains(lower, []byte("swagger")) && bytes.Contains(lower, []byte("2.0"))
}

func newLoader(ctx context.Context, opts Options) *openapi3.Loader {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true
	loader.Context = ctx
	f := newFetcher(ctx, opts.Insecure)
	loader.ReadFromURIFunc = func(_ *openapi3.Loader, u *url.URL) ([]byte, error) {
		return fetchExternal(u, f, opts)
	}
	return loader
}

func loadOpenAPIv3(ctx context.Context, data []byte, location *url.URL, opts Options) (*openapi3.T, error) {
	loader := newLoader(ctx, opts)
	if location != nil {
		return loader.LoadFromDataWithPath(data, location)
	}
	return loader.LoadFromData(data)
}

func loadSwaggerAsV3(ctx context.Context, data []byte, location *url.URL, opts Options) (*openapi3.T, error) {
	var doc2 openapi2.T
	if err := json.Unmarshal(data, &doc2); err != nil {
		if err2 := yaml.Unmarshal(data, &doc2); err2 != nil {
			return nil, fmt.Errorf("unmarshal swagger: %v / %v", err, err2)
		}
	}
	if doc2.Swagger == "" {
		return nil, fmt.Errorf("invalid swagger: missing swagger field")
	}
	return openapi2conv.ToV3WithLoader(&doc2, newLoader(ctx, opts), location)
}

func fetchExternal(u *url.URL, f fetcher, opts Options) ([]byte, error) {
	if u.Scheme == "" || u.Scheme == "file" {
		if !allowLocalRef(u, opts) {
			return nil, fmt.Errorf("file ref blocked: %s (use --allow-file-refs)", u.String())
		}
		return os.ReadFile(u.Path)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported external ref scheme: %s", u.Scheme)
	}
	if !opts.AllowRemoteRefs && !sameOrigin(u, opts.Source) {
		return nil, fmt.Errorf("remote external ref blocked: %s (use --allow-remote-refs)", u.String())
	}
	return f.get(u.String())
}

func sameOrigin(ref *url.URL, source string) bool {
	srcURL, err := url.Parse(source)
	if err != nil || srcURL.Scheme == "" {
		return false
	}
	return srcURL.Scheme == ref.Scheme && srcURL.Host == ref.Host
}

// allowLocalRef accepts local refs only inside the source document's
// directory tree unless AllowFileRefs is set.
func allowLocalRef(u *url.URL, opts Options) bool {
	if opts.AllowFileRefs {
		return true
	}
	if isURL(opts.Source) {
		return false
	}
	baseDir := filepath.Clean(filepath.Dir(opts.Source))
	refPath := u.Path
	if !filepath.IsAbs(refPath) {
		refPath = filepath.Join(baseDir, refPath)
	}
	baseAbs, err := filepath.Abs(baseDir)
	if err != nil {
		return false
	}
	refAbs, err := filepath.Abs(filepath.Clean(refPath))
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(baseAbs, refAbs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
