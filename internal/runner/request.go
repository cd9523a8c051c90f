package runner

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"pkt.systems/hopprun/internal/collection"
	"pkt.systems/hopprun/internal/errs"
	"pkt.systems/hopprun/internal/sandbox"
	"pkt.systems/hopprun/internal/template"
)

// EffectiveRequest is a fully resolved request ready for the transport.
type EffectiveRequest struct {
	Method string
	// URL is the resolved endpoint without Params.
	URL string
	// DisplayURL is URL with secret variables masked.
	DisplayURL string
	Params     []collection.MetaEntry
	Headers    []collection.MetaEntry
	Body       EffectiveBody
}

// EffectiveBody is the resolved payload. Multipart bodies use Parts; every
// other content type is carried in Raw.
type EffectiveBody struct {
	ContentType string
	Raw         string
	Parts       []FormPart
}

// FormPart is one multipart entry. File, when set, names the file whose
// content is sent; a multi-file row yields one part per file under the same
// key.
type FormPart struct {
	Key         string
	Value       string
	File        string
	ContentType string
}

// sandboxView is the read-only request exposed to scripts.
func (r EffectiveRequest) sandboxView() sandbox.Request {
	return sandbox.Request{URL: r.URL, Method: r.Method, Params: r.Params, Headers: r.Headers}
}

// requestScope orders template precedence from lowest to highest: global
// env, selected env, collection variables, request variables.
func requestScope(envs collection.Envs, colVars []collection.Variable, r collection.Request) template.Scope {
	cv := make([]template.Variable, 0, len(colVars))
	for _, v := range colVars {
		cv = append(cv, template.Variable{Key: v.Key, Value: v.Value(), Secret: v.Secret})
	}
	var rv []template.Variable
	for _, v := range r.RequestVariables {
		if v.Active && strings.TrimSpace(v.Key) != "" {
			rv = append(rv, template.Variable{Key: v.Key, Value: v.Value})
		}
	}
	return template.NewScope(envs.TemplateVars(), cv, rv)
}

// buildRequest resolves r against scope. r must already carry its inherited
// authorization and headers. The first field that fails to resolve aborts
// the build with PARSING_ERROR.
func buildRequest(r collection.Request, scope template.Scope) (EffectiveRequest, error) {
	resolve := func(field, text string) (string, error) {
		out, err := scope.Resolve(text, false)
		if err != nil {
			return "", errs.Wrap(errs.ParsingError, err, fmt.Sprintf("%s: %s (%s)", field, text, messageOf(err)))
		}
		return out, nil
	}

	method := strings.ToUpper(strings.TrimSpace(r.Method))
	if method == "" {
		method = "GET"
	}
	endpoint, err := resolve("endpoint", r.Endpoint)
	if err != nil {
		return EffectiveRequest{}, err
	}
	display, err := scope.Resolve(r.Endpoint, true)
	if err != nil {
		display = r.Endpoint
	}
	eff := EffectiveRequest{Method: method, URL: endpoint, DisplayURL: display}

	if eff.Params, err = resolveEntries(r.Params, resolve); err != nil {
		return EffectiveRequest{}, err
	}
	if eff.Headers, err = resolveEntries(r.Headers, resolve); err != nil {
		return EffectiveRequest{}, err
	}
	if err := applyAuth(&eff, r.Auth, resolve); err != nil {
		return EffectiveRequest{}, err
	}
	if eff.Body, err = resolveBody(r.Body, resolve); err != nil {
		return EffectiveRequest{}, err
	}
	if ct := eff.Body.ContentType; ct != "" && ct != collection.ContentTypeMultipart && !hasHeader(eff.Headers, "Content-Type") {
		eff.Headers = append(eff.Headers, collection.MetaEntry{Key: "Content-Type", Value: ct, Active: true})
	}
	return eff, nil
}

type resolveFunc func(field, text string) (string, error)

func resolveEntries(in []collection.MetaEntry, resolve resolveFunc) ([]collection.MetaEntry, error) {
	var out []collection.MetaEntry
	for _, e := range in {
		if !e.Active || strings.TrimSpace(e.Key) == "" {
			continue
		}
		key, err := resolve("key", e.Key)
		if err != nil {
			return nil, err
		}
		value, err := resolve("value", e.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, collection.MetaEntry{Key: key, Value: value, Active: true})
	}
	return out, nil
}

func applyAuth(eff *EffectiveRequest, auth collection.Auth, resolve resolveFunc) error {
	add := func(to collection.AddTo, key, value string) {
		entry := collection.MetaEntry{Key: key, Value: value, Active: true}
		if to == collection.AddToQueryParams {
			eff.Params = append(eff.Params, entry)
			return
		}
		eff.Headers = append(eff.Headers, entry)
	}
	switch a := auth.(type) {
	case collection.BasicAuth:
		user, err := resolve("username", a.Username)
		if err != nil {
			return err
		}
		pass, err := resolve("password", a.Password)
		if err != nil {
			return err
		}
		add(collection.AddToHeaders, "Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(user+":"+pass)))
	case collection.BearerAuth:
		token, err := resolve("token", a.Token)
		if err != nil {
			return err
		}
		add(collection.AddToHeaders, "Authorization", "Bearer "+token)
	case collection.OAuth2Auth:
		if a.Grant == nil {
			return nil
		}
		token, err := resolve("token", a.Grant.AccessToken())
		if err != nil {
			return err
		}
		if a.AddTo == collection.AddToQueryParams {
			add(a.AddTo, "access_token", token)
			return nil
		}
		add(collection.AddToHeaders, "Authorization", "Bearer "+token)
	case collection.APIKeyAuth:
		key, err := resolve("key", a.Key)
		if err != nil {
			return err
		}
		value, err := resolve("value", a.Value)
		if err != nil {
			return err
		}
		if key != "" {
			add(a.AddTo, key, value)
		}
	}
	return nil
}

func resolveBody(b collection.Body, resolve resolveFunc) (EffectiveBody, error) {
	out := EffectiveBody{ContentType: b.ContentType}
	switch b.ContentType {
	case "":
		return out, nil
	case collection.ContentTypeMultipart:
		for _, f := range b.Form {
			if !f.Active || strings.TrimSpace(f.Key) == "" {
				continue
			}
			key, err := resolve("form key", f.Key)
			if err != nil {
				return EffectiveBody{}, err
			}
			if f.IsFile {
				for _, file := range f.Files {
					out.Parts = append(out.Parts, FormPart{Key: key, File: file, ContentType: f.ContentType})
				}
				continue
			}
			value, err := resolve("form value", f.Value)
			if err != nil {
				return EffectiveBody{}, err
			}
			out.Parts = append(out.Parts, FormPart{Key: key, Value: value, ContentType: f.ContentType})
		}
	case collection.ContentTypeForm:
		var pairs []string
		for _, kv := range parseRawKeyValues(b.Raw) {
			if !kv.Active {
				continue
			}
			key, err := resolve("form key", kv.Key)
			if err != nil {
				return EffectiveBody{}, err
			}
			value, err := resolve("form value", kv.Value)
			if err != nil {
				return EffectiveBody{}, err
			}
			if key == "" {
				continue
			}
			pairs = append(pairs, url.QueryEscape(key)+"="+url.QueryEscape(value))
		}
		out.Raw = strings.Join(pairs, "&")
	default:
		raw, err := resolve("body", b.Raw)
		if err != nil {
			return EffectiveBody{}, err
		}
		out.Raw = raw
	}
	return out, nil
}

// parseRawKeyValues reads "key: value" lines. A line starting with # is an
// inactive entry.
func parseRawKeyValues(raw string) []collection.MetaEntry {
	var out []collection.MetaEntry
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		active := true
		if rest, ok := strings.CutPrefix(line, "#"); ok {
			active = false
			line = strings.TrimSpace(rest)
		}
		key, value, _ := strings.Cut(line, ":")
		out = append(out, collection.MetaEntry{
			Key:    strings.TrimSpace(key),
			Value:  strings.TrimSpace(value),
			Active: active,
		})
	}
	return out
}

func hasHeader(headers []collection.MetaEntry, key string) bool {
	for _, h := range headers {
		if strings.EqualFold(h.Key, key) {
			return true
		}
	}
	return false
}

// messageOf returns the human message of a coded error.
func messageOf(err error) string {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
