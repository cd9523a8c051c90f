// Package collection holds the data model of a request collection, the
// loaders for collection, environment and iteration documents, and the
// inheritance resolver that pushes authorization, headers, variables and
// scripts from folders down to their requests.
package collection

import (
	"encoding/json"
	"slices"
)

// Collection is a folder in the request tree. Top-level collections and
// nested folders share the same shape.
type Collection struct {
	V                json.Number  `json:"v,omitempty"`
	ID               string       `json:"id,omitempty"`
	Name             string       `json:"name"`
	Auth             Auth         `json:"auth"`
	Headers          []MetaEntry  `json:"headers"`
	Variables        []Variable   `json:"variables,omitempty"`
	PreRequestScript string       `json:"preRequestScript,omitempty"`
	TestScript       string       `json:"testScript,omitempty"`
	Folders          []Collection `json:"folders"`
	Requests         []Request    `json:"requests"`
}

// Request is a single HTTP request definition.
type Request struct {
	V                json.Number `json:"v,omitempty"`
	ID               string      `json:"id,omitempty"`
	Name             string      `json:"name"`
	Method           string      `json:"method"`
	Endpoint         string      `json:"endpoint"`
	Params           []MetaEntry `json:"params"`
	Headers          []MetaEntry `json:"headers"`
	Auth             Auth        `json:"auth"`
	Body             Body        `json:"body"`
	PreRequestScript string      `json:"preRequestScript"`
	TestScript       string      `json:"testScript"`
	RequestVariables []RawEntry  `json:"requestVariables,omitempty"`
}

// MetaEntry is a header or query parameter row.
type MetaEntry struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Active      bool   `json:"active"`
	Description string `json:"description,omitempty"`
}

// RawEntry is a request-scoped variable.
type RawEntry struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Active bool   `json:"active"`
}

// Variable is a collection-level variable.
type Variable struct {
	Key          string `json:"key"`
	InitialValue string `json:"initialValue"`
	CurrentValue string `json:"currentValue"`
	Secret       bool   `json:"secret"`
}

// Value is the current value, falling back to the initial value.
func (v Variable) Value() string {
	if v.CurrentValue != "" {
		return v.CurrentValue
	}
	return v.InitialValue
}

// Content types understood by the request builder.
const (
	ContentTypeJSON      = "application/json"
	ContentTypeForm      = "application/x-www-form-urlencoded"
	ContentTypeMultipart = "multipart/form-data"
)

// Body is a request payload. Raw carries every content type except
// multipart/form-data, whose rows live in Form. An empty ContentType means
// the request has no body.
type Body struct {
	ContentType string      `json:"contentType,omitempty"`
	Raw         string      `json:"-"`
	Form        []FormEntry `json:"-"`
}

// FormEntry is one multipart row. File rows name one or more files on disk
// in Files; text rows use Value.
type FormEntry struct {
	Key         string   `json:"key"`
	Value       string   `json:"-"`
	Files       []string `json:"-"`
	Active      bool     `json:"active"`
	IsFile      bool     `json:"isFile"`
	ContentType string   `json:"contentType,omitempty"`
}

// IsMultipart reports whether the body carries form rows.
func (b Body) IsMultipart() bool { return b.ContentType == ContentTypeMultipart }

type bodyWire struct {
	ContentType *string         `json:"contentType"`
	Body        json.RawMessage `json:"body"`
}

func (b *Body) UnmarshalJSON(data []byte) error {
	var w bodyWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*b = Body{}
	if w.ContentType != nil {
		b.ContentType = *w.ContentType
	}
	if len(w.Body) == 0 || string(w.Body) == "null" {
		return nil
	}
	if w.Body[0] == '[' {
		return json.Unmarshal(w.Body, &b.Form)
	}
	return json.Unmarshal(w.Body, &b.Raw)
}

func (b Body) MarshalJSON() ([]byte, error) {
	w := struct {
		ContentType *string `json:"contentType"`
		Body        any     `json:"body"`
	}{}
	if b.ContentType != "" {
		ct := b.ContentType
		w.ContentType = &ct
	}
	switch {
	case b.IsMultipart():
		w.Body = b.Form
	case b.ContentType != "":
		w.Body = b.Raw
	}
	return json.Marshal(w)
}

func (f *FormEntry) UnmarshalJSON(data []byte) error {
	type alias FormEntry
	aux := struct {
		*alias
		Value json.RawMessage `json:"value"`
	}{alias: (*alias)(f)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Value) == 0 || string(aux.Value) == "null" {
		return nil
	}
	if aux.Value[0] == '[' {
		return json.Unmarshal(aux.Value, &f.Files)
	}
	var s string
	if err := json.Unmarshal(aux.Value, &s); err != nil {
		return err
	}
	if f.IsFile {
		f.Files = []string{s}
		return nil
	}
	f.Value = s
	return nil
}

func (f FormEntry) MarshalJSON() ([]byte, error) {
	type alias FormEntry
	var value any = f.Value
	if f.IsFile {
		value = f.Files
	}
	return json.Marshal(struct {
		alias
		Value any `json:"value"`
	}{alias: alias(f), Value: value})
}

func (c *Collection) UnmarshalJSON(data []byte) error {
	type alias Collection
	aux := struct {
		*alias
		Auth json.RawMessage `json:"auth"`
	}{alias: (*alias)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	auth, err := decodeAuth(aux.Auth)
	if err != nil {
		return err
	}
	c.Auth = auth
	return nil
}

func (c Collection) MarshalJSON() ([]byte, error) {
	type alias Collection
	return json.Marshal(struct {
		alias
		Auth authWire `json:"auth"`
	}{alias: alias(c), Auth: encodeAuth(c.Auth)})
}

func (r *Request) UnmarshalJSON(data []byte) error {
	type alias Request
	aux := struct {
		*alias
		Auth json.RawMessage `json:"auth"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	auth, err := decodeAuth(aux.Auth)
	if err != nil {
		return err
	}
	r.Auth = auth
	return nil
}

func (r Request) MarshalJSON() ([]byte, error) {
	type alias Request
	return json.Marshal(struct {
		alias
		Auth authWire `json:"auth"`
	}{alias: alias(r), Auth: encodeAuth(r.Auth)})
}

// Clone returns a deep copy of c.
func (c Collection) Clone() Collection {
	out := c
	out.Headers = slices.Clone(c.Headers)
	out.Variables = slices.Clone(c.Variables)
	out.Requests = make([]Request, len(c.Requests))
	for i, r := range c.Requests {
		out.Requests[i] = r.Clone()
	}
	out.Folders = make([]Collection, len(c.Folders))
	for i, f := range c.Folders {
		out.Folders[i] = f.Clone()
	}
	return out
}

// Clone returns a deep copy of r.
func (r Request) Clone() Request {
	out := r
	out.Params = slices.Clone(r.Params)
	out.Headers = slices.Clone(r.Headers)
	out.RequestVariables = slices.Clone(r.RequestVariables)
	if r.Body.Form != nil {
		out.Body.Form = make([]FormEntry, len(r.Body.Form))
		for i, f := range r.Body.Form {
			f.Files = slices.Clone(f.Files)
			out.Body.Form[i] = f
		}
	}
	return out
}
