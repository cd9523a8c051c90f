package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"pkt.systems/hopprun/internal/collection"
	"pkt.systems/hopprun/internal/sandbox"
)

// Transport sends an effective request. Failures are *TransportError.
type Transport interface {
	Do(ctx context.Context, req EffectiveRequest) (sandbox.Response, error)
}

// FailureKind separates requests that never got an answer from requests
// that could not be sent at all.
type FailureKind string

const (
	NoResponse       FailureKind = "no response received"
	MalformedRequest FailureKind = "malformed request"
)

// TransportError is a transport-level failure without a usable response.
type TransportError struct {
	Kind FailureKind
	Err  error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// FailureKindOf returns the kind of a *TransportError in err's chain.
func FailureKindOf(err error) (FailureKind, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return "", false
}

// HTTPTransport is the net/http implementation of Transport.
type HTTPTransport struct {
	Client *http.Client
}

// Do implements Transport.
func (t HTTPTransport) Do(ctx context.Context, req EffectiveRequest) (sandbox.Response, error) {
	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	httpReq, err := newHTTPRequest(ctx, req)
	if err != nil {
		return sandbox.Response{}, &TransportError{Kind: MalformedRequest, Err: err}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return sandbox.Response{}, &TransportError{Kind: NoResponse, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return sandbox.Response{}, &TransportError{Kind: NoResponse, Err: fmt.Errorf("read body: %w", err)}
	}
	return sandbox.Response{
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Headers:    headerEntries(resp.Header),
		Body:       body,
	}, nil
}

// appendQuery adds params after the authored query in order, leaving the
// authored part byte for byte as written.
func appendQuery(raw string, params []collection.MetaEntry) string {
	if len(params) == 0 {
		return raw
	}
	parts := make([]string, 0, len(params)+1)
	if raw != "" {
		parts = append(parts, raw)
	}
	for _, p := range params {
		parts = append(parts, url.QueryEscape(p.Key)+"="+url.QueryEscape(p.Value))
	}
	return strings.Join(parts, "&")
}

func newHTTPRequest(ctx context.Context, req EffectiveRequest) (*http.Request, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid URL %q", req.URL)
	}
	u.RawQuery = appendQuery(u.RawQuery, req.Params)

	var body io.Reader = http.NoBody
	contentType := ""
	switch {
	case req.Body.ContentType == collection.ContentTypeMultipart:
		buf, ct, err := multipartBody(req.Body.Parts)
		if err != nil {
			return nil, err
		}
		body, contentType = buf, ct
	case req.Body.ContentType != "":
		body = strings.NewReader(req.Body.Raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, err
	}
	for _, h := range req.Headers {
		httpReq.Header.Add(h.Key, h.Value)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	return httpReq, nil
}

func multipartBody(parts []FormPart) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range parts {
		if p.File == "" {
			if p.ContentType == "" {
				if err := w.WriteField(p.Key, p.Value); err != nil {
					return nil, "", err
				}
				continue
			}
			h := make(textproto.MIMEHeader)
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q`, p.Key))
			h.Set("Content-Type", p.ContentType)
			pw, err := w.CreatePart(h)
			if err != nil {
				return nil, "", err
			}
			if _, err := io.WriteString(pw, p.Value); err != nil {
				return nil, "", err
			}
			continue
		}
		if err := writeFilePart(w, p); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func writeFilePart(w *multipart.Writer, p FormPart) error {
	f, err := os.Open(p.File)
	if err != nil {
		return fmt.Errorf("form file %q: %w", p.Key, err)
	}
	defer f.Close()
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.Key, filepath.Base(p.File)))
	ct := p.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	pw, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(pw, f)
	return err
}

func statusText(resp *http.Response) string {
	if text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode))); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// headerEntries flattens h in key order, one entry per value.
func headerEntries(h http.Header) []collection.MetaEntry {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var out []collection.MetaEntry
	for _, k := range keys {
		for _, v := range h[k] {
			out = append(out, collection.MetaEntry{Key: k, Value: v, Active: true})
		}
	}
	return out
}
