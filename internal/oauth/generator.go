// Package oauth generates OAuth 2.0 access tokens for collections whose
// authorization uses a grant that needs no user redirect.
package oauth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"pkt.systems/pslog"

	"pkt.systems/hopprun/internal/collection"
	"pkt.systems/hopprun/internal/errs"
	"pkt.systems/hopprun/internal/template"
)

const tokenResponseSchema = `{
  "type": "object",
  "required": ["access_token"],
  "properties": {
    "access_token": {"type": "string"},
    "token_type": {"type": "string"},
    "expires_in": {"type": "number"},
    "refresh_token": {"type": "string"}
  }
}`

var tokenSchema = gojsonschema.NewStringLoader(tokenResponseSchema)

// Token is a validated token endpoint response.
type Token struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
}

// Generator requests tokens from grant token endpoints.
type Generator struct {
	client *http.Client
	logger pslog.Base
}

// NewGenerator returns a Generator that sends token requests with client.
func NewGenerator(client *http.Client, logger pslog.Base) *Generator {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = pslog.New(io.Discard)
	}
	return &Generator{client: client, logger: logger}
}

// Generate fetches a token for c's collection-level authorization. Template
// placeholders in the grant fields are expanded against vars first.
func (g *Generator) Generate(ctx context.Context, c collection.Collection, vars []template.Variable) (Token, error) {
	auth, ok := c.Auth.(collection.OAuth2Auth)
	if !ok {
		return Token{}, errs.Newf(errs.NoOAuthConfig, "collection %q has no OAuth 2.0 authorization", c.Name)
	}
	scope := template.NewScope(vars)
	expand := func(s string) string {
		out, err := scope.Resolve(s, false)
		if err != nil {
			return s
		}
		return out
	}
	switch grant := auth.Grant.(type) {
	case collection.ClientCredentialsGrant:
		return g.clientCredentials(ctx, grant, expand)
	case collection.PasswordGrant:
		return g.password(ctx, grant, expand)
	case collection.AuthorizationCodeGrant, collection.ImplicitGrant:
		return Token{}, errs.Newf(errs.RedirectGrantTypeNotSupported, "grant type %s requires a browser redirect", grant.GrantType())
	default:
		return Token{}, errs.Newf(errs.UnsupportedGrantType, "grant type %T cannot be generated", grant)
	}
}

func (g *Generator) clientCredentials(ctx context.Context, grant collection.ClientCredentialsGrant, expand func(string) string) (Token, error) {
	endpoint := expand(grant.TokenEndpoint)
	clientID := expand(grant.ClientID)
	if endpoint == "" || clientID == "" {
		return Token{}, errs.New(errs.ValidationFailed, "client credentials grant needs a token endpoint and a client ID")
	}
	tokenURL, rt, err := g.prepare(endpoint, grant.TokenRequestParams, expand)
	if err != nil {
		return Token{}, err
	}
	style := oauth2.AuthStyleInParams
	if grant.ClientAuthentication == collection.ClientAuthBasicAuthHeader {
		style = oauth2.AuthStyleInHeader
	}
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: expand(grant.ClientSecret),
		TokenURL:     tokenURL,
		Scopes:       strings.Fields(expand(grant.Scopes)),
		AuthStyle:    style,
	}
	tok, err := cfg.Token(g.clientContext(ctx, rt))
	return g.finish(tok, rt, err, collection.GrantClientCredentials)
}

func (g *Generator) password(ctx context.Context, grant collection.PasswordGrant, expand func(string) string) (Token, error) {
	endpoint := expand(grant.TokenEndpoint)
	clientID := expand(grant.ClientID)
	username := expand(grant.Username)
	password := expand(grant.Password)
	if endpoint == "" || clientID == "" || username == "" || password == "" {
		return Token{}, errs.New(errs.ValidationFailed, "password grant needs a token endpoint, client ID, username and password")
	}
	tokenURL, rt, err := g.prepare(endpoint, grant.TokenRequestParams, expand)
	if err != nil {
		return Token{}, err
	}
	cfg := oauth2.Config{
		ClientID:     clientID,
		ClientSecret: expand(grant.ClientSecret),
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
		Scopes:       strings.Fields(expand(grant.Scopes)),
	}
	tok, err := cfg.PasswordCredentialsToken(g.clientContext(ctx, rt), username, password)
	return g.finish(tok, rt, err, collection.GrantPassword)
}

// prepare validates the endpoint, appends url-bound extra params and builds
// the transport that carries the header- and body-bound ones.
func (g *Generator) prepare(endpoint string, params []collection.TokenRequestParam, expand func(string) string) (string, *tokenTransport, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", nil, errs.Newf(errs.ValidationFailed, "invalid token endpoint %q", endpoint)
	}
	base := g.client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	rt := &tokenTransport{base: base, header: http.Header{}, body: url.Values{}}
	q := u.Query()
	for _, p := range params {
		key, value := expand(p.Key), expand(p.Value)
		if !p.Active || key == "" || value == "" {
			continue
		}
		switch p.SendIn {
		case "headers":
			rt.header.Set(key, value)
		case "url":
			q.Set(key, value)
		default:
			rt.body.Set(key, value)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), rt, nil
}

func (g *Generator) clientContext(ctx context.Context, rt *tokenTransport) context.Context {
	client := &http.Client{Transport: rt, Timeout: g.client.Timeout}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

func (g *Generator) finish(tok *oauth2.Token, rt *tokenTransport, err error, grant collection.GrantType) (Token, error) {
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return Token{}, errs.Wrap(errs.TokenGenerationFailed, err, fmt.Sprintf("token endpoint answered %s", re.Response.Status))
		}
		return Token{}, errs.Wrap(errs.TokenGenerationFailed, err, "")
	}
	if err := validateTokenResponse(rt.raw); err != nil {
		return Token{}, err
	}
	if strings.TrimSpace(tok.AccessToken) == "" {
		return Token{}, errs.New(errs.TokenGenerationFailed, "token response has a blank access_token")
	}
	g.logger.Info("oauth.token.generated", "grant", string(grant), "type", tok.TokenType, "refresh", tok.RefreshToken != "")
	return Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}, nil
}

func validateTokenResponse(raw []byte) error {
	res, err := gojsonschema.Validate(tokenSchema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return errs.Wrap(errs.TokenGenerationFailed, err, "token response is not JSON")
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return errs.Newf(errs.TokenGenerationFailed, "invalid token response: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// tokenTransport adds the extra header and body params of a grant to the
// outgoing token request and keeps a copy of the response body.
type tokenTransport struct {
	base   http.RoundTripper
	header http.Header
	body   url.Values
	raw    []byte
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Accept", "application/json")
	for k, vs := range t.header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	if len(t.body) > 0 && req.Body != nil {
		data, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, err
		}
		form, err := url.ParseQuery(string(data))
		if err != nil {
			return nil, err
		}
		for k, vs := range t.body {
			form[k] = vs
		}
		encoded := form.Encode()
		req.Body = io.NopCloser(strings.NewReader(encoded))
		req.ContentLength = int64(len(encoded))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(encoded)), nil
		}
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}
	t.raw = raw
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	return resp, nil
}
