package oauth

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkt.systems/hopprun/internal/collection"
	"pkt.systems/hopprun/internal/errs"
	"pkt.systems/hopprun/internal/template"
)

type capturedRequest struct {
	header http.Header
	query  url.Values
	form   url.Values
}

func tokenServer(t *testing.T, body string) (*httptest.Server, func() capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var last capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		mu.Lock()
		last = capturedRequest{header: r.Header.Clone(), query: r.URL.Query(), form: r.PostForm}
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, func() capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

func oauthCollection(grant collection.Grant) collection.Collection {
	return collection.Collection{Name: "api", Auth: collection.OAuth2Auth{Grant: grant, AddTo: collection.AddToHeaders}}
}

func TestClientCredentialsBasicHeaderKeepsSecretOutOfBody(t *testing.T) {
	srv, last := tokenServer(t, `{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`)
	g := NewGenerator(srv.Client(), nil)
	grant := collection.ClientCredentialsGrant{
		TokenEndpoint:        srv.URL + "/token",
		ClientID:             "my id",
		ClientSecret:         "s3cret",
		Scopes:               "read write",
		ClientAuthentication: collection.ClientAuthBasicAuthHeader,
	}
	tok, err := g.Generate(context.Background(), oauthCollection(grant), nil)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok.AccessToken)

	req := last()
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("my+id:s3cret"))
	assert.Equal(t, want, req.header.Get("Authorization"))
	assert.Equal(t, "client_credentials", req.form.Get("grant_type"))
	assert.Equal(t, "read write", req.form.Get("scope"))
	assert.False(t, req.form.Has("client_id"))
	assert.False(t, req.form.Has("client_secret"))
}

func TestClientCredentialsInBodyAndExtraParams(t *testing.T) {
	srv, last := tokenServer(t, `{"access_token":"tok-2"}`)
	g := NewGenerator(srv.Client(), nil)
	grant := collection.ClientCredentialsGrant{
		TokenEndpoint:        "<<authUrl>>",
		ClientID:             "<<clientId>>",
		ClientSecret:         "secret",
		ClientAuthentication: collection.ClientAuthInBody,
		TokenRequestParams: []collection.TokenRequestParam{
			{Key: "audience", Value: "api", SendIn: "body", Active: true},
			{Key: "X-Tenant", Value: "t1", SendIn: "headers", Active: true},
			{Key: "region", Value: "eu", SendIn: "url", Active: true},
			{Key: "skipped", Value: "x", SendIn: "body", Active: false},
			{Key: "empty", Value: "", SendIn: "body", Active: true},
		},
	}
	vars := []template.Variable{{Key: "authUrl", Value: srv.URL + "/token"}, {Key: "clientId", Value: "cid"}}
	_, err := g.Generate(context.Background(), oauthCollection(grant), vars)
	require.NoError(t, err)

	req := last()
	assert.Equal(t, "cid", req.form.Get("client_id"))
	assert.Equal(t, "secret", req.form.Get("client_secret"))
	assert.Equal(t, "api", req.form.Get("audience"))
	assert.False(t, req.form.Has("skipped"))
	assert.False(t, req.form.Has("empty"))
	assert.Equal(t, "t1", req.header.Get("X-Tenant"))
	assert.Equal(t, "eu", req.query.Get("region"))
	assert.Empty(t, req.header.Get("Authorization"))
}

func TestPasswordGrantWritesRefreshToken(t *testing.T) {
	srv, last := tokenServer(t, `{"access_token":"acc","refresh_token":"ref"}`)
	g := NewGenerator(srv.Client(), nil)
	grant := collection.PasswordGrant{
		TokenEndpoint: srv.URL,
		ClientID:      "cid",
		Username:      "ada",
		Password:      "pw",
	}
	cols, err := g.Apply(context.Background(), []collection.Collection{oauthCollection(grant), {Name: "plain", Auth: collection.NoAuth{}}}, nil)
	require.NoError(t, err)
	require.Len(t, cols, 2)
	got := cols[0].Auth.(collection.OAuth2Auth).Grant.(collection.PasswordGrant)
	assert.Equal(t, "acc", got.Token)
	assert.Equal(t, "ref", got.RefreshToken)
	assert.Equal(t, collection.NoAuth{}, cols[1].Auth)

	req := last()
	assert.Equal(t, "password", req.form.Get("grant_type"))
	assert.Equal(t, "ada", req.form.Get("username"))
	assert.Equal(t, "cid", req.form.Get("client_id"))
}

func TestGenerateFailures(t *testing.T) {
	empty, _ := tokenServer(t, `{"access_token":""}`)
	missing, _ := tokenServer(t, `{"token_type":"Bearer"}`)
	blank, _ := tokenServer(t, `{"access_token":"   ","token_type":"Bearer"}`)
	notJSON, _ := tokenServer(t, `access_token=abc`)

	cases := []struct {
		name string
		coll collection.Collection
		code errs.Code
	}{
		{"no oauth", collection.Collection{Name: "x", Auth: collection.NoAuth{}}, errs.NoOAuthConfig},
		{"redirect", oauthCollection(collection.AuthorizationCodeGrant{}), errs.RedirectGrantTypeNotSupported},
		{"implicit", oauthCollection(collection.ImplicitGrant{}), errs.RedirectGrantTypeNotSupported},
		{"missing client id", oauthCollection(collection.ClientCredentialsGrant{TokenEndpoint: "https://x"}), errs.ValidationFailed},
		{"bad endpoint", oauthCollection(collection.ClientCredentialsGrant{TokenEndpoint: "not a url", ClientID: "c"}), errs.ValidationFailed},
		{"password missing user", oauthCollection(collection.PasswordGrant{TokenEndpoint: "https://x", ClientID: "c"}), errs.ValidationFailed},
		{"empty token", oauthCollection(collection.ClientCredentialsGrant{TokenEndpoint: empty.URL, ClientID: "c"}), errs.TokenGenerationFailed},
		{"blank token", oauthCollection(collection.ClientCredentialsGrant{TokenEndpoint: blank.URL, ClientID: "c"}), errs.TokenGenerationFailed},
		{"missing token", oauthCollection(collection.ClientCredentialsGrant{TokenEndpoint: missing.URL, ClientID: "c"}), errs.TokenGenerationFailed},
		{"not json", oauthCollection(collection.ClientCredentialsGrant{TokenEndpoint: notJSON.URL, ClientID: "c"}), errs.TokenGenerationFailed},
	}
	g := NewGenerator(nil, nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := g.Generate(context.Background(), tc.coll, nil)
			require.Error(t, err)
			assert.Equal(t, tc.code, errs.CodeOf(err), err.Error())
		})
	}
}

func TestApplyKeepsStoredRedirectToken(t *testing.T) {
	g := NewGenerator(nil, nil)
	c := oauthCollection(collection.AuthorizationCodeGrant{Token: "stored"})
	cols, err := g.Apply(context.Background(), []collection.Collection{c}, nil)
	require.NoError(t, err)
	assert.Equal(t, "stored", cols[0].Auth.(collection.OAuth2Auth).Grant.AccessToken())

	_, err = g.Apply(context.Background(), []collection.Collection{oauthCollection(collection.ImplicitGrant{})}, nil)
	require.Error(t, err)
	assert.Equal(t, errs.RedirectGrantTypeNotSupported, errs.CodeOf(err))
}
