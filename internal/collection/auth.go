package collection

import (
	"encoding/json"
	"fmt"
)

// AuthType names an authorization variant.
type AuthType string

const (
	AuthNone    AuthType = "none"
	AuthInherit AuthType = "inherit"
	AuthBasic   AuthType = "basic"
	AuthBearer  AuthType = "bearer"
	AuthAPIKey  AuthType = "api-key"
	AuthOAuth2  AuthType = "oauth-2"
)

// AddTo selects where derived credentials are placed.
type AddTo string

const (
	AddToHeaders     AddTo = "HEADERS"
	AddToQueryParams AddTo = "QUERY_PARAMS"
)

// Auth is the authorization union. The concrete types are NoAuth,
// InheritAuth, BasicAuth, BearerAuth, APIKeyAuth and OAuth2Auth.
type Auth interface {
	Type() AuthType
	isAuth()
}

type NoAuth struct{}

type InheritAuth struct{}

type BasicAuth struct {
	Username string
	Password string
}

type BearerAuth struct {
	Token string
}

type APIKeyAuth struct {
	Key   string
	Value string
	AddTo AddTo
}

// OAuth2Auth sends the grant's access token as a bearer header or as an
// access_token query parameter.
type OAuth2Auth struct {
	Grant Grant
	AddTo AddTo
}

func (NoAuth) Type() AuthType      { return AuthNone }
func (InheritAuth) Type() AuthType { return AuthInherit }
func (BasicAuth) Type() AuthType   { return AuthBasic }
func (BearerAuth) Type() AuthType  { return AuthBearer }
func (APIKeyAuth) Type() AuthType  { return AuthAPIKey }
func (OAuth2Auth) Type() AuthType  { return AuthOAuth2 }

func (NoAuth) isAuth()      {}
func (InheritAuth) isAuth() {}
func (BasicAuth) isAuth()   {}
func (BearerAuth) isAuth()  {}
func (APIKeyAuth) isAuth()  {}
func (OAuth2Auth) isAuth()  {}

// GrantType names an OAuth2 grant.
type GrantType string

const (
	GrantClientCredentials GrantType = "CLIENT_CREDENTIALS"
	GrantPassword          GrantType = "PASSWORD"
	GrantAuthorizationCode GrantType = "AUTHORIZATION_CODE"
	GrantImplicit          GrantType = "IMPLICIT"
)

// ClientAuthentication selects where client credentials travel in a
// client-credentials token request.
type ClientAuthentication string

const (
	ClientAuthInBody          ClientAuthentication = "IN_BODY"
	ClientAuthBasicAuthHeader ClientAuthentication = "AS_BASIC_AUTH_HEADERS"
)

// Grant is the OAuth2 grant union: ClientCredentialsGrant, PasswordGrant,
// AuthorizationCodeGrant and ImplicitGrant.
type Grant interface {
	GrantType() GrantType
	AccessToken() string
	isGrant()
}

// TokenRequestParam is an extra token-request field. SendIn is one of
// "headers", "url" or "body"; anything else is treated as "body".
type TokenRequestParam struct {
	ID     string `json:"id,omitempty"`
	Key    string `json:"key"`
	Value  string `json:"value"`
	SendIn string `json:"sendIn"`
	Active bool   `json:"active"`
}

type ClientCredentialsGrant struct {
	TokenEndpoint        string
	ClientID             string
	ClientSecret         string
	Scopes               string
	ClientAuthentication ClientAuthentication
	TokenRequestParams   []TokenRequestParam
	Token                string
}

type PasswordGrant struct {
	TokenEndpoint      string
	ClientID           string
	ClientSecret       string
	Username           string
	Password           string
	Scopes             string
	TokenRequestParams []TokenRequestParam
	Token              string
	RefreshToken       string
}

type AuthorizationCodeGrant struct {
	AuthEndpoint       string
	TokenEndpoint      string
	ClientID           string
	ClientSecret       string
	Scopes             string
	IsPKCE             bool
	CodeVerifierMethod string
	Token              string
	RefreshToken       string
}

type ImplicitGrant struct {
	AuthEndpoint string
	ClientID     string
	Scopes       string
	Token        string
}

func (ClientCredentialsGrant) GrantType() GrantType { return GrantClientCredentials }
func (PasswordGrant) GrantType() GrantType          { return GrantPassword }
func (AuthorizationCodeGrant) GrantType() GrantType { return GrantAuthorizationCode }
func (ImplicitGrant) GrantType() GrantType          { return GrantImplicit }

func (g ClientCredentialsGrant) AccessToken() string { return g.Token }
func (g PasswordGrant) AccessToken() string          { return g.Token }
func (g AuthorizationCodeGrant) AccessToken() string { return g.Token }
func (g ImplicitGrant) AccessToken() string          { return g.Token }

func (ClientCredentialsGrant) isGrant() {}
func (PasswordGrant) isGrant()          {}
func (AuthorizationCodeGrant) isGrant() {}
func (ImplicitGrant) isGrant()          {}

// authWire is the flat document form shared by every variant.
type authWire struct {
	AuthType      AuthType   `json:"authType"`
	AuthActive    bool       `json:"authActive"`
	Username      string     `json:"username,omitempty"`
	Password      string     `json:"password,omitempty"`
	Token         string     `json:"token,omitempty"`
	Key           string     `json:"key,omitempty"`
	Value         string     `json:"value,omitempty"`
	AddTo         AddTo      `json:"addTo,omitempty"`
	GrantTypeInfo *grantWire `json:"grantTypeInfo,omitempty"`
}

type grantWire struct {
	GrantType            GrantType            `json:"grantType"`
	AuthEndpoint         string               `json:"authEndpoint,omitempty"`
	TokenEndpoint        string               `json:"tokenEndpoint,omitempty"`
	ClientID             string               `json:"clientID"`
	ClientSecret         string               `json:"clientSecret,omitempty"`
	Username             string               `json:"username,omitempty"`
	Password             string               `json:"password,omitempty"`
	Scopes               string               `json:"scopes,omitempty"`
	IsPKCE               bool                 `json:"isPKCE,omitempty"`
	CodeVerifierMethod   string               `json:"codeVerifierMethod,omitempty"`
	ClientAuthentication ClientAuthentication `json:"clientAuthentication,omitempty"`
	TokenRequestParams   []TokenRequestParam  `json:"tokenRequestParams,omitempty"`
	Token                string               `json:"token"`
	RefreshToken         string               `json:"refreshToken,omitempty"`
}

// decodeAuth turns the document form into the union. A missing auth object
// means inherit; an inactive one means none.
func decodeAuth(raw json.RawMessage) (Auth, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return InheritAuth{}, nil
	}
	w := authWire{AuthActive: true}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	if !w.AuthActive && w.AuthType != AuthInherit {
		return NoAuth{}, nil
	}
	switch w.AuthType {
	case AuthNone:
		return NoAuth{}, nil
	case AuthInherit, "":
		return InheritAuth{}, nil
	case AuthBasic:
		return BasicAuth{Username: w.Username, Password: w.Password}, nil
	case AuthBearer:
		return BearerAuth{Token: w.Token}, nil
	case AuthAPIKey:
		return APIKeyAuth{Key: w.Key, Value: w.Value, AddTo: normalizeAddTo(w.AddTo)}, nil
	case AuthOAuth2:
		if w.GrantTypeInfo == nil {
			return nil, fmt.Errorf("auth: oauth-2 without grantTypeInfo")
		}
		g, err := decodeGrant(*w.GrantTypeInfo)
		if err != nil {
			return nil, err
		}
		return OAuth2Auth{Grant: g, AddTo: normalizeAddTo(w.AddTo)}, nil
	default:
		return nil, fmt.Errorf("auth: unsupported authType %q", w.AuthType)
	}
}

func decodeGrant(w grantWire) (Grant, error) {
	switch w.GrantType {
	case GrantClientCredentials:
		ca := w.ClientAuthentication
		if ca == "" {
			ca = ClientAuthInBody
		}
		return ClientCredentialsGrant{
			TokenEndpoint:        w.AuthEndpoint,
			ClientID:             w.ClientID,
			ClientSecret:         w.ClientSecret,
			Scopes:               w.Scopes,
			ClientAuthentication: ca,
			TokenRequestParams:   w.TokenRequestParams,
			Token:                w.Token,
		}, nil
	case GrantPassword:
		return PasswordGrant{
			TokenEndpoint:      w.AuthEndpoint,
			ClientID:           w.ClientID,
			ClientSecret:       w.ClientSecret,
			Username:           w.Username,
			Password:           w.Password,
			Scopes:             w.Scopes,
			TokenRequestParams: w.TokenRequestParams,
			Token:              w.Token,
			RefreshToken:       w.RefreshToken,
		}, nil
	case GrantAuthorizationCode:
		return AuthorizationCodeGrant{
			AuthEndpoint:       w.AuthEndpoint,
			TokenEndpoint:      w.TokenEndpoint,
			ClientID:           w.ClientID,
			ClientSecret:       w.ClientSecret,
			Scopes:             w.Scopes,
			IsPKCE:             w.IsPKCE,
			CodeVerifierMethod: w.CodeVerifierMethod,
			Token:              w.Token,
			RefreshToken:       w.RefreshToken,
		}, nil
	case GrantImplicit:
		return ImplicitGrant{
			AuthEndpoint: w.AuthEndpoint,
			ClientID:     w.ClientID,
			Scopes:       w.Scopes,
			Token:        w.Token,
		}, nil
	default:
		return nil, fmt.Errorf("auth: unsupported grantType %q", w.GrantType)
	}
}

func normalizeAddTo(a AddTo) AddTo {
	if a == AddToQueryParams {
		return a
	}
	return AddToHeaders
}

func encodeAuth(a Auth) authWire {
	w := authWire{AuthActive: true}
	switch v := a.(type) {
	case nil, InheritAuth:
		w.AuthType = AuthInherit
	case NoAuth:
		w.AuthType = AuthNone
	case BasicAuth:
		w.AuthType, w.Username, w.Password = AuthBasic, v.Username, v.Password
	case BearerAuth:
		w.AuthType, w.Token = AuthBearer, v.Token
	case APIKeyAuth:
		w.AuthType, w.Key, w.Value, w.AddTo = AuthAPIKey, v.Key, v.Value, v.AddTo
	case OAuth2Auth:
		w.AuthType, w.AddTo = AuthOAuth2, v.AddTo
		gw := encodeGrant(v.Grant)
		w.GrantTypeInfo = &gw
	}
	return w
}

func encodeGrant(g Grant) grantWire {
	switch v := g.(type) {
	case ClientCredentialsGrant:
		return grantWire{GrantType: GrantClientCredentials, AuthEndpoint: v.TokenEndpoint, ClientID: v.ClientID, ClientSecret: v.ClientSecret, Scopes: v.Scopes, ClientAuthentication: v.ClientAuthentication, TokenRequestParams: v.TokenRequestParams, Token: v.Token}
	case PasswordGrant:
		return grantWire{GrantType: GrantPassword, AuthEndpoint: v.TokenEndpoint, ClientID: v.ClientID, ClientSecret: v.ClientSecret, Username: v.Username, Password: v.Password, Scopes: v.Scopes, TokenRequestParams: v.TokenRequestParams, Token: v.Token, RefreshToken: v.RefreshToken}
	case AuthorizationCodeGrant:
		return grantWire{GrantType: GrantAuthorizationCode, AuthEndpoint: v.AuthEndpoint, TokenEndpoint: v.TokenEndpoint, ClientID: v.ClientID, ClientSecret: v.ClientSecret, Scopes: v.Scopes, IsPKCE: v.IsPKCE, CodeVerifierMethod: v.CodeVerifierMethod, Token: v.Token, RefreshToken: v.RefreshToken}
	case ImplicitGrant:
		return grantWire{GrantType: GrantImplicit, AuthEndpoint: v.AuthEndpoint, ClientID: v.ClientID, Scopes: v.Scopes, Token: v.Token}
	}
	return grantWire{}
}
