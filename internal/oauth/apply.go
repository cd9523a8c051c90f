package oauth

import (
	"context"
	"fmt"

	"pkt.systems/hopprun/internal/collection"
	"pkt.systems/hopprun/internal/template"
)

// Apply generates a token for every top-level collection whose authorization
// is OAuth 2.0 and returns copies with the token written back. Collections
// using a redirect grant keep a token they already carry; without one they
// fail with REDIRECT_GRANT_TYPE_NOT_SUPPORTED. The first failure aborts.
func (g *Generator) Apply(ctx context.Context, cols []collection.Collection, vars []template.Variable) ([]collection.Collection, error) {
	out := make([]collection.Collection, len(cols))
	copy(out, cols)
	for i, c := range cols {
		auth, ok := c.Auth.(collection.OAuth2Auth)
		if !ok {
			continue
		}
		if requiresRedirect(auth.Grant) && auth.Grant.AccessToken() != "" {
			g.logger.Debug("oauth.token.stored", "collection", c.Name, "grant", string(auth.Grant.GrantType()))
			continue
		}
		tok, err := g.Generate(ctx, c, vars)
		if err != nil {
			return nil, fmt.Errorf("collection %q: %w", c.Name, err)
		}
		c = c.Clone()
		c.Auth = collection.OAuth2Auth{Grant: withToken(auth.Grant, tok), AddTo: auth.AddTo}
		out[i] = c
	}
	return out, nil
}

func requiresRedirect(g collection.Grant) bool {
	switch g.(type) {
	case collection.AuthorizationCodeGrant, collection.ImplicitGrant:
		return true
	}
	return false
}

func withToken(g collection.Grant, tok Token) collection.Grant {
	switch v := g.(type) {
	case collection.ClientCredentialsGrant:
		v.Token = tok.AccessToken
		return v
	case collection.PasswordGrant:
		v.Token = tok.AccessToken
		if tok.RefreshToken != "" {
			v.RefreshToken = tok.RefreshToken
		}
		return v
	}
	return g
}
