package generation

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// CloudPlatformScope is the OAuth scope Vertex AI requires.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// OAuthTokens is a TokenSource backed by an oauth2.TokenSource. Tokens are
// cached until shortly before they expire and then refreshed.
type OAuthTokens struct {
	source oauth2.TokenSource
}

// NewOAuthTokens wraps source with token caching
func NewOAuthTokens(source oauth2.TokenSource) *OAuthTokens {
	return &OAuthTokens{source: oauth2.ReuseTokenSource(nil, source)}
}

// StaticTokens returns a TokenSource for a fixed access token. It is meant
// for local runs against an emulator; the token is never refreshed.
func StaticTokens(accessToken string) *OAuthTokens {
	return NewOAuthTokens(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
}

// DefaultCredentials resolves Application Default Credentials for the
// cloud-platform scope. ctx bounds token refreshes for the lifetime of the
// returned source.
func DefaultCredentials(ctx context.Context) (*OAuthTokens, error) {
	source, err := google.DefaultTokenSource(ctx, CloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("failed to find default credentials: %w", err)
	}
	return NewOAuthTokens(source), nil
}

// Token returns a valid access token, refreshing it when needed.
func (t *OAuthTokens) Token(context.Context) (string, error) {
	token, err := t.source.Token()
	if err != nil {
		return "", fmt.Errorf("failed to obtain access token: %w", err)
	}
	return token.AccessToken, nil
}
