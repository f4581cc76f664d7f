package gmail

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"applytrack/internal/services"
)

// refreshWindow is how close to expiry a token may get before it is refreshed.
const refreshWindow = 60 * time.Second

// TokenManager refreshes account tokens through the OAuth token endpoint.
type TokenManager struct {
	config     oauth2.Config
	httpClient *http.Client
}

// NewTokenManager builds a token manager. httpClient may be nil.
func NewTokenManager(clientID, clientSecret, tokenURL string, httpClient *http.Client) *TokenManager {
	return &TokenManager{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
	}
}

// EnsureToken returns a token valid for at least the refresh window. The
// returned account carries the refreshed credentials and changed reports
// whether they differ from the input.
func (m *TokenManager) EnsureToken(ctx context.Context, account Account) (*oauth2.Token, Account, bool, error) {
	current := account.Token()
	if m.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	}
	// The inner source only sees the refresh token so it always refreshes
	// once the outer source decides the current token is too close to expiry.
	refresher := m.config.TokenSource(ctx, &oauth2.Token{RefreshToken: account.RefreshToken})
	source := oauth2.ReuseTokenSourceWithExpiry(current, refresher, refreshWindow)
	token, err := source.Token()
	if err != nil {
		return nil, account, false, services.Wrap(services.ErrConfiguration, "gmail", "refresh token", account.Email, err)
	}
	changed := token.AccessToken != account.AccessToken || !token.Expiry.Equal(account.TokenExpiry)
	if changed {
		account.AccessToken = token.AccessToken
		account.TokenExpiry = token.Expiry
		if token.RefreshToken != "" {
			account.RefreshToken = token.RefreshToken
		}
	}
	return token, account, changed, nil
}
