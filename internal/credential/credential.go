package credential

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/slides/v1"

	"github.com/certgen/certgen/internal/certerr"
	"github.com/certgen/certgen/internal/config"
)

// Scopes requested for every credential: edit the template and send mail.
var Scopes = []string{slides.PresentationsScope, gmail.GmailSendScope}

// Credential is an authenticated handle shared read-only by the components of one job.
type Credential struct {
	// HTTPClient attaches a valid access token to every request it sends.
	HTTPClient *http.Client
	// Expiry is when the token observed at acquisition stops being valid.
	Expiry time.Time
}

// Provider hands out credentials. Implementations refresh tokens as needed and
// fail with certerr.ErrAuth when no valid token can be obtained.
type Provider interface {
	Acquire(ctx context.Context) (*Credential, error)
}

// OAuthProvider implements Provider on top of an oauth2.TokenSource.
type OAuthProvider struct {
	source oauth2.TokenSource
	client *http.Client
}

// NewOAuthProvider builds a provider from the Google configuration.
// It accepts, in order of preference, a credentials document (service account
// or authorized_user, inline or from a file) or a client id/secret/refresh token triple.
// ctx is used for token refreshes and must outlive the provider.
func NewOAuthProvider(ctx context.Context, cfg config.GoogleConfig) (*OAuthProvider, error) {
	src, err := tokenSource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	src = oauth2.ReuseTokenSource(nil, src)

	return &OAuthProvider{
		source: src,
		client: oauth2.NewClient(ctx, src),
	}, nil
}

// Acquire returns the shared authorized client after making sure a valid
// access token is available, refreshing it if it has expired.
func (p *OAuthProvider) Acquire(ctx context.Context) (*Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tok, err := p.source.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to obtain access token: %w", certerr.ErrAuth, err)
	}
	if !tok.Valid() {
		return nil, fmt.Errorf("%w: access token is not valid", certerr.ErrAuth)
	}

	return &Credential{HTTPClient: p.client, Expiry: tok.Expiry}, nil
}

func tokenSource(ctx context.Context, cfg config.GoogleConfig) (oauth2.TokenSource, error) {
	credsJSON := []byte(cfg.CredentialsJSON)
	if len(credsJSON) == 0 && cfg.CredentialsFile != "" {
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("credential: failed to read %s: %w", cfg.CredentialsFile, err)
		}
		credsJSON = data
	}

	switch {
	case len(credsJSON) > 0 && cfg.Subject != "":
		// Service account with domain-wide delegation, impersonating the sender mailbox
		jwtConfig, err := google.JWTConfigFromJSON(credsJSON, Scopes...)
		if err != nil {
			return nil, fmt.Errorf("credential: failed to parse service account credentials: %w", err)
		}
		jwtConfig.Subject = cfg.Subject
		return jwtConfig.TokenSource(ctx), nil

	case len(credsJSON) > 0:
		creds, err := google.CredentialsFromJSON(ctx, credsJSON, Scopes...)
		if err != nil {
			return nil, fmt.Errorf("credential: failed to parse credentials: %w", err)
		}
		return creds.TokenSource, nil

	case cfg.ClientID != "" && cfg.ClientSecret != "" && cfg.RefreshToken != "":
		oauthCfg := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       Scopes,
		}
		return oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken}), nil
	}

	return nil, fmt.Errorf("%w: no Google credentials configured", certerr.ErrAuth)
}

// staticProvider always returns the same client.
type staticProvider struct {
	client *http.Client
}

// Static returns a Provider that hands out client unchanged. It is meant for
// emulators and tests where the endpoint does not check tokens.
func Static(client *http.Client) Provider {
	return &staticProvider{client: client}
}

func (p *staticProvider) Acquire(ctx context.Context) (*Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Credential{HTTPClient: p.client}, nil
}
