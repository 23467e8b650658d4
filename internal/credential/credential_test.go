package credential

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/certgen/certgen/internal/certerr"
	"github.com/certgen/certgen/internal/config"
)

const googleTokenURL = "https://oauth2.googleapis.com/token"

func mockedContext(t *testing.T) (context.Context, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Transport: transport})
	return ctx, transport
}

func refreshTokenConfig() config.GoogleConfig {
	return config.GoogleConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RefreshToken: "refresh-token",
	}
}

func TestOAuthProvider_Acquire_RefreshToken(t *testing.T) {
	ctx, transport := mockedContext(t)
	transport.RegisterResponder(http.MethodPost, googleTokenURL,
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{
			"access_token": "access-1",
			"token_type":   "Bearer",
			"expires_in":   3600,
		}))
	transport.RegisterResponder(http.MethodGet, "https://slides.googleapis.com/ping",
		func(r *http.Request) (*http.Response, error) {
			if r.Header.Get("Authorization") != "Bearer access-1" {
				return httpmock.NewStringResponse(http.StatusUnauthorized, ""), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, "pong"), nil
		})

	p, err := NewOAuthProvider(ctx, refreshTokenConfig())
	require.NoError(t, err)

	cred, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cred.HTTPClient)
	assert.False(t, cred.Expiry.IsZero())

	resp, err := cred.HTTPClient.Get("https://slides.googleapis.com/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The token is reused until it expires.
	_, err = p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, transport.GetCallCountInfo()["POST "+googleTokenURL])
}

func TestOAuthProvider_Acquire_RevokedToken(t *testing.T) {
	ctx, transport := mockedContext(t)
	transport.RegisterResponder(http.MethodPost, googleTokenURL,
		httpmock.NewJsonResponderOrPanic(http.StatusBadRequest, map[string]any{
			"error":             "invalid_grant",
			"error_description": "Token has been expired or revoked.",
		}))

	p, err := NewOAuthProvider(ctx, refreshTokenConfig())
	require.NoError(t, err)

	_, err = p.Acquire(context.Background())
	require.ErrorIs(t, err, certerr.ErrAuth)
	assert.Equal(t, certerr.KindAuth, certerr.Kind(err))
}

func TestNewOAuthProvider_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewOAuthProvider(context.Background(), config.GoogleConfig{})
	require.ErrorIs(t, err, certerr.ErrAuth)

	_, err = NewOAuthProvider(context.Background(), config.GoogleConfig{
		CredentialsFile: filepath.Join(t.TempDir(), "missing.json"),
	})
	require.Error(t, err)

	_, err = NewOAuthProvider(context.Background(), config.GoogleConfig{CredentialsJSON: "{not json"})
	require.Error(t, err)
}

func TestStatic(t *testing.T) {
	t.Parallel()

	client := &http.Client{}
	cred, err := Static(client).Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, client, cred.HTTPClient)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Static(client).Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
