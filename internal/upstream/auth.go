package upstream

import (
	"context"
	"errors"
	"net/http"

	"github.com/toolbridge/tool-gateway/internal/credentials"
	"github.com/toolbridge/tool-gateway/internal/envelope"
)

// AuthScheme attaches caller credentials to an outbound request. Schemes
// are stateless; any per-vendor token state lives behind a TokenSource.
type AuthScheme interface {
	Apply(ctx context.Context, req *http.Request, creds *credentials.Credentials) error
}

// TokenSource supplies a bearer token for the current call, typically a
// token cache performing a client-credentials grant on demand. The caller's
// credentials are passed through so the grant is issued for the caller's
// own account, never silently for a different one.
type TokenSource func(ctx context.Context, creds *credentials.Credentials) (string, error)

// BearerAuth sends "Authorization: Bearer <token>". When Source is nil the
// raw credential token is used directly.
type BearerAuth struct {
	Source TokenSource
}

func (b BearerAuth) Apply(ctx context.Context, req *http.Request, creds *credentials.Credentials) error {
	token := creds.Token
	if b.Source != nil {
		t, err := b.Source(ctx, creds)
		if err != nil {
			var tagged *envelope.Error
			if errors.As(err, &tagged) {
				return tagged
			}
			return envelope.New(envelope.KindAuthError, "token refresh failed: %v", err)
		}
		token = t
	}
	if token == "" {
		return envelope.New(envelope.KindMissingCredentials, "no bearer token available")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// BasicAuth sends HTTP basic auth from two named credential fields, e.g.
// Twilio's account_sid/auth_token pair.
type BasicAuth struct {
	UserField string
	PassField string
}

func (b BasicAuth) Apply(_ context.Context, req *http.Request, creds *credentials.Credentials) error {
	user := creds.Field(b.UserField)
	pass := creds.Field(b.PassField)
	if user == "" || pass == "" {
		return envelope.New(envelope.KindMissingCredentials, "credential fields %q/%q are required", b.UserField, b.PassField)
	}
	req.SetBasicAuth(user, pass)
	return nil
}

// QueryAuth appends the credential token as a query parameter (API-key style
// vendors).
type QueryAuth struct {
	Param string
}

func (q QueryAuth) Apply(_ context.Context, req *http.Request, creds *credentials.Credentials) error {
	if creds.Token == "" {
		return envelope.New(envelope.KindMissingCredentials, "no API key available")
	}
	values := req.URL.Query()
	values.Set(q.Param, creds.Token)
	req.URL.RawQuery = values.Encode()
	return nil
}

// HeaderAuth sends the credential token in a custom header.
type HeaderAuth struct {
	Name string
}

func (h HeaderAuth) Apply(_ context.Context, req *http.Request, creds *credentials.Credentials) error {
	if creds.Token == "" {
		return envelope.New(envelope.KindMissingCredentials, "no API key available")
	}
	req.Header.Set(h.Name, creds.Token)
	return nil
}
