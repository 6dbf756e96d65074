package idsite

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// KeyPair is the API key shared with ID Site. ID travels in the kid header and iss
// claim, Secret keys the HMAC.
type KeyPair struct {
	ID     string
	Secret string
}

// Validate checks that both halves of the key are present.
func (k KeyPair) Validate() error {
	if k.ID == "" {
		return fmt.Errorf("api key id is required")
	}
	if k.Secret == "" {
		return fmt.Errorf("api key secret is required")
	}
	return nil
}

// KeyResolver returns the API key used to sign requests and verify responses.
type KeyResolver interface {
	SigningKey(ctx context.Context) (KeyPair, error)
}

// StaticKey is a KeyResolver that always returns the same key.
type StaticKey KeyPair

// SigningKey implements KeyResolver.
func (k StaticKey) SigningKey(context.Context) (KeyPair, error) {
	return KeyPair(k), nil
}

// ssoEndpoint derives the ID Site endpoint from an application href:
// scheme://authority + "/sso", with "/logout" appended for logout redirects.
func ssoEndpoint(applicationHref string, logout bool) (string, error) {
	u, err := url.Parse(applicationHref)
	if err != nil {
		return "", fmt.Errorf("invalid application href %q: %w", applicationHref, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("application href %q must be an absolute URL", applicationHref)
	}

	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(u.Host)
	b.WriteString("/sso")
	if logout {
		b.WriteString("/logout")
	}
	return b.String(), nil
}
