// Package idsitetest plays the hosted ID Site in tests: it decodes redirect
// tokens and mints signed response tokens the way the hosted page does.
package idsitetest

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/idsite/pkg/idsite"
)

// DefaultTTL is the lifetime given to minted response tokens.
const DefaultTTL = 60 * time.Second

// Site mints response tokens signed with Key.
type Site struct {
	Key    idsite.KeyPair
	Issuer string
	TTL    time.Duration
	Now    func() time.Time
}

// NewSite creates a Site for key with an issuer of https://id.test.
func NewSite(key idsite.KeyPair) *Site {
	return &Site{
		Key:    key,
		Issuer: "https://id.test",
		TTL:    DefaultTTL,
		Now:    time.Now,
	}
}

// Response describes the token ID Site sends back to the callback URI.
type Response struct {
	Status      idsite.Status
	AccountHref string
	IsNewSub    bool
	State       string

	// ResponseID becomes the irt claim. A fresh UUID is used when empty.
	ResponseID string

	// Error makes this an error response carrying an err claim.
	Error     *idsite.RemoteError
	RequestID string

	// KeyID overrides the kid header.
	KeyID string
	// Secret overrides the signing secret.
	Secret string
	// ExpiresAt overrides now + TTL.
	ExpiresAt time.Time

	// Claims are applied last. A nil value removes the claim.
	Claims map[string]interface{}
}

// Mint signs r as a compact response token.
func (s *Site) Mint(r Response) (string, error) {
	now := s.Now()
	exp := r.ExpiresAt
	if exp.IsZero() {
		exp = now.Add(s.TTL)
	}
	irt := r.ResponseID
	if irt == "" {
		irt = uuid.NewString()
	}

	claims := idsite.Claims{
		idsite.ClaimIssuer:     s.Issuer,
		idsite.ClaimIssuedAt:   now.Unix(),
		idsite.ClaimExpiresAt:  exp.Unix(),
		idsite.ClaimResponseID: irt,
		idsite.ClaimIsNewSub:   r.IsNewSub,
		idsite.ClaimStatus:     string(r.Status),
	}
	if r.AccountHref != "" {
		claims[idsite.ClaimSubject] = r.AccountHref
	}
	if r.State != "" {
		claims[idsite.ClaimState] = r.State
	}
	if r.Error != nil {
		claims[idsite.ClaimError] = map[string]interface{}{
			"code":             r.Error.Code,
			"status":           r.Error.Status,
			"message":          r.Error.Message,
			"developerMessage": r.Error.DeveloperMessage,
			"moreInfo":         r.Error.MoreInfo,
		}
	}
	for k, v := range r.Claims {
		if v == nil {
			delete(claims, k)
			continue
		}
		claims[k] = v
	}

	kid := r.KeyID
	if kid == "" {
		kid = s.Key.ID
	}
	secret := r.Secret
	if secret == "" {
		secret = s.Key.Secret
	}
	var header map[string]interface{}
	if r.RequestID != "" {
		header = map[string]interface{}{idsite.HeaderRequestID: r.RequestID}
	}

	return idsite.Sign(kid, claims, []byte(secret), header)
}

// MustMint is Mint that panics on error.
func (s *Site) MustMint(r Response) string {
	tok, err := s.Mint(r)
	if err != nil {
		panic(err)
	}
	return tok
}

// CallbackURL appends a minted response token to callbackURI as jwtResponse.
func (s *Site) CallbackURL(callbackURI string, r Response) (string, error) {
	tok, err := s.Mint(r)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(callbackURI)
	if err != nil {
		return "", fmt.Errorf("invalid callback URI: %w", err)
	}
	q := u.Query()
	q.Set(idsite.ResponseParam, tok)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Request is a decoded redirect received by ID Site.
type Request struct {
	Endpoint string
	Logout   bool
	KeyID    string
	Claims   idsite.Claims
}

// CallbackURI returns the cb_uri claim.
func (r *Request) CallbackURI() string {
	s, _ := r.Claims.String(idsite.ClaimCallbackURI)
	return s
}

// State returns the state claim.
func (r *Request) State() string {
	s, _ := r.Claims.String(idsite.ClaimState)
	return s
}

// DecodeRequest verifies the jwtRequest token of a redirect URL built for this site.
func (s *Site) DecodeRequest(redirectURL string) (*Request, error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URL: %w", err)
	}
	raw := u.Query().Get(idsite.RequestParam)
	if raw == "" {
		return nil, fmt.Errorf("redirect URL has no %s parameter", idsite.RequestParam)
	}
	tok, err := idsite.ParseToken(raw)
	if err != nil {
		return nil, err
	}
	if tok.KeyID() != s.Key.ID {
		return nil, fmt.Errorf("request signed with key %q, want %q", tok.KeyID(), s.Key.ID)
	}
	claims, err := tok.Verify([]byte(s.Key.Secret))
	if err != nil {
		return nil, err
	}

	u.RawQuery = ""
	return &Request{
		Endpoint: u.String(),
		Logout:   strings.HasSuffix(u.Path, "/logout"),
		KeyID:    tok.KeyID(),
		Claims:   claims,
	}, nil
}

// Respond decodes a redirect and answers it, echoing its state and
// targeting its cb_uri. r.State is replaced by the request's state when empty.
func (s *Site) Respond(redirectURL string, r Response) (string, error) {
	req, err := s.DecodeRequest(redirectURL)
	if err != nil {
		return "", err
	}
	if r.State == "" {
		r.State = req.State()
	}
	if req.Logout && r.Status == "" {
		r.Status = idsite.StatusLogout
	}
	return s.CallbackURL(req.CallbackURI(), r)
}
