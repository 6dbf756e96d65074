package idsite

import (
	"net/url"
	"time"

	"github.com/google/uuid"
)

// RequestParam is the query parameter carrying the outbound token.
const RequestParam = "jwtRequest"

// URLBuilder assembles the signed redirect URL that sends a user to ID Site.
// A builder is meant for a single redirect and is not safe for concurrent use.
type URLBuilder struct {
	key             KeyPair
	applicationHref string
	now             func() time.Time
	newID           func() string

	claims OutboundClaims
	logout bool
}

// NewURLBuilder creates a builder that signs with key on behalf of the application.
func NewURLBuilder(key KeyPair, applicationHref string) *URLBuilder {
	return &URLBuilder{
		key:             key,
		applicationHref: applicationHref,
		now:             time.Now,
		newID:           uuid.NewString,
	}
}

// WithClock overrides the time source used for the iat claim.
func (b *URLBuilder) WithClock(now func() time.Time) *URLBuilder {
	if now != nil {
		b.now = now
	}
	return b
}

// SetCallbackURI sets where ID Site sends the user back to. Required.
func (b *URLBuilder) SetCallbackURI(uri string) *URLBuilder {
	b.claims.CallbackURI = uri
	return b
}

// SetState sets opaque state echoed back in the response token.
func (b *URLBuilder) SetState(state string) *URLBuilder {
	b.claims.State = state
	return b
}

// SetPath sets the ID Site page to land on, for example "/#/register".
func (b *URLBuilder) SetPath(path string) *URLBuilder {
	b.claims.Path = path
	return b
}

func (b *URLBuilder) SetOrganizationNameKey(nameKey string) *URLBuilder {
	b.claims.OrganizationNameKey = nameKey
	return b
}

func (b *URLBuilder) SetUseSubdomain(use bool) *URLBuilder {
	b.claims.UseSubdomain = &use
	return b
}

func (b *URLBuilder) SetShowOrganizationField(show bool) *URLBuilder {
	b.claims.ShowOrganizationField = &show
	return b
}

// SetSpToken forwards a token previously issued by ID Site.
func (b *URLBuilder) SetSpToken(token string) *URLBuilder {
	b.claims.SpToken = token
	return b
}

// AddProperty adds a custom claim. Protocol claims (jti, iat, iss, sub, cb_uri)
// cannot be overridden this way.
func (b *URLBuilder) AddProperty(name string, value interface{}) *URLBuilder {
	if b.claims.Properties == nil {
		b.claims.Properties = make(map[string]interface{})
	}
	b.claims.Properties[name] = value
	return b
}

// ForLogout targets the logout endpoint. There is no way back.
func (b *URLBuilder) ForLogout() *URLBuilder {
	b.logout = true
	return b
}

// Claims returns a copy of the outbound claim set configured so far.
func (b *URLBuilder) Claims() OutboundClaims {
	c := b.claims
	if b.claims.Properties != nil {
		c.Properties = make(map[string]interface{}, len(b.claims.Properties))
		for k, v := range b.claims.Properties {
			c.Properties[k] = v
		}
	}
	return c
}

// IsLogout reports whether ForLogout was called.
func (b *URLBuilder) IsLogout() bool {
	return b.logout
}

// Build stamps jti, iat, iss and sub, signs the claims and returns the absolute
// redirect URL.
func (b *URLBuilder) Build() (string, error) {
	if b.claims.CallbackURI == "" {
		return "", newErrorf(ErrCodeIllegalState, "callback URI must be set before building")
	}
	if err := b.key.Validate(); err != nil {
		return "", newError(ErrCodeKeyUnavailable, err)
	}

	endpoint, err := ssoEndpoint(b.applicationHref, b.logout)
	if err != nil {
		return "", newError(ErrCodeIllegalState, err)
	}

	claims := b.claims.toClaims()
	claims[ClaimID] = b.newID()
	claims[ClaimIssuedAt] = b.now().Unix()
	claims[ClaimIssuer] = b.key.ID
	claims[ClaimSubject] = b.applicationHref

	token, err := Sign(b.key.ID, claims, []byte(b.key.Secret), nil)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set(RequestParam, token)
	return endpoint + "?" + q.Encode(), nil
}
