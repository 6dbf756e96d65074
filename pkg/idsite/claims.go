package idsite

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Claim names used on the wire.
const (
	ClaimCallbackURI           = "cb_uri"
	ClaimState                 = "state"
	ClaimPath                  = "path"
	ClaimOrganizationNameKey   = "onk"
	ClaimUseSubdomain          = "usd"
	ClaimShowOrganizationField = "sof"
	ClaimSpToken               = "sp_token"

	ClaimID        = "jti"
	ClaimIssuedAt  = "iat"
	ClaimIssuer    = "iss"
	ClaimSubject   = "sub"
	ClaimExpiresAt = "exp"

	ClaimResponseID = "irt"
	ClaimIsNewSub   = "isNewSub"
	ClaimStatus     = "status"
	ClaimError      = "err"
)

// reservedClaims are stamped by the builder and cannot be set as extra properties.
var reservedClaims = map[string]bool{
	ClaimID:          true,
	ClaimIssuedAt:    true,
	ClaimIssuer:      true,
	ClaimSubject:     true,
	ClaimCallbackURI: true,
}

// Claims is a decoded token payload with typed accessors.
type Claims map[string]interface{}

// Has reports whether the claim is present and not null.
func (c Claims) Has(name string) bool {
	v, ok := c[name]
	return ok && v != nil
}

// String returns the named claim as a string. Non-string scalars are formatted.
func (c Claims) String(name string) (string, bool) {
	v, ok := c[name]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return fmt.Sprint(t), true
	}
}

// Int64 returns the named claim as an integer, accepting JSON numbers and numeric strings.
func (c Claims) Int64(name string) (int64, error) {
	v, ok := c[name]
	if !ok || v == nil {
		return 0, missingClaim(name)
	}
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil {
			return 0, newErrorf(ErrCodeMalformedToken, "claim %q is not numeric", name)
		}
		return int64(math.Floor(f)), nil
	case float64:
		return int64(math.Floor(t)), nil
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case string:
		i, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, newErrorf(ErrCodeMalformedToken, "claim %q is not numeric", name)
		}
		return i, nil
	default:
		return 0, newErrorf(ErrCodeMalformedToken, "claim %q is not numeric", name)
	}
}

// Bool returns the named claim as a boolean, accepting "true"/"false" strings.
func (c Claims) Bool(name string) (bool, error) {
	v, ok := c[name]
	if !ok || v == nil {
		return false, missingClaim(name)
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return false, newErrorf(ErrCodeMalformedToken, "claim %q is not a boolean", name)
		}
		return b, nil
	default:
		return false, newErrorf(ErrCodeMalformedToken, "claim %q is not a boolean", name)
	}
}

// Map returns the named claim as a nested object.
func (c Claims) Map(name string) (map[string]interface{}, bool) {
	v, ok := c[name]
	if !ok || v == nil {
		return nil, false
	}
	m, ok := v.(map[string]interface{})
	return m, ok
}

// OutboundClaims is the claim set carried by a redirect to ID Site.
// Optional values are only serialized when set.
type OutboundClaims struct {
	CallbackURI           string
	State                 string
	Path                  string
	OrganizationNameKey   string
	UseSubdomain          *bool
	ShowOrganizationField *bool
	SpToken               string
	Properties            map[string]interface{}
}

// toClaims renders the outbound claim set without the protocol-stamped values.
func (o *OutboundClaims) toClaims() Claims {
	c := Claims{}
	for k, v := range o.Properties {
		if reservedClaims[k] {
			continue
		}
		c[k] = v
	}
	c[ClaimCallbackURI] = o.CallbackURI
	putString(c, ClaimState, o.State)
	putString(c, ClaimPath, o.Path)
	putString(c, ClaimOrganizationNameKey, o.OrganizationNameKey)
	putString(c, ClaimSpToken, o.SpToken)
	if o.UseSubdomain != nil {
		c[ClaimUseSubdomain] = *o.UseSubdomain
	}
	if o.ShowOrganizationField != nil {
		c[ClaimShowOrganizationField] = *o.ShowOrganizationField
	}
	return c
}

func putString(c Claims, name, value string) {
	if value != "" {
		c[name] = value
	}
}
