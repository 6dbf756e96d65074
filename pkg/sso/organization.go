package sso

import (
	"net/http"

	"github.com/platinummonkey/idsite/pkg/httputil"
	"github.com/platinummonkey/idsite/pkg/idsite"
)

// Query parameters read by QueryOrganization.
const (
	ParamOrganizationNameKey   = "organizationNameKey"
	ParamUseSubdomain          = "useSubdomain"
	ParamShowOrganizationField = "showOrganizationField"
)

// OrganizationContext selects the organization ID Site authenticates against.
// Nil flags are left out of the request token.
type OrganizationContext struct {
	NameKey               string
	UseSubdomain          *bool
	ShowOrganizationField *bool
}

// apply copies the context onto b. UseSubdomain only has meaning alongside a
// name key and is dropped without one.
func (c *OrganizationContext) apply(b *idsite.URLBuilder) {
	if c == nil {
		return
	}
	if c.NameKey != "" {
		b.SetOrganizationNameKey(c.NameKey)
		if c.UseSubdomain != nil {
			b.SetUseSubdomain(*c.UseSubdomain)
		}
	}
	if c.ShowOrganizationField != nil {
		b.SetShowOrganizationField(*c.ShowOrganizationField)
	}
}

// OrganizationResolver decides the organization context of a login or
// registration redirect. A nil context means none.
type OrganizationResolver interface {
	ResolveOrganization(r *http.Request) (*OrganizationContext, error)
}

// OrganizationResolverFunc adapts a function to OrganizationResolver.
type OrganizationResolverFunc func(r *http.Request) (*OrganizationContext, error)

// ResolveOrganization implements OrganizationResolver.
func (f OrganizationResolverFunc) ResolveOrganization(r *http.Request) (*OrganizationContext, error) {
	return f(r)
}

// StaticOrganization always resolves to c.
func StaticOrganization(c OrganizationContext) OrganizationResolver {
	return OrganizationResolverFunc(func(*http.Request) (*OrganizationContext, error) {
		out := c
		return &out, nil
	})
}

// QueryOrganization resolves to defaults, overridden per request by the
// organizationNameKey, useSubdomain and showOrganizationField query parameters.
func QueryOrganization(defaults OrganizationContext) OrganizationResolver {
	return OrganizationResolverFunc(func(r *http.Request) (*OrganizationContext, error) {
		c := defaults
		c.NameKey = httputil.ParseQueryString(r, ParamOrganizationNameKey, c.NameKey)

		use, err := httputil.ParseQueryOptionalBool(r, ParamUseSubdomain)
		if err != nil {
			return nil, err
		}
		if use != nil {
			c.UseSubdomain = use
		}

		show, err := httputil.ParseQueryOptionalBool(r, ParamShowOrganizationField)
		if err != nil {
			return nil, err
		}
		if show != nil {
			c.ShowOrganizationField = show
		}
		return &c, nil
	})
}
