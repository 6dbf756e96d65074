// Package sso mounts the ID Site flow on a gorilla/mux router.
//
// Four routes are registered:
//
//	GET      /idsite/login     redirect to the ID Site login page
//	GET      /idsite/register  redirect to the ID Site registration page
//	GET/POST /idsite/logout    redirect to the ID Site logout endpoint
//	GET      /idsite/callback  validate jwtResponse and redirect to the next URI
//
// Redirects carry no-cache headers. The callback routes REGISTERED, AUTHENTICATED
// and LOGOUT results to RegisterNextURI, LoginNextURI and LogoutNextURI, or
// answers with the result as JSON when the client accepts application/json.
// A session timeout reported by ID Site sends the browser back to the login route.
//
//	callback, _ := idsite.NewCallbackHandler(idsite.Config{Keys: keys, Nonces: store})
//	callback.SetResultListener(idsite.ListenerFuncs{OnAuthenticated: startSession})
//	h, _ := sso.NewHandlers(keys, callback, sso.Options{
//		ApplicationHref: applicationHref,
//		CallbackURI:     "https://app.example.com/idsite/callback",
//		Organization:    sso.QueryOrganization(sso.OrganizationContext{NameKey: "acme"}),
//	})
//	h.RegisterRoutes(router)
package sso
