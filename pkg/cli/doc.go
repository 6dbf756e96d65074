// Package cli provides the idsite command-line interface for working with ID Site
// tokens during development.
//
// # Overview
//
// The idsite tool builds signed redirect URLs, decodes and verifies tokens, and
// plays the hosted page's side of the protocol so an application's callback can
// be exercised without a live ID Site.
//
// # Commands
//
// url: Build a signed redirect URL
//
//	idsite url \
//		-app https://api.example.com/v1/applications/abc \
//		-callback https://app.example.com/idsite/callback \
//		-state xyz \
//		-key-file ~/.stormpath/apiKey.properties
//
// respond: Answer a redirect URL the way ID Site would
//
//	idsite respond -redirect "$(idsite url ...)" -account https://api.example.com/v1/accounts/1
//
// inspect: Decode a token, or a URL carrying one, and verify it when a key is given
//
//	idsite inspect -key-id K1 -key-secret S1 "https://app.example.com/idsite/callback?jwtResponse=..."
//
// # Keys
//
// Every command takes -key-id/-key-secret or -key-file (an apiKey.properties
// file), falling back to IDSITE_API_KEY_ID, IDSITE_API_KEY_SECRET and
// IDSITE_API_KEY_FILE.
//
// # Output
//
// url and respond print a single URL. inspect prints JSON with the header,
// claims, and either the validated result or the error code:
//
//	{
//	  "header": {"alg": "HS256", "kid": "K1", "typ": "JWT"},
//	  "claims": {"irt": "...", "status": "AUTHENTICATED", ...},
//	  "verified": true,
//	  "result": {"account_href": "...", "is_new_account": false, "status": "AUTHENTICATED"}
//	}
package cli
