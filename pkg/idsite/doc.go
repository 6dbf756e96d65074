// Package idsite implements the ID Site redirect protocol: sending a user to a
// hosted login page with a signed request token, and validating the signed
// response token the hosted page sends back.
//
// # Redirecting
//
//	redirect, err := idsite.NewURLBuilder(key, applicationHref).
//		SetCallbackURI("https://app.example.com/idsite/callback").
//		SetState(state).
//		Build()
//	http.Redirect(w, r, redirect, http.StatusFound)
//
// # Handling the callback
//
//	handler, err := idsite.NewCallbackHandler(idsite.Config{
//		Keys:   idsite.StaticKey(key),
//		Nonces: nonceStore,
//	})
//	handler.SetResultListener(idsite.ListenerFuncs{
//		OnAuthenticated: func(ctx context.Context, r *idsite.AccountResult) { ... },
//	})
//	result, err := handler.AccountResult(r.Context(), idsite.FromHTTPRequest(r))
//
// Validation fails fast in a fixed order: request shape, kid header, signature,
// exp/iss, expiry (with optional clock skew), ID Site reported errors, replay
// check on the irt nonce, then status and subject. Failures are *Error values
// matching the Err* sentinels with errors.Is.
package idsite
