// Package httputil provides HTTP helpers shared by the ID Site routes and the
// demo server.
//
// # Responses
//
//	httputil.WriteJSON(w, http.StatusOK, result)
//	httputil.WriteCodedError(w, http.StatusUnauthorized, "token_expired", "Token expired")
//	httputil.RedirectNoCache(w, r, redirectURL)
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)(router)
//
// RequestIDMiddleware stores the ID with observability.WithRequestID so that
// observability.FromContext loggers carry it.
package httputil
