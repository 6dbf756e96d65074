// Package middleware provides per-client rate limiting for the ID Site routes.
//
// Login redirects and callbacks are unauthenticated, so requests are keyed by
// client IP. Two Limiter implementations exist:
//
//	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
//	limiter.StartCleanup(ctx)
//
//	// shared across instances, typically on the nonce store's Redis client
//	limiter := middleware.NewDistributedRateLimiter(redisClient, cfg, middleware.DefaultRedisPrefix)
//
// Either plugs into the HTTP chain:
//
//	rl := middleware.NewRateLimitMiddleware(limiter, logger, metrics)
//	router.Use(rl.Handler)
//
// Rejected requests get 429 with Retry-After and X-RateLimit-* headers. When
// Redis is unreachable the request is allowed and the error is counted.
package middleware
