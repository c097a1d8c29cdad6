// Package middleware provides HTTP middleware for sessions, role checks and
// rate limiting.
//
// # Sessions
//
// SessionAuth reads the session token from the Authorization header
// ("Bearer <token>") or the session cookie, validates it and stores the
// *auth.Principal in the request context. Requests without a valid session
// continue anonymously so public routes can share the router:
//
//	router.Use(middleware.NewSessionAuth(authService, "lightbox_session").Handler)
//
//	admin := router.PathPrefix("/api/admin").Subrouter()
//	admin.Use(middleware.RequireRole(auth.RoleAdmin))
//
// RequireAuth answers 401 for anonymous callers; RequireRole answers 401 or
// 403.
//
// # Rate Limiting
//
// Sign-in endpoints are limited per client IP. MemoryLimiter is a token
// bucket local to the process; RedisLimiter shares a fixed window between
// instances. Limiter errors fail open.
//
//	limiter := middleware.NewRedisLimiter(redisClient, middleware.LoginRateLimitConfig(), "lightbox:ratelimit")
//	login.Use(middleware.RateLimit(limiter, "login"))
//
// # Related Packages
//
//   - pkg/auth: Session validation
//   - pkg/audit: Records denied requests after these checks run
package middleware
