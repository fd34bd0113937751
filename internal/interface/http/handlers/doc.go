// Package handlers contains reusable gin middleware and the health checks
// behind the /health and /ready endpoints.
//
// # Health Checks
//
// Checks are registered by name and run in parallel:
//
//	checker := handlers.NewCompositeHealthChecker("v1.0.0")
//	checker.AddCheck("postgres", handlers.PingCheck(conn))
//	checker.AddCheck("redis", handlers.PingCheck(cache))
//
//	status := checker.Check(ctx)
//
// # Middleware
//
// Every middleware is a gin.HandlerFunc:
//
//	router.Use(
//	    handlers.RequestIDMiddleware(log),
//	    handlers.LoggingMiddleware(log),
//	    handlers.SecurityHeadersMiddleware(),
//	    handlers.NewRateLimiter(120, time.Minute).Middleware(nil),
//	)
package handlers
