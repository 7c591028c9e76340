// Package handlers contains the pieces of the HTTP interface that do not
// depend on the router: readiness checks, caller authentication and the
// Telegram webhook contract.
//
// # Health Checks
//
//	checker := handlers.NewCompositeHealthChecker(version)
//	checker.AddCheck("store", handlers.NewPingCheck(store))
//	checker.AddCheck("redis", handlers.NewPingCheck(cache))
//
// # Authentication
//
// AUTH_MODE=dev reads X-Dev-User-Id, AUTH_MODE=trusted_header reads
// X-Telegram-User-Id set by a verifying gateway:
//
//	auth, err := handlers.NewAuthenticator(cfg.HTTP.AuthMode)
package handlers
