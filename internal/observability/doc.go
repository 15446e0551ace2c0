// Package observability builds the service's zap logger and scopes it to
// individual requests.
package observability
