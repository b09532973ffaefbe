// Package api serves the mediaforge HTTP surface and defines its wire types.
//
// Routes are registered on a Go 1.22 pattern mux. Every route sits behind the
// admission middleware; routes under /api also require the bearer token when
// api.token is set. Errors from the orchestrators are mapped to status codes
// in one place (statusFor) so handlers never pick codes themselves.
//
// The same request and response types are decoded by the apiclient package,
// which the mediaforge CLI uses to talk to the daemon.
package api
