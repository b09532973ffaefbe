// Package apiclient is the CLI's HTTP client for the mediaforge daemon API.
//
// Non-2xx replies decode into *Error, which carries the HTTP status and the
// error kind the server assigned. IsUnavailable distinguishes a daemon that is
// not listening from one that answered with an error.
package apiclient
