// Package admission implements the sliding-window request limiter that sits in
// front of the HTTP API.
//
// Each client is charged against a trailing window of Limit requests per
// Window. The memory backend keeps per-client timestamps behind a mutex; the
// redis backend keeps one sorted set per client and does the check-and-record
// in a single Lua script so several daemons can share one budget. Backend
// failures admit the request and log a warning.
package admission
