// Package config loads, normalizes, and validates mediaforge configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// MEDIAFORGE_API_TOKEN and MEDIAFORGE_POSTGRES_URL. The Config type centralizes
// every knob the daemon and CLI need, so the store backend, admission limits,
// assembly binaries, and collaborator endpoints are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical backend names, and clear validation errors.
package config
