// Package services defines shared utilities consumed by the orchestrators,
// the HTTP surface, and the external collaborator clients.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, conversation IDs, stage names, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so every failure carries a
//     taxonomy bucket (input, collaborator, state, resource) that callers can
//     test with errors.Is and the API can map to status codes.
//
// Use these helpers when wiring new stage logic so error handling and
// observability stay uniform across the pipeline.
package services
