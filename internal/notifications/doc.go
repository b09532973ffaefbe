// Package notifications publishes pipeline progress events.
//
// The default implementation posts to ntfy using the topic configured in
// config.toml and degrades to a no-op when no topic is set. Publishing is best
// effort: callers log failures and carry on, so a broken feed never fails a
// job. Per-stage milestone events are suppressed unless
// notifications.stage_events is enabled.
package notifications
