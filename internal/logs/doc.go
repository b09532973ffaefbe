// Package logs reads the daemon's mediaforge.log for the CLI.
//
// Tail returns the last N lines, or everything after a byte offset, with an
// optional substring filter so a single job or conversation can be followed
// by id. Follow polls for appended lines until its context is cancelled.
package logs
