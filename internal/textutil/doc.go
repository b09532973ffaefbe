// Package textutil sanitizes titles into filesystem-safe names for assembled
// outputs and artifact directories.
package textutil
