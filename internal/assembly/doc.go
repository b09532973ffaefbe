// Package assembly stitches independently rendered clips into one output with
// ffmpeg.
//
// Sequential assembly either concatenates clips losslessly through the concat
// demuxer or, with transitions enabled, re-encodes through an xfade/acrossfade
// filter chain whose offsets come from ComputeOffsets. Grid assembly stacks two
// or four clips side by side, top to bottom, or in a 2x2 grid.
//
// Inputs are validated before ffmpeg runs: the clip list must be non-empty,
// every clip must be readable, and a crossfade must be shorter than the
// shortest clip. Unknown durations are probed with ffprobe. When a crossfade
// render fails the assembler can fall back to plain concatenation, governed by
// assembly.fallback_to_concat; the Result records when that happened.
//
// The ffmpeg Runner and duration Prober are injectable so the argument building
// is testable without media binaries.
package assembly
