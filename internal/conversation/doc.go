// Package conversation runs multi-actor dialogues: one dialogue call writes the
// script, each line is voiced and rendered as its own clip, and the clips are
// stitched in line order.
//
// A conversation moves pending -> scripting -> audio_gen -> video_gen ->
// assembling and ends completed, queued_for_review, or failed. Lines may run
// in parallel up to conversation.line_parallelism, but the stages inside one
// line stay ordered and a line's clip is only requested once its audio is
// stored. Any line failure fails the conversation and names the line and
// stage. Assembly always orders clips by sequence, never by completion order.
package conversation
