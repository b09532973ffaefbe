// Package pipeline runs single-clip jobs through script, image, speech, and
// render producers.
//
// Each job walks pending -> scripting -> image_gen -> audio_gen -> video_gen
// and ends completed, queued_for_review, or failed. Every stage follows the
// same shape: take the job's lock, record that the stage began, release the
// lock, call the producer, then retake the lock to store the output. The lock
// is never held while a producer runs, so Approve and Delete stay responsive
// during long renders. A job deleted mid-stage has its run context cancelled
// and any late output discarded.
//
// Independent jobs run concurrently up to workflow.max_concurrent_jobs.
package pipeline
