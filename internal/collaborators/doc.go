// Package collaborators defines the request/response contracts of the external
// producers the orchestrators depend on and ships an HTTP JSON client that
// implements them.
//
// Producers cover script text, scene images, speech synthesis, avatar clip
// rendering, and multi-actor dialogue. The core treats each as a black box whose
// latency is unbounded and whose calls may fail; the Client owns the retry
// policy (bounded attempts with exponential backoff on 408/429/5xx and network
// timeouts) so orchestrators never retry on their own.
//
// ArticleFetcher pulls readable text from a source URL with goquery so jobs
// created from a link can be scripted from the article body.
package collaborators
