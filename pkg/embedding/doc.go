/*
Package embedding implements the EmbeddingProvider contract: map strings
to fixed-dimension float vectors, cached by content hash, falling
through a local-first/remote-fallback provider chain.

The actual embedding models (a local GGUF runtime, a remote HTTP API) are
out-of-scope external collaborators — this package only defines the
client seam (ModelClient), which the small HTTP-backed HTTPClient
satisfies, plus the caching and fallback policy around it.
*/
package embedding
