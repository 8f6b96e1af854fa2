/*
Package extractor drives the LLM-based summary→episode pipeline: call
the external LLM with a fixed-schema prompt, validate and clamp its
response, then upsert each candidate against a once-per-batch snapshot
of compatible existing episodes — merging into a near-duplicate
(cosine > 0.92) rather than inserting a new row.
*/
package extractor
