/*
Package statestore persists per-session tailer cursor state: byte
offsets, rolling summaries, and extraction timestamps, as a single JSON
document with debounced, atomic writes.

The load path tolerates a corrupt or partially-written document: each
field is coerced to a safe default rather than failing the whole load, and
a sibling.tmp file is tried as a recovery path before starting fresh.
*/
package statestore
