/*
Package filelock implements a cross-process advisory lock: exclusive file
creation as the acquisition primitive, a per-acquisition token used to
tell a live owner apart from a stale one, and guaranteed release on every
exit path including panic.

This is deliberately not built on a generic flock(2)-style library
(gofrs/flock, for instance, only models kernel advisory locks — it has no
notion of "is the recorded owner still alive" or "does this file still
hold my token"). Both of those are load-bearing for stale-lock reclaim
and safe release, so the acquire/retry/reclaim loop is hand-rolled
against os.OpenFile with O_EXCL, in the same style used elsewhere in this
repo for os-level primitives.
*/
package filelock
