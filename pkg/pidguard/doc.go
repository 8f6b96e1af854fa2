/*
Package pidguard enforces a single-daemon-per-user invariant: acquiring
the guard exclusively creates a PID file recording the owning process and
the file's creation time, so a second daemon launch reliably refuses to
start rather than corrupting shared state.

Reclaim is conservative: a PID file is only removed when its recorded
process is provably dead, or it is old enough (MAX_AGE_DAYS) to suggest PID
reuse. An EPERM while probing liveness is treated the same as "alive" —
the same stance a health monitor takes when it can't signal a process it
doesn't own.
*/
package pidguard
