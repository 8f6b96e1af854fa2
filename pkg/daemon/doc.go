/*
Package daemon wires every other package into the long-lived Engram
process described by this package: it acquires the PID guard, opens the
store and state store, discovers existing session transcripts and spawns
a Tailer per session, watches the transcripts root for new ones, listens
on the UDS message bus, and runs the periodic maintenance and
consolidation passes until a shutdown signal arrives.
*/
package daemon
