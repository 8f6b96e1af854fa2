/*
Package uds implements the Daemon's cross-process message bus: a UNIX
domain socket accepting one JSON object per line, discriminated by an
"event" field. Known events are "flush", "recollect", and "ping";
anything else is silently ignored so older clients and newer
daemons stay compatible without a shared schema version.
*/
package uds
