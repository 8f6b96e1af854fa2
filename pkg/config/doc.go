/*
Package config resolves Engram's environment and filesystem layout into a
single Config struct consumed by pkg/daemon.

Defaults follow the documented filesystem layout under ~/.claude-memory/;
every value can be overridden for tests via Config fields rather than by
re-reading the environment, mirroring how a config struct is built once at
startup and threaded through by value.
*/
package config
