/*
Package log provides structured logging for Engram using zerolog.

A single package-level Logger is configured once via Init and shared by
every component. Component loggers (WithComponent, WithSession,
WithProject) attach context fields so log lines can be filtered by the
session or project they describe without string concatenation.

Parse/validation failures (malformed JSONL lines, invalid LLM output) are
logged with metadata fields only — never the user content that triggered
them.
*/
package log
