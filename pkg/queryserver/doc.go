// Package queryserver exposes the three read operations an agent-facing
// tool layer needs — search, get, and expand — as plain Go methods over
// pkg/retriever and pkg/store. It is deliberately thin: the MCP framing
// that would normally carry these calls to a model is out of scope, so
// the methods are called in-process; pkg/uds has no event that
// dispatches to them.
package queryserver
