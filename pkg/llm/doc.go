/*
Package llm defines the client seam to the external LLM used for episode
extraction — an out-of-scope collaborator whose only
specified surface is "call it with a fixed JSON-schema prompt, get
candidate memories back". HTTPClient is one concrete implementation of
that seam over a chat-completions-shaped REST endpoint.
*/
package llm
