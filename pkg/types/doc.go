/*
Package types defines the core data structures used throughout Engram.

This package contains the fundamental types that represent Engram's memory
model: chunks indexed from memory documents, episodes distilled from
conversation transcripts, the embedding cache, per-session tailer state, and
the pre-computed recollection bites served to a host assistant. These types
are shared by the store, retriever, recollector, extractor, consolidator,
and tailer packages; none of them hold package-level state of their own.

# Scope and Layer

Every piece of indexed content carries a Layer: Global content lives under
~/.claude-memory and is visible to every project; Project content is scoped
to one project directory and carries a non-nil project name. Episode uses
the same split via its Scope field: scope "project" carries a non-null
project, scope "global" a null one. The Extractor's candidate validation
establishes this before an episode is written; the store layer does not
check it.
*/
package types
