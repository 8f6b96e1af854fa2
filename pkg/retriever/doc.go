/*
Package retriever implements the hybrid search pipeline: a lexical
(BM25) candidate set with a vector-only fallback, hybrid scoring,
temporal decay, and MMR diversity re-ranking to the requested
limit. The episode-retrieval variant adds a recency and
access-frequency term for agent-initiated recall.

The scoring formulas themselves live in pkg/scoring so the Recollector
(pkg/recollector) can share them without duplicating the math.
*/
package retriever
