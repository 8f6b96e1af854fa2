/*
Package scoring collects the pure math the Retriever and Recollector both
need: cosine similarity, Jaccard
token overlap, min-max normalization, exponential temporal decay,
Reciprocal Rank Fusion, and greedy MMR re-ranking. Keeping it here instead
of duplicating it in both packages avoids drift — the formulas are
identical in both call sites.
*/
package scoring
