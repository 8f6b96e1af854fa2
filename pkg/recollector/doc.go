/*
Package recollector pre-computes a session's top-K recollection "bites"
whenever the tailer observes a new, caught-up user message: a topic gate
to skip re-computation on an unchanged subject, a four-way Reciprocal
Rank Fusion over BM25/vector/recency/access-count
ranks, an importance bonus, and a similarity floor before the result is
written atomically to the session's recollection file.
*/
package recollector
