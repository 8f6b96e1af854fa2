/*
Package store owns the single SQLite connection: opening it in WAL mode
with a busy timeout, running forward-only migrations under an EXCLUSIVE
transaction, and exposing query methods over chunks, episodes, the
embedding cache, and registered projects.

The package has a single concrete Store type and no interface over it;
consuming packages declare the narrow interfaces they need. It uses
SQLite tables plus FTS5 external-content virtual tables rather than a
bucket-of-blobs model, because the retriever needs a real lexical
ranking function (bm25) that a key-value store can't give it.
*/
package store
