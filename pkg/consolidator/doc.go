/*
Package consolidator runs the periodic graduation and compression passes
over Store.episodes: under an advisory FileLock, it
appends high-value episodes into a per-project or global MEMORY.md and
nulls the full_content of old, never-accessed, normal-importance
episodes while keeping their summary and embedding for recall.
*/
package consolidator
