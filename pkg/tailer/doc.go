/*
Package tailer implements one SessionTailer per active JSONL transcript:
incrementally reading new bytes from a saved cursor, parsing
user/assistant turns, and triggering batched
extraction and per-message recollection as the conversation grows.
*/
package tailer
