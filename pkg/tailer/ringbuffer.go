package tailer

import "github.com/cuemby/engram/pkg/types"

// ringBuffer holds the most recent messages up to a fixed capacity,
// shifting out the oldest entry once full. Used both for the 50-message
// display ring and the 100-message hard-capped extraction buffer
//.
type ringBuffer struct {
	cap int
	buf []types.Message
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{cap: capacity, buf: make([]types.Message, 0, capacity)}
}

func (r *ringBuffer) Append(m types.Message) {
	if len(r.buf) >= r.cap {
		copy(r.buf, r.buf[1:])
		r.buf = r.buf[:len(r.buf)-1]
	}
	r.buf = append(r.buf, m)
}

func (r *ringBuffer) Len() int { return len(r.buf) }

// Snapshot returns a copy of the first n messages, used to isolate an
// extraction batch from messages appended concurrently during the call.
func (r *ringBuffer) Snapshot(n int) []types.Message {
	if n > len(r.buf) {
		n = len(r.buf)
	}
	out := make([]types.Message, n)
	copy(out, r.buf[:n])
	return out
}

// DropPrefix removes the first n messages, preserving any appended after
// the snapshot was taken — the "splice exactly the
// snapshotted prefix" requirement.
func (r *ringBuffer) DropPrefix(n int) {
	if n <= 0 {
		return
	}
	if n >= len(r.buf) {
		r.buf = r.buf[:0]
		return
	}
	remaining := len(r.buf) - n
	copy(r.buf, r.buf[n:])
	r.buf = r.buf[:remaining]
}

func (r *ringBuffer) All() []types.Message {
	out := make([]types.Message, len(r.buf))
	copy(out, r.buf)
	return out
}
