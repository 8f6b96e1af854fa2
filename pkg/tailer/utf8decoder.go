package tailer

// splitCompleteUTF8 separates a byte-aligned-but-possibly-UTF8-unaligned
// chunk read from a growing file into the portion safe to decode now and
// a trailing remainder that must be prefixed onto the next read, per
// the "stream-decoder that holds back incomplete multi-byte
// sequences" requirement. It only needs to inspect the last 3 bytes: the
// longest incomplete UTF-8 sequence is 3 bytes of a 4-byte rune.
func splitCompleteUTF8(buf []byte) (complete, pending []byte) {
	n := len(buf)
	lookback := 3
	if n < lookback {
		lookback = n
	}

	for i := 1; i <= lookback; i++ {
		b := buf[n-i]
		switch {
		case b&0x80 == 0: // ASCII byte: no sequence in progress, stop scanning
			return buf, nil
		case b&0xC0 == 0x80: // continuation byte, keep scanning backward
			continue
		case b&0xE0 == 0xC0: // 2-byte sequence lead
			if i < 2 {
				return buf[:n-i], buf[n-i:]
			}
			return buf, nil
		case b&0xF0 == 0xE0: // 3-byte sequence lead
			if i < 3 {
				return buf[:n-i], buf[n-i:]
			}
			return buf, nil
		case b&0xF8 == 0xF0: // 4-byte sequence lead
			return buf[:n-i], buf[n-i:] // i is always < 4 here since lookback caps at 3
		default:
			return buf, nil
		}
	}
	return buf, nil
}
