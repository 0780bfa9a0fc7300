package events

import (
	"encoding/binary"
	"fmt"
)

const wordSize = 32

// wordToInt converts one 32-byte big-endian ABI word into an int,
// rejecting values too large to address a log payload.
func wordToInt(word []byte) (int, bool) {
	for _, b := range word[:wordSize-4] {
		if b != 0 {
			return 0, false
		}
	}
	v := binary.BigEndian.Uint32(word[wordSize-4:])
	if v > 1<<30 {
		return 0, false
	}
	return int(v), true
}

// decodeDynamicBytes unpacks n ABI-encoded dynamic `bytes` fields from a
// log data segment (standard head/tail layout: n offset words, each
// pointing at a length word followed by the padded payload). Every
// offset and length is bounds-checked so a malformed tuple surfaces as
// an error instead of an out-of-range read.
func decodeDynamicBytes(data []byte, n int) ([][]byte, error) {
	if len(data) < n*wordSize {
		return nil, fmt.Errorf("data segment too short: %d bytes for %d fields", len(data), n)
	}

	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		offset, ok := wordToInt(data[i*wordSize : (i+1)*wordSize])
		if !ok || offset+wordSize > len(data) {
			return nil, fmt.Errorf("field %d: offset out of range", i)
		}
		length, ok := wordToInt(data[offset : offset+wordSize])
		if !ok || offset+wordSize+length > len(data) {
			return nil, fmt.Errorf("field %d: length out of range", i)
		}
		out[i] = data[offset+wordSize : offset+wordSize+length]
	}
	return out, nil
}
