package ledger

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// ParseQuantity decodes a JSON-RPC hex quantity such as "0x1a2b".
func ParseQuantity(s string) (uint64, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return 0, fmt.Errorf("quantity %q missing 0x prefix", s)
	}
	digits := s[2:]
	if digits == "" {
		return 0, fmt.Errorf("quantity %q has no digits", s)
	}
	n, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hex quantity %q: %w", s, err)
	}
	return n, nil
}

// FormatQuantity encodes a uint64 as a JSON-RPC hex quantity.
func FormatQuantity(n uint64) string {
	return "0x" + strconv.FormatUint(n, 16)
}

// DecodeHex decodes 0x-prefixed hex data into bytes. An empty string or
// a bare "0x" decodes to nil.
func DecodeHex(s string) ([]byte, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
	}
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return b, nil
}

// EncodeHex encodes bytes as 0x-prefixed lower-case hex.
func EncodeHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
