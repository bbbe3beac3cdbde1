package codec

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// DecodeHex parses a frame written as hex. Separators commonly found in logs
// and terminal dumps (spaces, '|', '_', ':') and a leading 0x are ignored.
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '|', '_', ':':
			return -1
		}
		return r
	}, s)
	if len(clean)%2 != 0 {
		return nil, fmt.Errorf("hex string has odd length %d", len(clean))
	}
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	return b, nil
}
