package coverage

import (
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// HashesToQR creates a QR code PNG encoding the given container
// digests, one per line.
func HashesToQR(hashes []string, size int) ([]byte, error) {
	normalized := make([]string, 0, len(hashes))
	for _, h := range hashes {
		if s := sanitizeHash(h); s != "" {
			normalized = append(normalized, s)
		}
	}
	if len(normalized) == 0 {
		return nil, fmt.Errorf("no container digests to encode")
	}
	if size <= 0 {
		size = 128
	}
	return qrcode.Encode(strings.Join(normalized, "\n"), qrcode.Medium, size)
}

func sanitizeHash(hash string) string {
	upper := strings.ToUpper(strings.TrimSpace(hash))
	if upper == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range upper {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'F':
			b.WriteRune(r)
		}
	}
	return b.String()
}
