package securestore

import "strings"

// MaxKeyLength caps sanitized keys.
const MaxKeyLength = 128

// SanitizeKey keeps only [A-Za-z0-9_.:-] and truncates to MaxKeyLength.
// A key with nothing left is rejected with ErrInvalidKey.
func SanitizeKey(key string) (string, error) {
	var b strings.Builder
	b.Grow(min(len(key), MaxKeyLength))
	for i := 0; i < len(key) && b.Len() < MaxKeyLength; i++ {
		c := key[i]
		if keyChar(c) {
			b.WriteByte(c)
		}
	}
	if b.Len() == 0 {
		return "", ErrInvalidKey
	}
	return b.String(), nil
}

func keyChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_', c == '.', c == ':', c == '-':
		return true
	}
	return false
}
