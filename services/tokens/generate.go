package tokens

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// tokenBytes is the entropy behind every token value. 32 bytes hex-encode to
// the 64 lowercase characters embedded in WhatsApp links.
const tokenBytes = 32

func generateValue() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read token entropy: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// IsTokenValue reports whether s has the shape of an issued token: exactly 64
// lowercase hex characters. Handlers use it to reject garbage before touching
// the store.
func IsTokenValue(s string) bool {
	if len(s) != tokenBytes*2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
