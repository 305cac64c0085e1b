package tokens

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// sealedField marks a payload map as encrypted at rest. The value is the
// base64 encoding of nonce||ciphertext.
const sealedField = "$sealed"

// Sealer applies authenticated encryption (XChaCha20-Poly1305) to token
// payloads before they reach the store and opens them on every read. A nil
// *Sealer passes payloads through in clear JSON.
type Sealer struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// NewSealer builds a Sealer from a 64-hex-char key (32 bytes).
func NewSealer(keyHex string) (*Sealer, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode seal key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("seal key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts payload into its stored form. Empty payloads stay empty.
func (s *Sealer) Seal(payload map[string]any) (map[string]any, error) {
	if s == nil || len(payload) == 0 {
		return payload, nil
	}
	plain, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	box := s.aead.Seal(nonce, nonce, plain, nil)
	return map[string]any{sealedField: base64.StdEncoding.EncodeToString(box)}, nil
}

// Open decrypts a stored payload. Clear payloads pass through unchanged so a
// store populated before sealing was enabled keeps working.
func (s *Sealer) Open(payload map[string]any) (map[string]any, error) {
	if len(payload) == 0 {
		return payload, nil
	}
	raw, sealed := payload[sealedField]
	if !sealed {
		return payload, nil
	}
	if s == nil {
		return nil, errors.New("payload is sealed but no seal key is configured")
	}
	encoded, ok := raw.(string)
	if !ok {
		return nil, errors.New("sealed payload is not a string")
	}
	box, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode sealed payload: %w", err)
	}
	if len(box) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("sealed payload too short")
	}
	nonce, ciphertext := box[:chacha20poly1305.NonceSizeX], box[chacha20poly1305.NonceSizeX:]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed payload: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(plain, &out); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return out, nil
}
