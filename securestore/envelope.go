package securestore

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/s2"
)

const envelopeVersion = 1

const (
	codecJSON   = "json"
	codecBinary = "binary"
)

const (
	flagCompressed byte = 1 << iota
	flagExpires
)

// envelope is the persisted record. Timestamps are Unix milliseconds.
type envelope struct {
	Version    int    `json:"v"`
	Codec      string `json:"c"`
	Compressed bool   `json:"z,omitempty"`
	Ciphertext []byte `json:"d"`
	Timestamp  int64  `json:"ts"`
	Expiration int64  `json:"exp,omitempty"`
	Checksum   []byte `json:"mac"`
}

var (
	errChecksum = errors.New("checksum mismatch")
	errCorrupt  = errors.New("corrupt record")
)

func (e *envelope) flags() byte {
	var f byte
	if e.Compressed {
		f |= flagCompressed
	}
	if e.Expiration > 0 {
		f |= flagExpires
	}
	return f
}

// checksum is HMAC-SHA256 over key ‖ ciphertext ‖ timestamp ‖ expiration ‖ flags.
// Lengths are prefixed so field boundaries cannot shift.
func (e *envelope) checksum(macKey []byte, key string) []byte {
	h := hmac.New(sha256.New, macKey)
	var n [8]byte

	binary.BigEndian.PutUint64(n[:], uint64(len(key)))
	h.Write(n[:])
	h.Write([]byte(key))
	binary.BigEndian.PutUint64(n[:], uint64(len(e.Ciphertext)))
	h.Write(n[:])
	h.Write(e.Ciphertext)
	binary.BigEndian.PutUint64(n[:], uint64(e.Timestamp))
	h.Write(n[:])
	binary.BigEndian.PutUint64(n[:], uint64(e.Expiration))
	h.Write(n[:])
	h.Write([]byte{byte(e.Version), e.flags()})
	h.Write([]byte(e.Codec))
	return h.Sum(nil)
}

func (e *envelope) verify(macKey []byte, key string) bool {
	return hmac.Equal(e.Checksum, e.checksum(macKey, key))
}

func marshalEnvelope(e *envelope) ([]byte, error) {
	return json.Marshal(e)
}

func unmarshalEnvelope(raw []byte) (*envelope, error) {
	var e envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, errors.Join(errCorrupt, err)
	}
	if e.Version != envelopeVersion || len(e.Checksum) != sha256.Size {
		return nil, errCorrupt
	}
	return &e, nil
}

// serialize picks the binary form when the value provides one.
func serialize(value any) ([]byte, string, error) {
	if m, ok := value.(encoding.BinaryMarshaler); ok {
		b, err := m.MarshalBinary()
		return b, codecBinary, err
	}
	b, err := json.Marshal(value)
	return b, codecJSON, err
}

func deserialize(data []byte, codec string, dst any) error {
	switch codec {
	case codecBinary:
		u, ok := dst.(encoding.BinaryUnmarshaler)
		if !ok {
			return fmt.Errorf("%w: %T cannot decode binary record", errCorrupt, dst)
		}
		return u.UnmarshalBinary(data)
	case codecJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		return dec.Decode(dst)
	default:
		return fmt.Errorf("%w: unknown codec %q", errCorrupt, codec)
	}
}

func compress(data []byte, threshold int) ([]byte, bool) {
	if threshold <= 0 || len(data) < threshold {
		return data, false
	}
	out := s2.Encode(nil, data)
	if len(out) >= len(data) {
		return data, false
	}
	return out, true
}

func decompress(data []byte) ([]byte, error) {
	out, err := s2.Decode(nil, data)
	if err != nil {
		return nil, errors.Join(errCorrupt, err)
	}
	return out, nil
}

// seal encrypts with AES-256-GCM and returns nonce ‖ ciphertext ‖ tag.
func seal(dataKey []byte, key string, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(dataKey)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, []byte(key)), nil
}

func open(dataKey []byte, key string, sealed []byte) ([]byte, error) {
	aead, err := newAEAD(dataKey)
	if err != nil {
		return nil, err
	}
	ns := aead.NonceSize()
	if len(sealed) < ns+aead.Overhead() {
		return nil, errCorrupt
	}
	out, err := aead.Open(nil, sealed[:ns], sealed[ns:], []byte(key))
	if err != nil {
		return nil, errors.Join(errCorrupt, err)
	}
	return out, nil
}

func newAEAD(dataKey []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
