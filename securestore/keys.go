package securestore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size of master, data and MAC keys.
	KeySize = 32

	minSaltLength = 16

	infoData = "sessionguard-securestore-v1:data"
	infoMAC  = "sessionguard-securestore-v1:mac"
)

// Argon2Params tunes passphrase stretching.
type Argon2Params struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
}

// DefaultArgon2Params returns the RFC 9106 second recommended profile.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
	}
}

func (p Argon2Params) validate() error {
	if p.Memory < 8*1024 {
		return fmt.Errorf("%w: argon2 memory must be >= 8192 KiB", ErrInvalidConfig)
	}
	if p.Time < 1 {
		return fmt.Errorf("%w: argon2 time must be >= 1", ErrInvalidConfig)
	}
	if p.Parallelism < 1 {
		return fmt.Errorf("%w: argon2 parallelism must be >= 1", ErrInvalidConfig)
	}
	return nil
}

// Keys holds the derived encryption and MAC keys for a store.
type Keys struct {
	data []byte
	mac  []byte
}

// DeriveKeys expands a 32-byte master key into independent data and MAC keys
// with HKDF-SHA256. A non-empty binding (for example a fingerprint hash) is
// used as the HKDF salt, so records written under one binding cannot be read
// under another.
func DeriveKeys(master, binding []byte) (Keys, error) {
	if len(master) != KeySize {
		return Keys{}, fmt.Errorf("%w: master key must be %d bytes", ErrInvalidKeyMaterial, KeySize)
	}

	data, err := expand(master, binding, infoData)
	if err != nil {
		return Keys{}, err
	}
	mac, err := expand(master, binding, infoMAC)
	if err != nil {
		return Keys{}, err
	}
	return Keys{data: data, mac: mac}, nil
}

// KeysFromPassphrase stretches passphrase with Argon2id and derives keys from
// the result. The salt must be stable across restarts for data to stay readable.
func KeysFromPassphrase(passphrase string, salt []byte, params Argon2Params, binding []byte) (Keys, error) {
	if passphrase == "" {
		return Keys{}, fmt.Errorf("%w: empty passphrase", ErrInvalidKeyMaterial)
	}
	if len(salt) < minSaltLength {
		return Keys{}, fmt.Errorf("%w: salt must be at least %d bytes", ErrInvalidKeyMaterial, minSaltLength)
	}
	if err := params.validate(); err != nil {
		return Keys{}, err
	}

	master := argon2.IDKey([]byte(passphrase), salt, params.Time, params.Memory, params.Parallelism, KeySize)
	defer clear(master)
	return DeriveKeys(master, binding)
}

// Valid reports whether k was produced by DeriveKeys.
func (k Keys) Valid() bool {
	return len(k.data) == KeySize && len(k.mac) == KeySize
}

func expand(master, salt []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, master, salt, []byte(info))
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, errors.Join(ErrKeyDerivationFailed, err)
	}
	return out, nil
}

// GenerateMasterKey returns a fresh random master key.
func GenerateMasterKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// ParseMasterKey decodes a base64 (standard or URL alphabet) master key.
func ParseMasterKey(encoded string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding,
		base64.URLEncoding, base64.RawURLEncoding,
	} {
		key, err := enc.DecodeString(encoded)
		if err == nil && len(key) == KeySize {
			return key, nil
		}
	}
	return nil, fmt.Errorf("%w: expected base64 encoded %d byte key", ErrInvalidKeyMaterial, KeySize)
}
