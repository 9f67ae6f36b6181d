package fingerprint

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

const separator = "|"

// Environment holds the raw characteristics a fingerprint is computed from.
type Environment struct {
	UserAgent string `json:"user_agent"`
	Screen    string `json:"screen"`
	Timezone  string `json:"timezone"`
	Language  string `json:"language"`
	Platform  string `json:"platform"`
}

// Fingerprint is an Environment plus its hash. Hash is a pure function of the
// other fields.
type Fingerprint struct {
	UserAgent string `json:"user_agent"`
	Screen    string `json:"screen"`
	Timezone  string `json:"timezone"`
	Language  string `json:"language"`
	Platform  string `json:"platform"`
	Hash      string `json:"hash"`
}

// Generate computes the fingerprint for env. Identical environments always
// yield identical hashes.
func Generate(env Environment) Fingerprint {
	env = normalize(env)
	return Fingerprint{
		UserAgent: env.UserAgent,
		Screen:    env.Screen,
		Timezone:  env.Timezone,
		Language:  env.Language,
		Platform:  env.Platform,
		Hash:      hashEnvironment(env),
	}
}

// Environment returns the characteristics the fingerprint was built from.
func (f Fingerprint) Environment() Environment {
	return Environment{
		UserAgent: f.UserAgent,
		Screen:    f.Screen,
		Timezone:  f.Timezone,
		Language:  f.Language,
		Platform:  f.Platform,
	}
}

// IsZero reports whether f carries no hash.
func (f Fingerprint) IsZero() bool {
	return f.Hash == ""
}

// Equal compares hashes in constant time.
func (f Fingerprint) Equal(other Fingerprint) bool {
	if f.Hash == "" || other.Hash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(f.Hash), []byte(other.Hash)) == 1
}

// Valid reports whether Hash still matches the other fields.
func (f Fingerprint) Valid() bool {
	return f.Equal(Generate(f.Environment()))
}

// HashBytes returns the raw digest for use as key material. A malformed hash
// yields nil.
func (f Fingerprint) HashBytes() []byte {
	raw, err := hex.DecodeString(f.Hash)
	if err != nil {
		return nil
	}
	return raw
}

func normalize(env Environment) Environment {
	return Environment{
		UserAgent: strings.TrimSpace(env.UserAgent),
		Screen:    strings.TrimSpace(env.Screen),
		Timezone:  strings.TrimSpace(env.Timezone),
		Language:  strings.ToLower(strings.TrimSpace(env.Language)),
		Platform:  strings.TrimSpace(env.Platform),
	}
}

func hashEnvironment(env Environment) string {
	// Field order is part of the hash format.
	combined := strings.Join([]string{
		"v1",
		env.UserAgent,
		env.Screen,
		env.Timezone,
		env.Language,
		env.Platform,
	}, separator)
	sum := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(sum[:])
}
