package broadcast

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	minSignerKeyLength = 32
	defaultSignerTTL   = time.Minute
	defaultIssuer      = "sessionguard"
)

// SignerConfig configures HS256 event signing.
type SignerConfig struct {
	Key    []byte
	Issuer string
	// TTL bounds how long a signed event is accepted after it was sent.
	TTL   time.Duration
	KeyID string
	// Leeway tolerates clock skew between contexts.
	Leeway time.Duration
}

// Signer signs and verifies events as compact JWTs.
type Signer struct {
	config SignerConfig
}

type eventClaims struct {
	Event Event `json:"evt"`
	jwt.RegisteredClaims
}

// NewSigner validates cfg.
func NewSigner(cfg SignerConfig) (*Signer, error) {
	if len(cfg.Key) < minSignerKeyLength {
		return nil, fmt.Errorf("broadcast: signer key must be at least %d bytes", minSignerKeyLength)
	}
	if cfg.TTL == 0 {
		cfg.TTL = defaultSignerTTL
	}
	if cfg.TTL < 0 {
		return nil, errors.New("broadcast: invalid signer TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("broadcast: invalid signer leeway")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	return &Signer{config: cfg}, nil
}

// Sign returns the token for ev.
func (s *Signer) Sign(ev Event) (string, error) {
	claims := eventClaims{
		Event: ev,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ev.ID,
			Subject:   ev.SessionID,
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(ev.SentAt),
			ExpiresAt: jwt.NewNumericDate(ev.SentAt.Add(s.config.TTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if s.config.KeyID != "" {
		token.Header["kid"] = s.config.KeyID
	}
	return token.SignedString(s.config.Key)
}

// Verify parses token and returns the event it carries. Any signature, issuer,
// expiry or shape failure yields ErrInvalidSignature.
func (s *Signer) Verify(token string) (Event, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.config.Issuer),
		jwt.WithExpirationRequired(),
	}
	if s.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(s.config.Leeway))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(token, &eventClaims{}, func(t *jwt.Token) (interface{}, error) {
		if s.config.KeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != s.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return s.config.Key, nil
	})
	if err != nil {
		return Event{}, errors.Join(ErrInvalidSignature, err)
	}

	claims, ok := parsed.Claims.(*eventClaims)
	if !ok || !parsed.Valid {
		return Event{}, ErrInvalidSignature
	}
	if claims.Subject != claims.Event.SessionID || claims.ID != claims.Event.ID {
		return Event{}, ErrInvalidSignature
	}
	if err := claims.Event.Validate(); err != nil {
		return Event{}, err
	}
	return claims.Event, nil
}
