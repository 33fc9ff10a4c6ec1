package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var ErrNoSigningKey = errors.New("signing key not configured")

// SigningKeyConfig is the JSON shape of DISCOVERY_SIGNING_KEY and of each
// DISCOVERY_PREVIOUS_KEYS element.
type SigningKeyConfig struct {
	ID         string `json:"id"`
	PrivateKey string `json:"privateKey"`
}

type keyPair struct {
	id   string
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// KeyStore holds the current signing key and every key published for
// verification. Read-only after load.
type KeyStore struct {
	current keyPair
	all     []keyPair
}

// decodeKeyPair imports one configured key. The base64 payload must decode
// to a 32-byte seed or a 64-byte seed-plus-public blob; for a 64-byte blob
// the embedded public half must match the seed.
func decodeKeyPair(cfg SigningKeyConfig) (keyPair, error) {
	if cfg.ID == "" {
		return keyPair{}, errors.New("signing key is missing an id")
	}
	raw, err := base64.StdEncoding.DecodeString(cfg.PrivateKey)
	if err != nil {
		return keyPair{}, fmt.Errorf("key %q: decode private key: %w", cfg.ID, err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		priv := ed25519.NewKeyFromSeed(raw)
		return keyPair{id: cfg.ID, priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
	case ed25519.PrivateKeySize:
		priv := ed25519.PrivateKey(raw)
		derived := ed25519.NewKeyFromSeed(priv.Seed())
		if !derived.Equal(priv) {
			return keyPair{}, fmt.Errorf("key %q: public half does not match seed", cfg.ID)
		}
		return keyPair{id: cfg.ID, priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
	default:
		return keyPair{}, fmt.Errorf("key %q: private key must be 32 or 64 bytes, got %d", cfg.ID, len(raw))
	}
}

// LoadKeyStore parses the current key JSON and the optional previous-keys
// JSON array. Previous keys appear in the JWKS only.
func LoadKeyStore(currentJSON, previousJSON string) (*KeyStore, error) {
	if currentJSON == "" {
		return nil, ErrNoSigningKey
	}
	var cfg SigningKeyConfig
	if err := json.Unmarshal([]byte(currentJSON), &cfg); err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	current, err := decodeKeyPair(cfg)
	if err != nil {
		return nil, err
	}
	ks := &KeyStore{current: current, all: []keyPair{current}}

	if previousJSON != "" {
		var prev []SigningKeyConfig
		if err := json.Unmarshal([]byte(previousJSON), &prev); err != nil {
			return nil, fmt.Errorf("parse previous keys: %w", err)
		}
		for _, c := range prev {
			kp, err := decodeKeyPair(c)
			if err != nil {
				return nil, err
			}
			ks.all = append(ks.all, kp)
		}
	}
	return ks, nil
}

// CurrentKeyID returns the kid used for newly minted tokens.
func (s *KeyStore) CurrentKeyID() string { return s.current.id }

// PublicKey returns the raw public bytes for kid, for verification.
func (s *KeyStore) PublicKey(kid string) (ed25519.PublicKey, bool) {
	for _, kp := range s.all {
		if kp.id == kid {
			return kp.pub, true
		}
	}
	return nil, false
}

// Provider loads a KeyStore lazily on first use and caches the result.
// Safe for concurrent readers.
type Provider struct {
	currentJSON  string
	previousJSON string

	once sync.Once
	ks   *KeyStore
	err  error
}

func NewProvider(currentJSON, previousJSON string) *Provider {
	return &Provider{currentJSON: currentJSON, previousJSON: previousJSON}
}

// Get returns the loaded key store, loading it on the first call.
func (p *Provider) Get() (*KeyStore, error) {
	p.once.Do(func() {
		p.ks, p.err = LoadKeyStore(p.currentJSON, p.previousJSON)
	})
	return p.ks, p.err
}
