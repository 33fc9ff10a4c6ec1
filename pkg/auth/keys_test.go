package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"testing"
)

func generateKeyConfig(t *testing.T, id string, seedOnly bool) (SigningKeyConfig, ed25519.PublicKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	raw := []byte(priv)
	if seedOnly {
		raw = priv.Seed()
	}
	return SigningKeyConfig{
		ID:         id,
		PrivateKey: base64.StdEncoding.EncodeToString(raw),
	}, pub
}

func keyJSON(t *testing.T, cfg SigningKeyConfig) string {
	t.Helper()
	b, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal key config: %v", err)
	}
	return string(b)
}

func TestLoadKeyStoreSeedAndFullKey(t *testing.T) {
	tests := []struct {
		name     string
		seedOnly bool
	}{
		{"32-byte seed", true},
		{"64-byte seed plus public", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, pub := generateKeyConfig(t, "key-1", tt.seedOnly)
			ks, err := LoadKeyStore(keyJSON(t, cfg), "")
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if ks.CurrentKeyID() != "key-1" {
				t.Errorf("kid = %q", ks.CurrentKeyID())
			}
			got, ok := ks.PublicKey("key-1")
			if !ok || !pub.Equal(got) {
				t.Error("public key does not match generated key")
			}
		})
	}
}

func TestLoadKeyStoreRejectsBadInput(t *testing.T) {
	valid, _ := generateKeyConfig(t, "k", true)
	tests := []struct {
		name string
		json string
	}{
		{"empty", ""},
		{"not json", "{"},
		{"missing id", keyJSON(t, SigningKeyConfig{PrivateKey: valid.PrivateKey})},
		{"bad base64", `{"id":"k","privateKey":"!!!"}`},
		{"wrong length", `{"id":"k","privateKey":"` + base64.StdEncoding.EncodeToString(make([]byte, 16)) + `"}`},
		{"mismatched public half", mismatchedKeyJSON(t)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadKeyStore(tt.json, ""); err == nil {
				t.Error("expected load error")
			}
		})
	}
}

// mismatchedKeyJSON builds a 64-byte blob whose public half belongs to a
// different key.
func mismatchedKeyJSON(t *testing.T) string {
	t.Helper()
	_, priv1, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	pub2, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	blob := append(append([]byte{}, priv1.Seed()...), pub2...)
	return keyJSON(t, SigningKeyConfig{
		ID:         "bad",
		PrivateKey: base64.StdEncoding.EncodeToString(blob),
	})
}

func TestLoadKeyStorePreviousKeys(t *testing.T) {
	current, _ := generateKeyConfig(t, "key-2", true)
	previous, prevPub := generateKeyConfig(t, "key-1", false)
	prevJSON, err := json.Marshal([]SigningKeyConfig{previous})
	if err != nil {
		t.Fatalf("marshal previous: %v", err)
	}

	ks, err := LoadKeyStore(keyJSON(t, current), string(prevJSON))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ks.CurrentKeyID() != "key-2" {
		t.Errorf("current kid = %q, want key-2", ks.CurrentKeyID())
	}
	got, ok := ks.PublicKey("key-1")
	if !ok || !prevPub.Equal(got) {
		t.Error("previous key not available for verification")
	}

	jwks := ks.JWKS()
	if len(jwks.Keys) != 2 {
		t.Fatalf("jwks has %d keys, want 2", len(jwks.Keys))
	}
	if jwks.Keys[0].Kid != "key-2" {
		t.Errorf("current key not first in jwks: %q", jwks.Keys[0].Kid)
	}
	for _, k := range jwks.Keys {
		if k.Kty != "OKP" || k.Crv != "Ed25519" || k.Use != "sig" || k.Alg != "EdDSA" {
			t.Errorf("jwk fields wrong: %+v", k)
		}
		if k.X == "" {
			t.Errorf("jwk %s missing x", k.Kid)
		}
	}
}

func TestProviderLazyLoad(t *testing.T) {
	p := NewProvider("", "")
	if _, err := p.Get(); err != ErrNoSigningKey {
		t.Errorf("err = %v, want ErrNoSigningKey", err)
	}

	cfg, _ := generateKeyConfig(t, "k", true)
	p = NewProvider(keyJSON(t, cfg), "")
	ks1, err := p.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	ks2, _ := p.Get()
	if ks1 != ks2 {
		t.Error("provider reloaded instead of caching")
	}
}
