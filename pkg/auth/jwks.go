package auth

import "encoding/base64"

// JWK is one published verification key.
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Use string `json:"use"`
	Alg string `json:"alg"`
}

// JWKS is the document served at /.well-known/jwks.json.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWKS publishes every loaded key, current first, so rotated-out keys stay
// verifiable until they are dropped from configuration.
func (s *KeyStore) JWKS() JWKS {
	keys := make([]JWK, 0, len(s.all))
	for _, kp := range s.all {
		keys = append(keys, JWK{
			Kid: kp.id,
			Kty: "OKP",
			Crv: "Ed25519",
			X:   base64.RawURLEncoding.EncodeToString(kp.pub),
			Use: "sig",
			Alg: "EdDSA",
		})
	}
	return JWKS{Keys: keys}
}
