package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// Issuer and Audience are fixed for bootstrap tokens.
	Issuer   = "coral-discovery"
	Audience = "coral-colony"
)

var ErrInvalid = errors.New("invalid token")

// BootstrapClaims are the claims carried by a bootstrap token: the mesh
// hierarchy the agent is joining plus the declared intent.
type BootstrapClaims struct {
	ReefID   string `json:"reef_id"`
	ColonyID string `json:"colony_id"`
	AgentID  string `json:"agent_id"`
	Intent   string `json:"intent"`
	jwt.RegisteredClaims
}

// CreateBootstrapToken mints an EdDSA-signed JWT authorizing agentID to
// join colonyID. Returns the compact serialization and the expiry as
// seconds since epoch.
func (s *KeyStore) CreateBootstrapToken(reefID, colonyID, agentID, intent string, ttl time.Duration) (string, int64, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := BootstrapClaims{
		ReefID:   reefID,
		ColonyID: colonyID,
		AgentID:  agentID,
		Intent:   intent,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = s.current.id
	signed, err := token.SignedString(s.current.priv)
	if err != nil {
		return "", 0, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt.Unix(), nil
}

// ParseBootstrapToken verifies a token against the loaded keys, matching
// the signing key by kid.
func (s *KeyStore) ParseBootstrapToken(tokenStr string) (*BootstrapClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &BootstrapClaims{}, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		pub, ok := s.PublicKey(kid)
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return pub, nil
	}, jwt.WithValidMethods([]string{"EdDSA"}))
	if err != nil || !token.Valid {
		return nil, ErrInvalid
	}
	if claims, ok := token.Claims.(*BootstrapClaims); ok {
		return claims, nil
	}
	return nil, ErrInvalid
}
