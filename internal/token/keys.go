// Package token implements the capability token codec for the SignCast
// licensing service. Tokens are RS256-signed JWTs whose claims assert a
// device's license, plan, app type, and feature entitlement.
package token

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"

	"signcast/internal/config"
)

// KeyProvider holds the asymmetric signing key pair. It is constructed once
// at process start and read-only thereafter; key rotation requires a full
// restart.
type KeyProvider struct {
	private *rsa.PrivateKey
	public  *rsa.PublicKey
}

// NewKeyProvider loads the RSA key pair configured in cfg. When no paths are
// configured it generates an ephemeral 2048-bit pair, which is only suitable
// for development because tokens do not survive a restart.
func NewKeyProvider(cfg config.SigningConfig) (*KeyProvider, error) {
	if cfg.PrivateKeyPath == "" {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ephemeral signing key: %w", err)
		}
		return &KeyProvider{private: key, public: &key.PublicKey}, nil
	}

	privPEM, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	priv, err := jwt.ParseRSAPrivateKeyFromPEM(privPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	pubPEM, err := os.ReadFile(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(pubPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	if priv.PublicKey.N.Cmp(pub.N) != 0 {
		return nil, fmt.Errorf("public key does not match private key")
	}

	return &KeyProvider{private: priv, public: pub}, nil
}

// NewEphemeralKeyProvider generates an in-memory key pair for tests
func NewEphemeralKeyProvider() (*KeyProvider, error) {
	return NewKeyProvider(config.SigningConfig{})
}

// PrivateKey returns the signing key
func (p *KeyProvider) PrivateKey() *rsa.PrivateKey {
	return p.private
}

// PublicKey returns the verification key
func (p *KeyProvider) PublicKey() *rsa.PublicKey {
	return p.public
}
