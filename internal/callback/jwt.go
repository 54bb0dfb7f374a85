// Package callback delivers a completed SourcingRequest's results to the
// caller-supplied webhook, signed with an RS256 service-to-service JWT in
// the reference stack's internal/auth token style generalized from its
// one-audience token to this core's signal→vantahire scope.
package callback

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenIssuer   = "signal"
	tokenAudience = "vantahire"
	tokenSubject  = "sourcing"
	tokenScope    = "callbacks:write"
	tokenTTL      = 5 * time.Minute
)

// Signer mints short-lived RS256 bearer tokens for callback delivery. The
// private key is parsed on the first Sign and cached for later calls.
type Signer struct {
	mu         sync.RWMutex
	key        *rsa.PrivateKey
	kid        string
	rawPEMOrB64 string
}

// NewSigner builds a Signer against a PEM-or-base64-encoded RSA private key
// and the key id to stamp into each token's header.
func NewSigner(pemOrBase64, kid string) *Signer {
	return &Signer{rawPEMOrB64: pemOrBase64, kid: kid}
}

func (s *Signer) load() (*rsa.PrivateKey, error) {
	s.mu.RLock()
	if s.key != nil {
		k := s.key
		s.mu.RUnlock()
		return k, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != nil {
		return s.key, nil
	}

	raw := []byte(s.rawPEMOrB64)
	block, _ := pem.Decode(raw)
	if block == nil {
		decoded, err := base64.StdEncoding.DecodeString(s.rawPEMOrB64)
		if err != nil {
			return nil, fmt.Errorf("signal jwt private key is neither PEM nor base64: %w", err)
		}
		block, _ = pem.Decode(decoded)
		if block == nil {
			return nil, fmt.Errorf("signal jwt private key did not decode to a PEM block")
		}
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		keyAny, err2 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err2 != nil {
			return nil, fmt.Errorf("parse signal jwt private key: %w / %w", err, err2)
		}
		rsaKey, ok := keyAny.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("signal jwt private key is not an RSA key")
		}
		key = rsaKey
	}

	s.key = key
	return key, nil
}

type claims struct {
	TenantID  string `json:"tenant_id"`
	RequestID string `json:"request_id"`
	Scopes    string `json:"scopes"`
	jwt.RegisteredClaims
}

// Sign mints a 5-minute RS256 bearer token scoped to one tenant+request.
func (s *Signer) Sign(tenantID, requestID string) (string, error) {
	key, err := s.load()
	if err != nil {
		return "", err
	}

	now := time.Now()
	c := claims{
		TenantID:  tenantID,
		RequestID: requestID,
		Scopes:    tokenScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
			Subject:   tokenSubject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, c)
	token.Header["kid"] = s.kid
	return token.SignedString(key)
}
