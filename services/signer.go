package services

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidKeyID = errors.New("invalid key id")
	ErrInvalidToken = errors.New("invalid access token")
)

// AccessClaims are the claims carried by an access token.
type AccessClaims struct {
	Groups []string `json:"groups,omitempty"`
	jwt.RegisteredClaims
}

// TokenSigner signs and verifies HS256 access tokens. The first key added is
// the default signing key; tokens name their key in the kid header.
type TokenSigner struct {
	issuer     string
	keys       map[string][]byte
	defaultKID string
}

// NewTokenSigner creates a new Signer instance
func NewTokenSigner(issuer string) *TokenSigner {
	return &TokenSigner{
		issuer: issuer,
		keys:   make(map[string][]byte),
	}
}

func (s *TokenSigner) AddKeySigner(keyID, secretKey string) {
	if keyID == "" {
		keyID = "default"
	}
	s.keys[keyID] = []byte(secretKey)
	if s.defaultKID == "" {
		s.defaultKID = keyID
	}
}

// Issuer returns the iss claim value used for signing and verification.
func (s *TokenSigner) Issuer() string { return s.issuer }

func (s *TokenSigner) Sign(claims jwt.Claims, keyID string) (string, error) {
	if keyID == "" {
		keyID = s.defaultKID
	}
	secret, ok := s.keys[keyID]
	if !ok {
		return "", ErrInvalidKeyID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = keyID

	tokenString, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// Parse verifies the signature, issuer and expiry of an access token.
func (s *TokenSigner) Parse(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			kid = s.defaultKID
		}
		secret, ok := s.keys[kid]
		if !ok {
			return nil, ErrInvalidKeyID
		}
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
