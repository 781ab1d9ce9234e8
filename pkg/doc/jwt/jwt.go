/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package jwt wraps go-jose compact JWT signing and verification with the
// header and error semantics the protocol engine relies on.
package jwt

import (
	"crypto"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v3"
	josejwt "github.com/go-jose/go-jose/v3/jwt"
)

var (
	// ErrSignatureInvalid is returned when the token signature does not
	// verify against the provided public key.
	ErrSignatureInvalid = errors.New("signature invalid")
	// ErrIssuerMismatch is returned when the iss claim differs from the
	// expected issuer.
	ErrIssuerMismatch = errors.New("issuer mismatch")
	// ErrTokenMalformed is returned for tokens that do not parse or carry an
	// unexpected algorithm.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenExpired is returned when the exp claim has passed.
	ErrTokenExpired = errors.New("token expired")
)

// DefaultTokenTTL is applied by composers that do not set an explicit expiry.
// The expiry always ends up in the signed payload; verification never assumes
// a window of its own.
const DefaultTokenTTL = 2 * time.Hour

// Signer signs claim sets as compact JWTs. The zero default header is
// {typ: JWT, alg: <algorithm>, kid: <key id>}; per-message header overrides
// are merged on top without losing kid.
type Signer struct {
	key       crypto.PrivateKey
	keyID     string
	algorithm jose.SignatureAlgorithm
}

// NewSigner returns a Signer bound to the given private key and key id.
func NewSigner(privateKey crypto.PrivateKey, keyID string, algorithm jose.SignatureAlgorithm) *Signer {
	return &Signer{
		key:       privateKey,
		keyID:     keyID,
		algorithm: algorithm,
	}
}

// KeyID returns the signer key id embedded into the kid header.
func (s *Signer) KeyID() string {
	return s.keyID
}

// Algorithm returns the signing algorithm.
func (s *Signer) Algorithm() jose.SignatureAlgorithm {
	return s.algorithm
}

// PublicKey returns the public half of the signing key, or nil when the
// private key does not expose one.
func (s *Signer) PublicKey() crypto.PublicKey {
	if k, ok := s.key.(interface{ Public() crypto.PublicKey }); ok {
		return k.Public()
	}

	return nil
}

// Sign serializes and signs the claim set. Caller-supplied headers override
// the defaults key by key; kid is always present.
func (s *Signer) Sign(claims interface{}, headers map[string]interface{}) (string, error) {
	opts := &jose.SignerOptions{
		ExtraHeaders: map[jose.HeaderKey]interface{}{
			jose.HeaderType: "JWT",
			"kid":           s.keyID,
		},
	}

	for k, v := range headers {
		opts.ExtraHeaders[jose.HeaderKey(k)] = v
	}

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: s.algorithm, Key: s.key}, opts)
	if err != nil {
		return "", fmt.Errorf("create jose signer: %w", err)
	}

	raw, err := josejwt.Signed(signer).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("sign claims: %w", err)
	}

	return raw, nil
}

// Verified is a decoded and signature-checked token.
type Verified struct {
	Header jose.Header
	Claims map[string]interface{}
}

// Verify decodes the compact token, checks its signature against publicKey
// and its iss claim against expectedIssuer. No partially-trusted payload is
// returned on failure.
func Verify(
	rawToken string,
	expectedIssuer string,
	publicKey crypto.PublicKey,
	algorithm jose.SignatureAlgorithm,
	now time.Time,
) (*Verified, error) {
	parsed, err := josejwt.ParseSigned(rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	}

	if len(parsed.Headers) != 1 {
		return nil, fmt.Errorf("%w: expected a single signature", ErrTokenMalformed)
	}

	header := parsed.Headers[0]

	if header.Algorithm != string(algorithm) {
		return nil, fmt.Errorf("%w: unexpected algorithm %q", ErrTokenMalformed, header.Algorithm)
	}

	var claims map[string]interface{}
	if err = parsed.Claims(publicKey, &claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}

	if iss, _ := claims["iss"].(string); iss != expectedIssuer {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrIssuerMismatch, claims["iss"], expectedIssuer)
	}

	if exp, ok := numericClaim(claims, "exp"); ok && now.Unix() >= exp {
		return nil, fmt.Errorf("%w: exp=%d", ErrTokenExpired, exp)
	}

	if nbf, ok := numericClaim(claims, "nbf"); ok && now.Unix() < nbf {
		return nil, fmt.Errorf("%w: token not yet valid", ErrTokenMalformed)
	}

	return &Verified{Header: header, Claims: claims}, nil
}

// numericClaim reads a whole-second unix timestamp claim. JSON decoding may
// surface it as float64 or json.Number depending on the decoder.
func numericClaim(claims map[string]interface{}, name string) (int64, bool) {
	switch v := claims[name].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}
