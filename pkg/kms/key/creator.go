/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package key derives signing key pairs from raw key material. The private
// half never leaves this package boundary other than through the signer
// handle; the public half is safe to embed in outgoing protocol messages.
package key

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/go-jose/go-jose/v3"
)

var (
	// ErrInvalidKeyMaterial is returned when raw key material does not decode
	// to a valid key on the expected curve.
	ErrInvalidKeyMaterial = errors.New("invalid key material")
	// ErrUnsupportedAlgorithm is returned for keys tagged with an algorithm
	// outside the allow-list.
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
)

const p256CoordinateSize = 32

// JWK is the JSON Web Key representation of one half of a key pair. All
// binary parameters are base64url encoded without padding.
type JWK struct {
	Crv string `json:"crv"`
	D   string `json:"d,omitempty"`
	Kty string `json:"kty"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// Pair is a P-256 signing key pair derived from raw private key material.
type Pair struct {
	KeyID string

	privateKey *ecdsa.PrivateKey
}

// FromPrivateKeyHex derives a Pair from a hex-encoded P-256 private scalar.
// An optional "0x" prefix is accepted. The scalar is validated against the
// curve order; anything else fails with ErrInvalidKeyMaterial.
func FromPrivateKeyHex(rawHex, keyID string) (*Pair, error) {
	rawHex = strings.TrimPrefix(strings.TrimSpace(rawHex), "0x")

	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("%w: decode hex: %w", ErrInvalidKeyMaterial, err)
	}

	if len(raw) == 0 || len(raw) > p256CoordinateSize {
		return nil, fmt.Errorf("%w: expected at most %d bytes, got %d", ErrInvalidKeyMaterial,
			p256CoordinateSize, len(raw))
	}

	curve := elliptic.P256()

	d := new(big.Int).SetBytes(raw)
	if d.Sign() <= 0 || d.Cmp(curve.Params().N) >= 0 {
		return nil, fmt.Errorf("%w: scalar outside curve order", ErrInvalidKeyMaterial)
	}

	x, y := curve.ScalarBaseMult(d.Bytes())
	if !curve.IsOnCurve(x, y) {
		return nil, fmt.Errorf("%w: derived point not on curve", ErrInvalidKeyMaterial)
	}

	return &Pair{
		KeyID: keyID,
		privateKey: &ecdsa.PrivateKey{
			PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
			D:         d,
		},
	}, nil
}

// PublicJWK returns the public half of the pair.
func (p *Pair) PublicJWK() *JWK {
	return &JWK{
		Kty: "EC",
		Crv: "P-256",
		X:   encodeCoordinate(p.privateKey.X),
		Y:   encodeCoordinate(p.privateKey.Y),
	}
}

// PrivateJWK returns the full key, including the d parameter.
func (p *Pair) PrivateJWK() *JWK {
	j := p.PublicJWK()
	j.D = encodeCoordinate(p.privateKey.D)

	return j
}

// Signer returns the private key for use with a jose signer. Callers must not
// serialize it into protocol messages.
func (p *Pair) Signer() *ecdsa.PrivateKey {
	return p.privateKey
}

// PublicKey returns the public half as a crypto key.
func (p *Pair) PublicKey() *ecdsa.PublicKey {
	return &p.privateKey.PublicKey
}

// JoseJWK returns the public half wrapped for go-jose.
func (p *Pair) JoseJWK() *jose.JSONWebKey {
	return &jose.JSONWebKey{
		Key:       &p.privateKey.PublicKey,
		KeyID:     p.KeyID,
		Algorithm: string(jose.ES256),
		Use:       "sig",
	}
}

// PublicKeyFromJWK extracts the public key from an algorithm-tagged JWK.
// Only ES256, ES256K, EdDSA and RS256 keys are accepted.
func PublicKeyFromJWK(j *jose.JSONWebKey) (crypto.PublicKey, error) {
	switch j.Algorithm {
	case "ES256", "ES256K":
		if pub, ok := j.Key.(*ecdsa.PublicKey); ok {
			return pub, nil
		}

		if priv, ok := j.Key.(*ecdsa.PrivateKey); ok {
			return &priv.PublicKey, nil
		}

		return nil, fmt.Errorf("%w: %s key is not EC", ErrInvalidKeyMaterial, j.Algorithm)
	case "EdDSA":
		pub, ok := j.Key.(ed25519.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: EdDSA key is not Ed25519", ErrInvalidKeyMaterial)
		}

		return pub, nil
	case "RS256":
		pub, ok := j.Key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: RS256 key is not RSA", ErrInvalidKeyMaterial)
		}

		return pub, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, j.Algorithm)
	}
}

func encodeCoordinate(i *big.Int) string {
	buf := make([]byte, p256CoordinateSize)
	i.FillBytes(buf)

	return base64.RawURLEncoding.EncodeToString(buf)
}
