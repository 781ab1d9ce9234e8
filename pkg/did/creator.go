/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package did derives decentralized identifiers from public key material and
// resolves did:key identifiers back to verification keys.
package did

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/educred/issuer/pkg/kms/key"
)

// Profile selects the identifier derivation profile.
type Profile string

const (
	// ProfileNaturalPerson derives a did:key identifier over the JCS-canonical
	// public JWK (jwk_jcs-pub multicodec).
	ProfileNaturalPerson Profile = "natural-person"
	// ProfileLegalEntity derives a did:ebsi identifier from a digest of the
	// compressed public key.
	ProfileLegalEntity Profile = "legal-entity"
)

const (
	didKeyPrefix  = "did:key:z"
	didEBSIPrefix = "did:ebsi:z"

	ebsiVersionByte   = 0x01
	ebsiSubjectIDSize = 16
)

// jwkJCSPubMulticodec is the varint encoding of the jwk_jcs-pub code (0xeb51).
var jwkJCSPubMulticodec = []byte{0xd1, 0xd6, 0x03}

var (
	// ErrUnsupportedProfile is returned for an unknown derivation profile.
	ErrUnsupportedProfile = errors.New("unsupported did profile")
	// ErrUnsupportedMethod is returned when resolving a DID of a method this
	// package cannot resolve locally.
	ErrUnsupportedMethod = errors.New("unsupported did method")
	// ErrInvalidDID is returned for identifiers that do not decode.
	ErrInvalidDID = errors.New("invalid did")
)

// Create derives a DID for the given profile from a P-256 public key. The
// derivation is deterministic: the same key always yields the same DID.
func Create(profile Profile, pub *ecdsa.PublicKey) (string, error) {
	if pub == nil || pub.Curve != elliptic.P256() {
		return "", fmt.Errorf("%w: public key is not on P-256", key.ErrInvalidKeyMaterial)
	}

	switch profile {
	case ProfileNaturalPerson:
		return createKeyDID(pub)
	case ProfileLegalEntity:
		return createEBSIDID(pub), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedProfile, profile)
	}
}

// ResolveKey resolves a did:key identifier (or a verification method reference
// "did#fragment") to its P-256 public key.
func ResolveKey(id string) (*ecdsa.PublicKey, error) {
	id = strings.SplitN(id, "#", 2)[0] //nolint:gomnd

	if strings.HasPrefix(id, didEBSIPrefix) {
		return nil, fmt.Errorf("%w: did:ebsi requires a registry lookup", ErrUnsupportedMethod)
	}

	if !strings.HasPrefix(id, didKeyPrefix) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, id)
	}

	raw, err := base58.Decode(strings.TrimPrefix(id, didKeyPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: decode multibase: %w", ErrInvalidDID, err)
	}

	if len(raw) <= len(jwkJCSPubMulticodec) ||
		!bytes.HasPrefix(raw, jwkJCSPubMulticodec) {
		return nil, fmt.Errorf("%w: unexpected multicodec prefix", ErrInvalidDID)
	}

	var jwk key.JWK
	if err = json.Unmarshal(raw[len(jwkJCSPubMulticodec):], &jwk); err != nil {
		return nil, fmt.Errorf("%w: decode jwk: %w", ErrInvalidDID, err)
	}

	return publicKeyFromJWK(&jwk)
}

func createKeyDID(pub *ecdsa.PublicKey) (string, error) {
	jcs, err := json.Marshal(publicJWK(pub))
	if err != nil {
		return "", fmt.Errorf("marshal jwk: %w", err)
	}

	payload := make([]byte, 0, len(jwkJCSPubMulticodec)+len(jcs))
	payload = append(payload, jwkJCSPubMulticodec...)
	payload = append(payload, jcs...)

	return didKeyPrefix + base58.Encode(payload), nil
}

func createEBSIDID(pub *ecdsa.PublicKey) string {
	digest := sha256.Sum256(elliptic.MarshalCompressed(pub.Curve, pub.X, pub.Y))

	payload := make([]byte, 0, 1+ebsiSubjectIDSize)
	payload = append(payload, ebsiVersionByte)
	payload = append(payload, digest[:ebsiSubjectIDSize]...)

	return didEBSIPrefix + base58.Encode(payload)
}

// publicJWK builds the canonical public JWK. Field order in key.JWK is
// alphabetical, so plain json.Marshal output is already JCS-canonical.
func publicJWK(pub *ecdsa.PublicKey) *key.JWK {
	return &key.JWK{
		Kty: "EC",
		Crv: "P-256",
		X:   encodeCoordinate(pub.X),
		Y:   encodeCoordinate(pub.Y),
	}
}

func publicKeyFromJWK(jwk *key.JWK) (*ecdsa.PublicKey, error) {
	if jwk.Kty != "EC" || jwk.Crv != "P-256" {
		return nil, fmt.Errorf("%w: unexpected key type %s/%s", ErrInvalidDID, jwk.Kty, jwk.Crv)
	}

	xb, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("%w: decode x: %w", ErrInvalidDID, err)
	}

	yb, err := base64.RawURLEncoding.DecodeString(jwk.Y)
	if err != nil {
		return nil, fmt.Errorf("%w: decode y: %w", ErrInvalidDID, err)
	}

	pub := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(xb),
		Y:     new(big.Int).SetBytes(yb),
	}

	if !pub.Curve.IsOnCurve(pub.X, pub.Y) {
		return nil, fmt.Errorf("%w: point not on curve", key.ErrInvalidKeyMaterial)
	}

	return pub, nil
}

func encodeCoordinate(i *big.Int) string {
	buf := make([]byte, 32) //nolint:gomnd // P-256 coordinate size
	i.FillBytes(buf)

	return base64.RawURLEncoding.EncodeToString(buf)
}
