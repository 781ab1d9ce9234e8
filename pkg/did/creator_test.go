/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package did_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/educred/issuer/pkg/did"
	"github.com/educred/issuer/pkg/kms/key"
)

const testKeyHex = "6d9b1e9a7ad0e8f5c2b4e1f3a6c8d0b2e4f6a8c0d2e4f6a8c0d2e4f6a8c0d2e4"

func TestCreate(t *testing.T) {
	pair, err := key.FromPrivateKeyHex(testKeyHex, "key-1")
	require.NoError(t, err)

	t.Run("natural person did:key", func(t *testing.T) {
		id, createErr := did.Create(did.ProfileNaturalPerson, pair.PublicKey())
		require.NoError(t, createErr)
		require.True(t, strings.HasPrefix(id, "did:key:z"))
	})

	t.Run("legal entity did:ebsi", func(t *testing.T) {
		id, createErr := did.Create(did.ProfileLegalEntity, pair.PublicKey())
		require.NoError(t, createErr)
		require.True(t, strings.HasPrefix(id, "did:ebsi:z"))
	})

	t.Run("deterministic", func(t *testing.T) {
		for _, profile := range []did.Profile{did.ProfileNaturalPerson, did.ProfileLegalEntity} {
			a, createErr := did.Create(profile, pair.PublicKey())
			require.NoError(t, createErr)

			b, createErr := did.Create(profile, pair.PublicKey())
			require.NoError(t, createErr)

			require.Equal(t, a, b)
		}
	})

	t.Run("different keys yield different identifiers", func(t *testing.T) {
		other, genErr := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, genErr)

		a, createErr := did.Create(did.ProfileNaturalPerson, pair.PublicKey())
		require.NoError(t, createErr)

		b, createErr := did.Create(did.ProfileNaturalPerson, &other.PublicKey)
		require.NoError(t, createErr)

		require.NotEqual(t, a, b)
	})

	t.Run("unsupported profile", func(t *testing.T) {
		_, createErr := did.Create("corporation", pair.PublicKey())
		require.ErrorIs(t, createErr, did.ErrUnsupportedProfile)
	})

	t.Run("nil key", func(t *testing.T) {
		_, createErr := did.Create(did.ProfileNaturalPerson, nil)
		require.ErrorIs(t, createErr, key.ErrInvalidKeyMaterial)
	})
}

func TestResolveKey(t *testing.T) {
	pair, err := key.FromPrivateKeyHex(testKeyHex, "key-1")
	require.NoError(t, err)

	id, err := did.Create(did.ProfileNaturalPerson, pair.PublicKey())
	require.NoError(t, err)

	t.Run("round trip", func(t *testing.T) {
		pub, resolveErr := did.ResolveKey(id)
		require.NoError(t, resolveErr)
		require.True(t, pub.Equal(pair.PublicKey()))
	})

	t.Run("verification method reference", func(t *testing.T) {
		pub, resolveErr := did.ResolveKey(id + "#" + strings.TrimPrefix(id, "did:key:"))
		require.NoError(t, resolveErr)
		require.True(t, pub.Equal(pair.PublicKey()))
	})

	t.Run("did:ebsi is not locally resolvable", func(t *testing.T) {
		ebsiID, createErr := did.Create(did.ProfileLegalEntity, pair.PublicKey())
		require.NoError(t, createErr)

		_, resolveErr := did.ResolveKey(ebsiID)
		require.ErrorIs(t, resolveErr, did.ErrUnsupportedMethod)
	})

	t.Run("unknown method", func(t *testing.T) {
		_, resolveErr := did.ResolveKey("did:web:example.com")
		require.ErrorIs(t, resolveErr, did.ErrUnsupportedMethod)
	})

	t.Run("garbage multibase", func(t *testing.T) {
		_, resolveErr := did.ResolveKey("did:key:z0O0O0O")
		require.ErrorIs(t, resolveErr, did.ErrInvalidDID)
	})
}
