/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package oidc4vc

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const pinDigits = 6

// PinGenerator mints numeric user PINs for the pre-authorized code flow.
type PinGenerator struct{}

// NewPinGenerator creates a PinGenerator.
func NewPinGenerator() *PinGenerator {
	return &PinGenerator{}
}

// Generate returns a zero-padded 6-digit PIN from a uniform random draw.
func (g *PinGenerator) Generate() (string, error) {
	bound := big.NewInt(1)

	for i := 0; i < pinDigits; i++ {
		bound.Mul(bound, big.NewInt(10)) //nolint:gomnd
	}

	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return "", fmt.Errorf("pin generating random failed: %w", err)
	}

	return fmt.Sprintf("%0*d", pinDigits, n), nil
}

// Validate compares a wallet-supplied PIN with the expected one.
func (g *PinGenerator) Validate(expected, actual string) bool {
	return expected != "" && expected == actual
}
