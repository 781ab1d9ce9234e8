/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package composer

import (
	"fmt"
	"time"

	"github.com/educred/issuer/pkg/doc/jwt"
)

const credentialFormatJWTVC = "jwt_vc"

// CredentialRequest is a composed credential endpoint request body.
type CredentialRequest struct {
	Types  []string `json:"types"`
	Format string   `json:"format"`
	Proof  Proof    `json:"proof"`
}

// Proof carries the holder's proof-of-possession JWT.
type Proof struct {
	ProofType string `json:"proof_type"`
	JWT       string `json:"jwt"`
}

// CredentialRequestComposer builds the credential request with its
// proof-of-possession JWT. The server-issued cNonce is mandatory: it is the
// primary replay defense for credential issuance.
type CredentialRequestComposer struct {
	signer   signer
	issuer   string
	audience string
	cNonce   string
	types    []string
	expiry   time.Duration
	now      func() time.Time
}

// NewCredentialRequestComposer returns a composer with the default proof
// expiry.
func NewCredentialRequestComposer(s signer) *CredentialRequestComposer {
	return &CredentialRequestComposer{
		signer: s,
		expiry: jwt.DefaultTokenTTL,
		now:    time.Now,
	}
}

// WithIssuer sets the holder identifier used as the proof iss claim.
func (c *CredentialRequestComposer) WithIssuer(issuer string) *CredentialRequestComposer {
	c.issuer = issuer

	return c
}

// WithAudience sets the credential issuer URL the proof is addressed to.
func (c *CredentialRequestComposer) WithAudience(audience string) *CredentialRequestComposer {
	c.audience = audience

	return c
}

// WithCNonce echoes the server-issued proof-of-possession nonce.
func (c *CredentialRequestComposer) WithCNonce(cNonce string) *CredentialRequestComposer {
	c.cNonce = cNonce

	return c
}

// WithTypes sets the requested credential types.
func (c *CredentialRequestComposer) WithTypes(types []string) *CredentialRequestComposer {
	c.types = types

	return c
}

// Compose signs the proof and wraps it into the request body.
func (c *CredentialRequestComposer) Compose() (*CredentialRequest, error) {
	switch {
	case c.signer == nil:
		return nil, missing("signer")
	case c.issuer == "":
		return nil, missing("issuer")
	case c.cNonce == "":
		return nil, missing("c_nonce")
	case len(c.types) == 0:
		return nil, missing("credential types")
	case c.audience == "":
		return nil, missing("audience")
	}

	now := c.now()

	proofJWT, err := c.signer.Sign(map[string]interface{}{
		"iss":   c.issuer,
		"aud":   c.audience,
		"iat":   now.Unix(),
		"exp":   now.Add(c.expiry).Unix(),
		"nonce": c.cNonce,
	}, map[string]interface{}{
		"typ": ProofTypeHeader,
	})
	if err != nil {
		return nil, fmt.Errorf("sign proof: %w", err)
	}

	return &CredentialRequest{
		Types:  c.types,
		Format: credentialFormatJWTVC,
		Proof: Proof{
			ProofType: "jwt",
			JWT:       proofJWT,
		},
	}, nil
}
