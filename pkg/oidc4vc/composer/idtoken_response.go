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

// IDTokenResponse is the holder's answer to a self-issued ID-token request.
type IDTokenResponse struct {
	IDToken string `json:"id_token"`
	State   string `json:"state"`
}

// IDTokenResponseComposer builds the self-issued ID token the holder wallet
// posts back to the issuer. For a self-issued token iss equals sub.
type IDTokenResponseComposer struct {
	signer   signer
	subject  string
	audience string
	nonce    string
	state    string
	expiry   time.Duration
	now      func() time.Time
}

// NewIDTokenResponseComposer returns a composer with the default expiry.
func NewIDTokenResponseComposer(s signer) *IDTokenResponseComposer {
	return &IDTokenResponseComposer{
		signer: s,
		expiry: jwt.DefaultTokenTTL,
		now:    time.Now,
	}
}

// WithSubject sets the holder DID used for both iss and sub.
func (c *IDTokenResponseComposer) WithSubject(subject string) *IDTokenResponseComposer {
	c.subject = subject

	return c
}

// WithAudience sets the issuer the token answers to.
func (c *IDTokenResponseComposer) WithAudience(audience string) *IDTokenResponseComposer {
	c.audience = audience

	return c
}

// WithNonce echoes the issuer-defined nonce.
func (c *IDTokenResponseComposer) WithNonce(nonce string) *IDTokenResponseComposer {
	c.nonce = nonce

	return c
}

// WithState echoes the issuer-defined state.
func (c *IDTokenResponseComposer) WithState(state string) *IDTokenResponseComposer {
	c.state = state

	return c
}

// WithExpiry overrides the default token expiry.
func (c *IDTokenResponseComposer) WithExpiry(expiry time.Duration) *IDTokenResponseComposer {
	c.expiry = expiry

	return c
}

// Compose signs the ID token and pairs it with the echoed state.
func (c *IDTokenResponseComposer) Compose() (*IDTokenResponse, error) {
	switch {
	case c.signer == nil:
		return nil, missing("signer")
	case c.subject == "":
		return nil, missing("subject")
	case c.audience == "":
		return nil, missing("audience")
	case c.nonce == "":
		return nil, missing("nonce")
	case c.state == "":
		return nil, missing("state")
	}

	now := c.now()

	claims := map[string]interface{}{
		"iss":   c.subject,
		"sub":   c.subject,
		"aud":   c.audience,
		"iat":   now.Unix(),
		"exp":   now.Add(c.expiry).Unix(),
		"nonce": c.nonce,
	}

	idToken, err := c.signer.Sign(claims, nil)
	if err != nil {
		return nil, fmt.Errorf("sign id token: %w", err)
	}

	return &IDTokenResponse{
		IDToken: idToken,
		State:   c.state,
	}, nil
}
