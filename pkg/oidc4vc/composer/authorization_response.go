/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package composer

import (
	"fmt"
	"net/url"
)

// AuthorizationResponseComposer builds the redirect URL that returns an
// authorization code to the wallet.
type AuthorizationResponseComposer struct {
	code        string
	state       string
	redirectURI string
}

// NewAuthorizationResponseComposer returns an empty composer.
func NewAuthorizationResponseComposer() *AuthorizationResponseComposer {
	return &AuthorizationResponseComposer{}
}

// WithCode sets the single-use authorization code.
func (c *AuthorizationResponseComposer) WithCode(code string) *AuthorizationResponseComposer {
	c.code = code

	return c
}

// WithState sets the state echoed back to the wallet.
func (c *AuthorizationResponseComposer) WithState(state string) *AuthorizationResponseComposer {
	c.state = state

	return c
}

// WithRedirectURI sets the wallet redirect URI.
func (c *AuthorizationResponseComposer) WithRedirectURI(redirectURI string) *AuthorizationResponseComposer {
	c.redirectURI = redirectURI

	return c
}

// Compose returns the redirect URL carrying code and state query parameters.
func (c *AuthorizationResponseComposer) Compose() (string, error) {
	if c.redirectURI == "" {
		return "", missing("redirect uri")
	}

	if c.code == "" {
		return "", missing("code")
	}

	if c.state == "" {
		return "", missing("state")
	}

	u, err := url.Parse(c.redirectURI)
	if err != nil {
		return "", fmt.Errorf("parse redirect uri: %w", err)
	}

	q := u.Query()
	q.Set("code", c.code)
	q.Set("state", c.state)
	u.RawQuery = q.Encode()

	return u.String(), nil
}
