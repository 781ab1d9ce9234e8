/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package composer

import (
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/educred/issuer/pkg/doc/jwt"
)

// TokenRequest is a composed token endpoint request body.
type TokenRequest struct {
	GrantType           string
	ClientID            string
	Code                string
	CodeVerifier        string
	ClientAssertionType string
	ClientAssertion     string
	PreAuthorizedCode   string
	UserPin             string
}

// Form encodes the request as a token endpoint form body.
func (r *TokenRequest) Form() url.Values {
	v := url.Values{}
	v.Set("grant_type", r.GrantType)

	if r.GrantType == GrantTypePreAuthorizedCode {
		v.Set("pre-authorized_code", r.PreAuthorizedCode)
		v.Set("user_pin", r.UserPin)

		return v
	}

	v.Set("client_id", r.ClientID)
	v.Set("code", r.Code)
	v.Set("code_verifier", r.CodeVerifier)
	v.Set("client_assertion_type", r.ClientAssertionType)
	v.Set("client_assertion", r.ClientAssertion)

	return v
}

// TokenRequestComposer builds a token endpoint request in one of two mutually
// exclusive modes selected by grant type: authorization_code (code + PKCE
// verifier + signed client assertion) or pre-authorized_code (code + user
// PIN, no client assertion).
type TokenRequestComposer struct {
	signer            signer
	grantType         string
	clientID          string
	audience          string
	code              string
	codeVerifier      string
	preAuthorizedCode string
	userPin           string
	expiry            time.Duration
	now               func() time.Time
}

// NewTokenRequestComposer returns a composer with the default assertion
// expiry. The signer may be nil for the pre-authorized mode.
func NewTokenRequestComposer(s signer) *TokenRequestComposer {
	return &TokenRequestComposer{
		signer: s,
		expiry: jwt.DefaultTokenTTL,
		now:    time.Now,
	}
}

// WithGrantType selects the composition mode.
func (c *TokenRequestComposer) WithGrantType(grantType string) *TokenRequestComposer {
	c.grantType = grantType

	return c
}

// WithClientID sets the relying party client id.
func (c *TokenRequestComposer) WithClientID(clientID string) *TokenRequestComposer {
	c.clientID = clientID

	return c
}

// WithAudience sets the token endpoint audience of the client assertion.
func (c *TokenRequestComposer) WithAudience(audience string) *TokenRequestComposer {
	c.audience = audience

	return c
}

// WithCode sets the authorization code being exchanged.
func (c *TokenRequestComposer) WithCode(code string) *TokenRequestComposer {
	c.code = code

	return c
}

// WithCodeVerifier sets the PKCE code verifier.
func (c *TokenRequestComposer) WithCodeVerifier(codeVerifier string) *TokenRequestComposer {
	c.codeVerifier = codeVerifier

	return c
}

// WithPreAuthorizedCode sets the out-of-band pre-authorized code.
func (c *TokenRequestComposer) WithPreAuthorizedCode(code string) *TokenRequestComposer {
	c.preAuthorizedCode = code

	return c
}

// WithUserPin sets the PIN gating the pre-authorized code.
func (c *TokenRequestComposer) WithUserPin(pin string) *TokenRequestComposer {
	c.userPin = pin

	return c
}

// Compose validates the mode-specific fields and builds the request body.
func (c *TokenRequestComposer) Compose() (*TokenRequest, error) {
	switch c.grantType {
	case GrantTypeAuthorizationCode:
		return c.composeAuthorizationCode()
	case GrantTypePreAuthorizedCode:
		return c.composePreAuthorizedCode()
	case "":
		return nil, missing("grant type")
	default:
		return nil, fmt.Errorf("%w: unsupported grant type %q", ErrIncompleteComposition, c.grantType)
	}
}

func (c *TokenRequestComposer) composeAuthorizationCode() (*TokenRequest, error) {
	switch {
	case c.signer == nil:
		return nil, missing("signer")
	case c.clientID == "":
		return nil, missing("client id")
	case c.audience == "":
		return nil, missing("audience")
	case c.code == "":
		return nil, missing("code")
	case c.codeVerifier == "":
		return nil, missing("code verifier")
	}

	now := c.now()

	assertion, err := c.signer.Sign(map[string]interface{}{
		"iss": c.clientID,
		"sub": c.clientID,
		"aud": c.audience,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(c.expiry).Unix(),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("sign client assertion: %w", err)
	}

	return &TokenRequest{
		GrantType:           GrantTypeAuthorizationCode,
		ClientID:            c.clientID,
		Code:                c.code,
		CodeVerifier:        c.codeVerifier,
		ClientAssertionType: clientAssertionTypeJWTBearer,
		ClientAssertion:     assertion,
	}, nil
}

func (c *TokenRequestComposer) composePreAuthorizedCode() (*TokenRequest, error) {
	switch {
	case c.preAuthorizedCode == "":
		return nil, missing("pre-authorized code")
	case c.userPin == "":
		return nil, missing("user pin")
	}

	return &TokenRequest{
		GrantType:         GrantTypePreAuthorizedCode,
		PreAuthorizedCode: c.preAuthorizedCode,
		UserPin:           c.userPin,
	}, nil
}
