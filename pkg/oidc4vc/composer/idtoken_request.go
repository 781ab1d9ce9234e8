/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package composer

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/educred/issuer/pkg/doc/jwt"
)

const (
	defaultIDTokenResponseType = "id_token"
	defaultIDTokenResponseMode = "direct_post"
	defaultScope               = "openid"

	openidDeepLinkScheme = "openid://"
)

// IDTokenRequest is a composed self-issued ID-token request: a signed request
// object packaged as an openid:// deep link the holder wallet can answer.
type IDTokenRequest struct {
	RequestURI    string
	RequestObject string
}

// IDTokenRequestComposer builds the self-issued ID-token request sent to the
// holder wallet. Nonce and state are the binding values the wallet must echo
// back; composing without them fails.
type IDTokenRequestComposer struct {
	signer       signer
	issuer       string
	audience     string
	clientID     string
	redirectURI  string
	state        string
	nonce        string
	scope        []string
	responseType string
	responseMode string
	expiry       time.Duration
	now          func() time.Time
}

// NewIDTokenRequestComposer returns a composer with protocol defaults for
// response type, response mode, scope and expiry.
func NewIDTokenRequestComposer(s signer) *IDTokenRequestComposer {
	return &IDTokenRequestComposer{
		signer:       s,
		responseType: defaultIDTokenResponseType,
		responseMode: defaultIDTokenResponseMode,
		scope:        []string{defaultScope},
		expiry:       jwt.DefaultTokenTTL,
		now:          time.Now,
	}
}

// WithIssuer sets the iss claim of the request object.
func (c *IDTokenRequestComposer) WithIssuer(issuer string) *IDTokenRequestComposer {
	c.issuer = issuer

	return c
}

// WithAudience sets the aud claim of the request object.
func (c *IDTokenRequestComposer) WithAudience(audience string) *IDTokenRequestComposer {
	c.audience = audience

	return c
}

// WithClientID sets the relying party client id.
func (c *IDTokenRequestComposer) WithClientID(clientID string) *IDTokenRequestComposer {
	c.clientID = clientID

	return c
}

// WithRedirectURI sets the direct-post endpoint the wallet responds to.
func (c *IDTokenRequestComposer) WithRedirectURI(redirectURI string) *IDTokenRequestComposer {
	c.redirectURI = redirectURI

	return c
}

// WithState sets the issuer-defined state the wallet must echo.
func (c *IDTokenRequestComposer) WithState(state string) *IDTokenRequestComposer {
	c.state = state

	return c
}

// WithNonce sets the issuer-defined nonce the wallet must echo.
func (c *IDTokenRequestComposer) WithNonce(nonce string) *IDTokenRequestComposer {
	c.nonce = nonce

	return c
}

// WithScope overrides the default openid scope.
func (c *IDTokenRequestComposer) WithScope(scope []string) *IDTokenRequestComposer {
	c.scope = scope

	return c
}

// WithResponseMode overrides the default direct_post response mode.
func (c *IDTokenRequestComposer) WithResponseMode(mode string) *IDTokenRequestComposer {
	c.responseMode = mode

	return c
}

// WithExpiry overrides the default request object expiry.
func (c *IDTokenRequestComposer) WithExpiry(expiry time.Duration) *IDTokenRequestComposer {
	c.expiry = expiry

	return c
}

// Compose signs the request object and wraps it into the deep link.
func (c *IDTokenRequestComposer) Compose() (*IDTokenRequest, error) {
	switch {
	case c.signer == nil:
		return nil, missing("signer")
	case c.issuer == "":
		return nil, missing("issuer")
	case c.clientID == "":
		return nil, missing("client id")
	case c.redirectURI == "":
		return nil, missing("redirect uri")
	case c.state == "":
		return nil, missing("state")
	case c.nonce == "":
		return nil, missing("nonce")
	}

	now := c.now()
	scope := strings.Join(c.scope, " ")

	claims := map[string]interface{}{
		"iss":           c.issuer,
		"aud":           c.audience,
		"iat":           now.Unix(),
		"exp":           now.Add(c.expiry).Unix(),
		"response_type": c.responseType,
		"response_mode": c.responseMode,
		"client_id":     c.clientID,
		"redirect_uri":  c.redirectURI,
		"state":         c.state,
		"nonce":         c.nonce,
		"scope":         scope,
	}

	requestObject, err := c.signer.Sign(claims, nil)
	if err != nil {
		return nil, fmt.Errorf("sign request object: %w", err)
	}

	q := url.Values{}
	q.Set("client_id", c.clientID)
	q.Set("response_type", c.responseType)
	q.Set("response_mode", c.responseMode)
	q.Set("state", c.state)
	q.Set("nonce", c.nonce)
	q.Set("scope", scope)
	q.Set("redirect_uri", c.redirectURI)
	q.Set("request", requestObject)

	return &IDTokenRequest{
		RequestURI:    openidDeepLinkScheme + "?" + q.Encode(),
		RequestObject: requestObject,
	}, nil
}
