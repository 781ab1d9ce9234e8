/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package composer builds the signed protocol messages exchanged during an
// OIDC4VC issuance flow. Each composer is a single-use validated builder:
// setters accumulate fields and Compose returns the finished artifact only
// when every required field is present.
package composer

import (
	"errors"
	"fmt"
)

// ErrIncompleteComposition is returned by Compose when a required field was
// not set. The wrapping error names the missing field.
var ErrIncompleteComposition = errors.New("incomplete composition")

// Grant types understood by the token request composer.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypePreAuthorizedCode = "urn:ietf:params:oauth:grant-type:pre-authorized_code"

	clientAssertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

	// ProofTypeHeader is the typ header value of a credential request
	// proof-of-possession JWT.
	ProofTypeHeader = "openid4vci-proof+jwt"
)

// signer abstracts the JWT signing primitive used by composers.
type signer interface {
	Sign(claims interface{}, headers map[string]interface{}) (string, error)
	KeyID() string
}

func missing(field string) error {
	return fmt.Errorf("%w: missing %s", ErrIncompleteComposition, field)
}
