/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package oidc4vc

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v3"
	josejwt "github.com/go-jose/go-jose/v3/jwt"

	"github.com/educred/issuer/pkg/doc/jwt"
	"github.com/educred/issuer/pkg/event/spi"
	"github.com/educred/issuer/pkg/oidc4vc/composer"
)

const directPostPath = "/oidc/direct_post"

// RequestIDToken mints the issuer-side binding values and composes the
// self-issued ID-token request for the holder wallet.
func (s *Service) RequestIDToken(ctx context.Context, id SessionID) (*composer.IDTokenRequest, error) {
	session, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	if err = s.checkActive(ctx, session); err != nil {
		return nil, err
	}

	if err = validateStateTransition(session.State, SessionStateIDTokenRequested); err != nil {
		return nil, err
	}

	issuerState, err := genNonce()
	if err != nil {
		return nil, err
	}

	issuerNonce, err := genNonce()
	if err != nil {
		return nil, err
	}

	request, err := composer.NewIDTokenRequestComposer(s.signer).
		WithIssuer(s.issuerDID).
		WithAudience(session.ClientID).
		WithClientID(s.issuerURL).
		WithRedirectURI(s.issuerURL + directPostPath).
		WithState(issuerState).
		WithNonce(issuerNonce).
		Compose()
	if err != nil {
		return nil, fmt.Errorf("compose id token request: %w", err)
	}

	session.IssuerState = issuerState
	session.IssuerNonce = issuerNonce
	session.State = SessionStateIDTokenRequested

	if err = s.store.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	if err = s.sendEvent(session, spi.IssuerOIDCInteractionIDTokenRequested); err != nil {
		return nil, err
	}

	return request, nil
}

// HandleIDTokenResponse validates the wallet's self-issued ID token against
// the session's binding values, then mints the single-use authorization code
// and composes the redirect back to the wallet. A nonce or subject mismatch
// rejects the session.
func (s *Service) HandleIDTokenResponse(ctx context.Context, resp *IDTokenResponse) (*AuthorizedResult, error) {
	session, err := s.store.FindByIssuerState(ctx, resp.State)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown state", ErrBindingMismatch)
	}

	if err = s.checkActive(ctx, session); err != nil {
		return nil, err
	}

	if err = validateStateTransition(session.State, SessionStateAuthorized); err != nil {
		return nil, err
	}

	holderDID, verified, err := s.verifyHolderToken(resp.IDToken)
	if err != nil {
		return nil, s.reject(ctx, session, err)
	}

	if nonce, _ := verified.Claims["nonce"].(string); nonce != session.IssuerNonce { //nolint:errcheck
		return nil, s.reject(ctx, session, fmt.Errorf("%w: nonce", ErrBindingMismatch))
	}

	if !audienceContains(verified.Claims["aud"], s.issuerURL) {
		return nil, s.reject(ctx, session, fmt.Errorf("%w: audience", ErrBindingMismatch))
	}

	authCode, err := genNonce()
	if err != nil {
		return nil, err
	}

	session.HolderDID = holderDID
	session.AuthCode = authCode
	session.State = SessionStateAuthorized

	if err = s.store.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	redirectURL, err := composer.NewAuthorizationResponseComposer().
		WithCode(authCode).
		WithState(session.HolderState).
		WithRedirectURI(session.RedirectURI).
		Compose()
	if err != nil {
		return nil, fmt.Errorf("compose authorization response: %w", err)
	}

	if err = s.sendEvent(session, spi.IssuerOIDCInteractionAuthorized); err != nil {
		return nil, err
	}

	return &AuthorizedResult{
		SessionID:   session.ID,
		RedirectURL: redirectURL,
	}, nil
}

// verifyHolderToken checks a holder-signed JWT: the kid header must resolve
// to the holder's key, the token must be self-issued (iss equals the DID the
// kid belongs to) and the signature must verify against the resolved key.
func (s *Service) verifyHolderToken(rawToken string) (string, *jwt.Verified, error) {
	parsed, err := josejwt.ParseSigned(rawToken)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", jwt.ErrTokenMalformed, err)
	}

	if len(parsed.Headers) != 1 {
		return "", nil, fmt.Errorf("%w: expected a single signature", jwt.ErrTokenMalformed)
	}

	kid := parsed.Headers[0].KeyID
	if kid == "" {
		return "", nil, fmt.Errorf("%w: missing kid header", jwt.ErrTokenMalformed)
	}

	holderDID := strings.SplitN(kid, "#", 2)[0]

	publicKey, err := s.keyResolver(kid)
	if err != nil {
		return "", nil, fmt.Errorf("resolve holder key: %w", err)
	}

	verified, err := jwt.Verify(rawToken, holderDID, publicKey, jose.ES256, s.clock.Now())
	if err != nil {
		return "", nil, err
	}

	// ID tokens carry sub and must be self-issued; proof JWTs carry iss only.
	if sub, ok := verified.Claims["sub"].(string); ok && sub != holderDID {
		return "", nil, fmt.Errorf("%w: token is not self-issued", ErrBindingMismatch)
	}

	return holderDID, verified, nil
}

func audienceContains(aud interface{}, expected string) bool {
	switch v := aud.(type) {
	case string:
		return v == expected
	case []interface{}:
		for _, a := range v {
			if s, ok := a.(string); ok && s == expected {
				return true
			}
		}
	case []string:
		for _, a := range v {
			if a == expected {
				return true
			}
		}
	}

	return false
}
