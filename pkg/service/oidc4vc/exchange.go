/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package oidc4vc

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/educred/issuer/pkg/doc/jwt"
	"github.com/educred/issuer/pkg/event/spi"
)

const tokenTypeBearer = "bearer"

// ExchangeAuthorizationCode swaps a single-use authorization code for an
// access token and a fresh cNonce. The PKCE verifier is checked before the
// code is consumed, so a failed check leaves the code intact for the
// legitimate holder.
func (s *Service) ExchangeAuthorizationCode(ctx context.Context, code, codeVerifier string) (*TokenResult, error) {
	// an empty code would match any session whose code is still unset
	if code == "" {
		return nil, fmt.Errorf("%w: empty authorization code", ErrDataNotFound)
	}

	session, err := s.store.FindByAuthCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("find session by authorization code: %w", err)
	}

	if err = s.checkActive(ctx, session); err != nil {
		return nil, err
	}

	if session.AuthCodeUsed {
		return nil, fmt.Errorf("%w: authorization code", ErrTokenAlreadyUsed)
	}

	if err = validateStateTransition(session.State, SessionStateTokenIssued); err != nil {
		return nil, err
	}

	hash := sha256.Sum256([]byte(codeVerifier))

	if base64.RawURLEncoding.EncodeToString(hash[:]) != session.CodeChallenge {
		return nil, fmt.Errorf("%w: code verifier", ErrBindingMismatch)
	}

	session, err = s.store.ConsumeAuthCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrTokenAlreadyUsed) {
			return nil, err
		}

		return nil, fmt.Errorf("consume authorization code: %w", err)
	}

	return s.issueToken(ctx, session)
}

// ExchangePreAuthorizedCode swaps a single-use pre-authorized code for an
// access token. The user PIN is checked before the code is consumed. A
// concurrent second exchange loses the storage-level check-and-set and gets
// ErrTokenAlreadyUsed.
func (s *Service) ExchangePreAuthorizedCode(ctx context.Context, preAuthCode, pin string) (*TokenResult, error) {
	// an empty code would match an authorization-code session, whose
	// pre-authorized fields are unset, and skip the PIN check with it
	if preAuthCode == "" {
		return nil, fmt.Errorf("%w: empty pre-authorized code", ErrDataNotFound)
	}

	session, err := s.store.FindByPreAuthCode(ctx, preAuthCode)
	if err != nil {
		return nil, fmt.Errorf("find session by pre-authorized code: %w", err)
	}

	if err = s.checkActive(ctx, session); err != nil {
		return nil, err
	}

	if session.PreAuthCodeUsed {
		return nil, fmt.Errorf("%w: pre-authorized code", ErrTokenAlreadyUsed)
	}

	if err = validateStateTransition(session.State, SessionStateTokenIssued); err != nil {
		return nil, err
	}

	if session.PreAuthCodePin != "" && pin != session.PreAuthCodePin {
		return nil, fmt.Errorf("%w: user pin", ErrBindingMismatch)
	}

	session, err = s.store.ConsumePreAuthCode(ctx, preAuthCode)
	if err != nil {
		if errors.Is(err, ErrTokenAlreadyUsed) {
			return nil, err
		}

		return nil, fmt.Errorf("consume pre-authorized code: %w", err)
	}

	if err = s.sendEvent(session, spi.IssuerOIDCInteractionQRScanned); err != nil {
		return nil, err
	}

	return s.issueToken(ctx, session)
}

// issueToken mints the bearer access token and a fresh single-use cNonce,
// then moves the session to the token-issued step.
func (s *Service) issueToken(ctx context.Context, session *Session) (*TokenResult, error) {
	now := s.clock.Now()

	accessToken, err := s.signer.Sign(map[string]interface{}{
		"iss": s.issuerURL,
		"sub": string(session.ID),
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(s.accessTokenTTL).Unix(),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	cNonce, err := s.mintCNonce(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	cNonceExpiresAt := now.Add(s.cNonceTTL)

	session.State = SessionStateTokenIssued
	session.CNonce = cNonce
	session.CNonceExpiresAt = &cNonceExpiresAt

	if err = s.store.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	if err = s.sendEvent(session, spi.IssuerOIDCInteractionTokenIssued); err != nil {
		return nil, err
	}

	return &TokenResult{
		SessionID:       session.ID,
		AccessToken:     accessToken,
		TokenType:       tokenTypeBearer,
		ExpiresIn:       int64(s.accessTokenTTL.Seconds()),
		CNonce:          cNonce,
		CNonceExpiresIn: int64(s.cNonceTTL.Seconds()),
	}, nil
}

func (s *Service) mintCNonce(ctx context.Context, sessionID SessionID) (string, error) {
	cNonce, err := genNonce()
	if err != nil {
		return "", err
	}

	ok, err := s.nonceStore.SetIfNotExist(ctx, cNonce, sessionID, s.cNonceTTL)
	if err != nil {
		return "", fmt.Errorf("store cnonce: %w", err)
	}

	if !ok {
		return "", fmt.Errorf("cnonce collision")
	}

	return cNonce, nil
}

// VerifyAccessToken checks a bearer token minted by issueToken and returns
// the session it belongs to.
func (s *Service) VerifyAccessToken(_ context.Context, rawToken string) (SessionID, error) {
	verified, err := jwt.Verify(rawToken, s.issuerURL, s.signer.PublicKey(), s.signer.Algorithm(), s.clock.Now())
	if err != nil {
		return "", err
	}

	sub, _ := verified.Claims["sub"].(string) //nolint:errcheck
	if sub == "" {
		return "", fmt.Errorf("%w: missing sub claim", jwt.ErrTokenMalformed)
	}

	return SessionID(sub), nil
}
