/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package oidc4vc

import (
	"context"
	"fmt"

	"github.com/educred/issuer/pkg/event/spi"
)

const (
	responseTypeCode = "code"

	codeChallengeMethodS256 = "S256"
)

// InitiateAuthorization opens an issuance session for the authorization code
// flow. Only the S256 PKCE method is accepted; plain would expose the verifier
// on the wire.
func (s *Service) InitiateAuthorization(ctx context.Context, req *AuthorizationRequest) (*Session, error) {
	if req.ClientID == "" {
		return nil, fmt.Errorf("client id is required")
	}

	if req.RedirectURI == "" {
		return nil, fmt.Errorf("redirect uri is required")
	}

	if req.ResponseType != responseTypeCode {
		return nil, fmt.Errorf("unsupported response type %q", req.ResponseType)
	}

	if req.CodeChallengeMethod != codeChallengeMethodS256 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodeChallengeMethod, req.CodeChallengeMethod)
	}

	if req.CodeChallenge == "" {
		return nil, fmt.Errorf("code challenge is required")
	}

	now := s.clock.Now()

	session, err := s.store.Create(ctx, &SessionData{
		State:               SessionStateAuthRequested,
		Status:              SessionStatusActive,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		ResponseType:        req.ResponseType,
		HolderState:         req.HolderState,
		HolderNonce:         req.HolderNonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		CredentialTypes:     req.CredentialTypes,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.sessionTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err = s.sendEvent(session, spi.IssuerOIDCInteractionInitiated); err != nil {
		return nil, err
	}

	return session, nil
}

// InitiatePreAuthorizedIssuance opens an issuance session for the
// pre-authorized code flow, seeded from an issuer-side credential offer.
func (s *Service) InitiatePreAuthorizedIssuance(
	ctx context.Context,
	req *PreAuthorizedIssuanceRequest,
) (*Session, error) {
	if len(req.CredentialTypes) == 0 {
		return nil, fmt.Errorf("credential types are required")
	}

	preAuthCode := req.PreAuthCode

	if preAuthCode == "" {
		var err error

		if preAuthCode, err = genNonce(); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()

	session, err := s.store.Create(ctx, &SessionData{
		State:            SessionStatePreAuthorized,
		Status:           SessionStatusActive,
		IsPreAuthFlow:    true,
		PreAuthCode:      preAuthCode,
		PreAuthCodePin:   req.Pin,
		HolderDID:        req.SubjectDID,
		CredentialTypes:  req.CredentialTypes,
		ClaimData:        req.ClaimData,
		ClaimDataPending: req.ClaimDataPending,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.sessionTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err = s.sendEvent(session, spi.IssuerOIDCInteractionInitiated); err != nil {
		return nil, err
	}

	return session, nil
}
