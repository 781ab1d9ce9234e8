/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package oidc4vc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/educred/issuer/pkg/doc/jwt"
	"github.com/educred/issuer/pkg/event/spi"
	"github.com/educred/issuer/pkg/oidc4vc/composer"
)

const (
	credentialFormatJWT = "jwt_vc"

	credentialContext  = "https://www.w3.org/2018/credentials/v1"
	credentialBaseType = "VerifiableCredential"
)

// IssueCredential validates the holder's proof of possession and issues the
// requested credential. The cNonce inside the proof is consumed whether or
// not the request succeeds, so a captured proof cannot be replayed. When the
// claim data is not ready yet, an acceptance token is returned instead and
// issuance continues through DeferredCredential.
func (s *Service) IssueCredential(ctx context.Context, req *CredentialRequest) (*CredentialResult, error) {
	session, err := s.store.Get(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	if err = s.checkActive(ctx, session); err != nil {
		return nil, err
	}

	if err = validateStateTransition(session.State, SessionStateCredentialRequested); err != nil {
		return nil, err
	}

	holderDID, err := s.verifyProof(ctx, session, req.ProofJWT)
	if err != nil {
		if errors.Is(err, ErrExpired) {
			return nil, s.expire(ctx, session, err)
		}

		return nil, s.reject(ctx, session, err)
	}

	if len(req.Types) > 0 && len(lo.Without(req.Types, session.CredentialTypes...)) > 0 {
		return nil, s.reject(ctx, session,
			fmt.Errorf("%w: requested types not offered", ErrBindingMismatch))
	}

	session.HolderDID = holderDID
	session.State = SessionStateCredentialRequested

	if session.ClaimDataPending {
		acceptanceToken, tokenErr := genNonce()
		if tokenErr != nil {
			return nil, tokenErr
		}

		session.AcceptanceToken = acceptanceToken
		session.AcceptanceTokenUsed = false
		session.ExpiresAt = s.clock.Now().Add(s.acceptanceTokenTTL)

		if err = s.store.Update(ctx, session); err != nil {
			return nil, fmt.Errorf("update session: %w", err)
		}

		return &CredentialResult{
			Deferred:        true,
			AcceptanceToken: acceptanceToken,
		}, nil
	}

	return s.finalizeIssuance(ctx, session)
}

// DeferredCredential continues a deferred issuance with a single-use
// acceptance token. While the claim data is still pending it re-mints the
// token and returns it alongside ErrIssuancePending; the caller hands the
// fresh token back to the wallet for the next poll.
func (s *Service) DeferredCredential(ctx context.Context, acceptanceToken string) (*CredentialResult, error) {
	// an empty token would match any session whose token is still unset
	if acceptanceToken == "" {
		return nil, fmt.Errorf("%w: empty acceptance token", ErrDataNotFound)
	}

	session, err := s.store.FindByAcceptanceToken(ctx, acceptanceToken)
	if err != nil {
		return nil, fmt.Errorf("find session by acceptance token: %w", err)
	}

	if err = s.checkActive(ctx, session); err != nil {
		return nil, err
	}

	// only a session already at the credential step can be continued here
	if err = validateStateTransition(session.State, SessionStateCredentialIssued); err != nil {
		return nil, err
	}

	session, err = s.store.ConsumeAcceptanceToken(ctx, acceptanceToken)
	if err != nil {
		if errors.Is(err, ErrTokenAlreadyUsed) {
			return nil, err
		}

		return nil, fmt.Errorf("consume acceptance token: %w", err)
	}

	if session.ClaimDataPending {
		next, tokenErr := genNonce()
		if tokenErr != nil {
			return nil, tokenErr
		}

		session.AcceptanceToken = next
		session.AcceptanceTokenUsed = false

		if err = s.store.Update(ctx, session); err != nil {
			return nil, fmt.Errorf("update session: %w", err)
		}

		return &CredentialResult{
			Deferred:        true,
			AcceptanceToken: next,
		}, ErrIssuancePending
	}

	return s.finalizeIssuance(ctx, session)
}

// ProvideClaimData completes the claim data of a deferred session so the next
// DeferredCredential poll can issue.
func (s *Service) ProvideClaimData(ctx context.Context, id SessionID, claimData map[string]interface{}) error {
	session, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}

	if err = s.checkActive(ctx, session); err != nil {
		return err
	}

	session.ClaimData = claimData
	session.ClaimDataPending = false

	if err = s.store.Update(ctx, session); err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	return nil
}

func (s *Service) finalizeIssuance(ctx context.Context, session *Session) (*CredentialResult, error) {
	credential, err := s.signCredential(session)
	if err != nil {
		return nil, err
	}

	session.State = SessionStateCredentialIssued
	session.Status = SessionStatusCompleted

	if err = s.store.Update(ctx, session); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	if err = s.sendEvent(session, spi.IssuerOIDCInteractionSucceeded); err != nil {
		return nil, err
	}

	return &CredentialResult{
		Credential: credential,
		Format:     credentialFormatJWT,
	}, nil
}

func (s *Service) signCredential(session *Session) (string, error) {
	now := s.clock.Now()

	subject := map[string]interface{}{
		"id": session.HolderDID,
	}

	for k, v := range session.ClaimData {
		subject[k] = v
	}

	vc := map[string]interface{}{
		"@context":          []string{credentialContext},
		"type":              append([]string{credentialBaseType}, session.CredentialTypes...),
		"issuer":            s.issuerDID,
		"issuanceDate":      now.UTC().Format(time.RFC3339),
		"credentialSubject": subject,
	}

	credential, err := s.signer.Sign(map[string]interface{}{
		"iss": s.issuerDID,
		"sub": session.HolderDID,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"vc":  vc,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}

	return credential, nil
}

// verifyProof checks the proof-of-possession JWT from the credential request:
// typ header, holder signature, audience and the single-use cNonce.
func (s *Service) verifyProof(ctx context.Context, session *Session, proofJWT string) (string, error) {
	holderDID, verified, err := s.verifyHolderToken(proofJWT)
	if err != nil {
		return "", err
	}

	if typ, _ := verified.Header.ExtraHeaders[jose.HeaderType].(string); typ != composer.ProofTypeHeader { //nolint:errcheck
		return "", fmt.Errorf("%w: proof typ %q", jwt.ErrTokenMalformed, typ)
	}

	if session.HolderDID != "" && holderDID != session.HolderDID {
		return "", fmt.Errorf("%w: proof signed by a different holder", ErrBindingMismatch)
	}

	if !audienceContains(verified.Claims["aud"], s.issuerURL) {
		return "", fmt.Errorf("%w: audience", ErrBindingMismatch)
	}

	nonce, _ := verified.Claims["nonce"].(string) //nolint:errcheck
	if nonce == "" {
		return "", fmt.Errorf("%w: missing proof nonce", ErrBindingMismatch)
	}

	return holderDID, s.consumeCNonce(ctx, session, nonce)
}

// consumeCNonce deletes the nonce from the nonce store in a single operation.
// A nonce that is absent but matches the session's current cNonce was either
// consumed already or expired; the session record tells which.
func (s *Service) consumeCNonce(ctx context.Context, session *Session, nonce string) error {
	record, found, err := s.nonceStore.GetAndDelete(ctx, nonce)
	if err != nil {
		return fmt.Errorf("consume cnonce: %w", err)
	}

	now := s.clock.Now()

	if !found {
		if nonce != session.CNonce {
			return fmt.Errorf("%w: unknown cnonce", ErrBindingMismatch)
		}

		if session.CNonceExpiresAt != nil && now.After(*session.CNonceExpiresAt) {
			return fmt.Errorf("%w: cnonce", ErrExpired)
		}

		return fmt.Errorf("%w: cnonce", ErrTokenAlreadyUsed)
	}

	if record.SessionID != session.ID {
		return fmt.Errorf("%w: cnonce belongs to another session", ErrBindingMismatch)
	}

	if now.After(record.ExpiresAt) {
		return fmt.Errorf("%w: cnonce", ErrExpired)
	}

	return nil
}
