/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package credentialoffer mints issuer-initiated credential offers and tracks
// the single-use hand-off of their claim data.
package credentialoffer

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/educred/issuer/pkg/service/oidc4vc"
)

const (
	offerScheme = "openid-credential-offer://"

	offerPath = "/oidc/credential-offers/"

	preAuthorizedGrantType = "urn:ietf:params:oauth:grant-type:pre-authorized_code"

	preAuthCodeSize = 15

	defaultOfferTTL = time.Hour
)

var logger = log.New("credential-offer")

type issuanceInitiator interface {
	InitiatePreAuthorizedIssuance(
		ctx context.Context,
		req *oidc4vc.PreAuthorizedIssuanceRequest,
	) (*oidc4vc.Session, error)
}

type pinGenerator interface {
	Generate() (string, error)
}

// Config holds configuration options and dependencies for Service.
type Config struct {
	OfferStore   offerStore
	ClaimStore   claimStore
	Issuance     issuanceInitiator
	PinGenerator pinGenerator
	Clock        clock.Clock

	IssuerURL string
	OfferTTL  time.Duration
}

// Service creates credential offers and serves their claim data exactly once.
type Service struct {
	store     offerStore
	claims    claimStore
	issuance  issuanceInitiator
	pins      pinGenerator
	clock     clock.Clock
	issuerURL string
	offerTTL  time.Duration
}

// NewService returns a new Service instance.
func NewService(config *Config) (*Service, error) {
	if config.OfferStore == nil {
		return nil, fmt.Errorf("offer store is required")
	}

	if config.ClaimStore == nil {
		return nil, fmt.Errorf("claim store is required")
	}

	if config.Issuance == nil {
		return nil, fmt.Errorf("issuance initiator is required")
	}

	s := &Service{
		store:     config.OfferStore,
		claims:    config.ClaimStore,
		issuance:  config.Issuance,
		pins:      config.PinGenerator,
		clock:     config.Clock,
		issuerURL: config.IssuerURL,
		offerTTL:  config.OfferTTL,
	}

	if s.pins == nil {
		s.pins = oidc4vc.NewPinGenerator()
	}

	if s.clock == nil {
		s.clock = clock.New()
	}

	if s.offerTTL == 0 {
		s.offerTTL = defaultOfferTTL
	}

	return s, nil
}

// CreateOffer mints a pre-authorized credential offer, opens the backing
// issuance session and stores the claim data for its single hand-off.
func (s *Service) CreateOffer(ctx context.Context, req *CreateOfferRequest) (*CreateOfferResult, error) {
	if len(req.CredentialTypes) == 0 {
		return nil, fmt.Errorf("credential types are required")
	}

	if len(req.ClaimData) == 0 && !req.ClaimDataPending {
		return nil, fmt.Errorf("claim data is required for immediate issuance")
	}

	preAuthCode, err := randomToken()
	if err != nil {
		return nil, err
	}

	var pin string

	if req.PinRequired {
		if pin, err = s.pins.Generate(); err != nil {
			return nil, fmt.Errorf("generate pin: %w", err)
		}
	}

	session, err := s.issuance.InitiatePreAuthorizedIssuance(ctx, &oidc4vc.PreAuthorizedIssuanceRequest{
		PreAuthCode:      preAuthCode,
		Pin:              pin,
		SubjectDID:       req.SubjectDID,
		CredentialTypes:  req.CredentialTypes,
		ClaimData:        req.ClaimData,
		ClaimDataPending: req.ClaimDataPending,
	})
	if err != nil {
		return nil, fmt.Errorf("initiate pre-authorized issuance: %w", err)
	}

	now := s.clock.Now()

	offer, err := s.store.Create(ctx, &OfferData{
		Status:          OfferStatusPending,
		CredentialTypes: req.CredentialTypes,
		PreAuthCode:     preAuthCode,
		Pin:             pin,
		PinRequired:     req.PinRequired,
		SubjectDID:      req.SubjectDID,
		ClaimData:       req.ClaimData,
		SessionID:       session.ID,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.offerTTL),
	}, oidc4vc.WithDocumentTTL(s.offerTTL))
	if err != nil {
		return nil, fmt.Errorf("store offer: %w", err)
	}

	offerURI, err := s.offerURI(offer)
	if err != nil {
		return nil, err
	}

	if _, err = s.claims.Create(ctx, &ClaimRecord{
		Status:          ClaimStatusPending,
		OfferID:         offer.ID,
		CredentialTypes: req.CredentialTypes,
		QRCode:          offerURI,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.offerTTL),
	}); err != nil {
		return nil, fmt.Errorf("store claim record: %w", err)
	}

	return &CreateOfferResult{
		OfferID:        offer.ID,
		OfferURI:       offerURI,
		OfferObjectURI: s.offerObjectURI(offer.ID),
		PreAuthCode:    preAuthCode,
		Pin:            pin,
		SessionID:      session.ID,
	}, nil
}

// GetOfferObject serves the wire form of an offer for by-reference delivery.
// The offer is not consumed; only the claim hand-off is single use.
func (s *Service) GetOfferObject(ctx context.Context, id OfferID) (*OfferObject, error) {
	offer, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOfferNotFound) {
			return nil, err
		}

		return nil, fmt.Errorf("get offer: %w", err)
	}

	if err = s.checkUsable(ctx, offer); err != nil {
		return nil, err
	}

	return s.offerObject(offer), nil
}

// Claim redeems the offer for the given holder exactly once. The offer flip
// from pending to used is the atomicity point: a second claim, concurrent or
// late, gets ErrOfferAlreadyUsed.
func (s *Service) Claim(ctx context.Context, id OfferID, holderDID string) (*ClaimResult, error) {
	offer, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOfferNotFound) {
			return nil, err
		}

		return nil, fmt.Errorf("get offer: %w", err)
	}

	if err = s.checkUsable(ctx, offer); err != nil {
		return nil, err
	}

	offer, err = s.store.Consume(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOfferAlreadyUsed) {
			return nil, err
		}

		return nil, fmt.Errorf("consume offer: %w", err)
	}

	claim, err := s.claims.FindByOfferID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find claim record: %w", err)
	}

	claimedAt := s.clock.Now()

	claim.Status = ClaimStatusClaimed
	claim.HolderDID = holderDID
	claim.ClaimedAt = &claimedAt

	if err = s.claims.Update(ctx, claim); err != nil {
		return nil, fmt.Errorf("update claim record: %w", err)
	}

	return &ClaimResult{
		ClaimID:   claim.ID,
		ClaimData: offer.ClaimData,
	}, nil
}

// checkUsable applies the lazy read-time expiry rule.
func (s *Service) checkUsable(ctx context.Context, offer *Offer) error {
	switch offer.Status {
	case OfferStatusPending:
	case OfferStatusExpired:
		return ErrOfferExpired
	case OfferStatusUsed:
		return ErrOfferAlreadyUsed
	default:
		return fmt.Errorf("unexpected offer status %q", offer.Status)
	}

	if s.clock.Now().After(offer.ExpiresAt) {
		offer.Status = OfferStatusExpired

		if err := s.store.Update(ctx, offer); err != nil {
			logger.Warn("marking offer expired", log.WithError(err))
		}

		if claim, err := s.claims.FindByOfferID(ctx, offer.ID); err == nil &&
			claim.Status == ClaimStatusPending {
			claim.Status = ClaimStatusExpired

			if err = s.claims.Update(ctx, claim); err != nil {
				logger.Warn("marking claim expired", log.WithError(err))
			}
		}

		return ErrOfferExpired
	}

	return nil
}

func (s *Service) offerObject(offer *Offer) *OfferObject {
	return &OfferObject{
		CredentialIssuer: s.issuerURL,
		Credentials:      offer.CredentialTypes,
		Grants: map[string]GrantSpec{
			preAuthorizedGrantType: {
				PreAuthorizedCode: offer.PreAuthCode,
				UserPinRequired:   offer.PinRequired,
			},
		},
	}
}

func (s *Service) offerURI(offer *Offer) (string, error) {
	payload, err := json.Marshal(s.offerObject(offer))
	if err != nil {
		return "", fmt.Errorf("marshal offer object: %w", err)
	}

	return offerScheme + "?credential_offer=" + url.QueryEscape(string(payload)), nil
}

func (s *Service) offerObjectURI(id OfferID) string {
	return offerScheme + "?credential_offer_uri=" +
		url.QueryEscape(s.issuerURL+offerPath+string(id))
}

func randomToken() (string, error) {
	buf := make([]byte, preAuthCodeSize)

	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token generating random failed: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}
