/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package oidc4vc

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/educred/issuer/pkg/did"
	"github.com/educred/issuer/pkg/doc/jwt"
	"github.com/educred/issuer/pkg/event/spi"
)

const (
	nonceSize = 15

	defaultSessionTTL         = 10 * time.Minute
	defaultAccessTokenTTL     = time.Hour
	defaultCNonceTTL          = 5 * time.Minute
	defaultAcceptanceTokenTTL = 24 * time.Hour
)

var logger = log.New("oidc4vc")

type eventService interface {
	Publish(topic string, messages ...*spi.Event) error
}

// KeyResolver resolves a verification method reference (kid) to the holder's
// public key.
type KeyResolver func(kid string) (*ecdsa.PublicKey, error)

// Config holds configuration options and dependencies for Service.
type Config struct {
	SessionStore sessionStore
	NonceStore   nonceStore
	EventService eventService
	EventTopic   string

	Signer    *jwt.Signer
	IssuerDID string
	IssuerURL string

	KeyResolver KeyResolver
	Clock       clock.Clock

	SessionTTL         time.Duration
	AccessTokenTTL     time.Duration
	CNonceTTL          time.Duration
	AcceptanceTokenTTL time.Duration
}

// Service drives the issuance session state machine.
type Service struct {
	store       sessionStore
	nonceStore  nonceStore
	eventSvc    eventService
	eventTopic  string
	signer      *jwt.Signer
	issuerDID   string
	issuerURL   string
	keyResolver KeyResolver
	clock       clock.Clock

	sessionTTL         time.Duration
	accessTokenTTL     time.Duration
	cNonceTTL          time.Duration
	acceptanceTokenTTL time.Duration
}

// NewService returns a new Service instance.
func NewService(config *Config) (*Service, error) {
	if config.SessionStore == nil {
		return nil, fmt.Errorf("session store is required")
	}

	if config.NonceStore == nil {
		return nil, fmt.Errorf("nonce store is required")
	}

	if config.Signer == nil {
		return nil, fmt.Errorf("signer is required")
	}

	s := &Service{
		store:              config.SessionStore,
		nonceStore:         config.NonceStore,
		eventSvc:           config.EventService,
		eventTopic:         config.EventTopic,
		signer:             config.Signer,
		issuerDID:          config.IssuerDID,
		issuerURL:          config.IssuerURL,
		keyResolver:        config.KeyResolver,
		clock:              config.Clock,
		sessionTTL:         config.SessionTTL,
		accessTokenTTL:     config.AccessTokenTTL,
		cNonceTTL:          config.CNonceTTL,
		acceptanceTokenTTL: config.AcceptanceTokenTTL,
	}

	if s.keyResolver == nil {
		s.keyResolver = did.ResolveKey
	}

	if s.clock == nil {
		s.clock = clock.New()
	}

	if s.eventTopic == "" {
		s.eventTopic = spi.IssuerEventTopic
	}

	if s.sessionTTL == 0 {
		s.sessionTTL = defaultSessionTTL
	}

	if s.accessTokenTTL == 0 {
		s.accessTokenTTL = defaultAccessTokenTTL
	}

	if s.cNonceTTL == 0 {
		s.cNonceTTL = defaultCNonceTTL
	}

	if s.acceptanceTokenTTL == 0 {
		s.acceptanceTokenTTL = defaultAcceptanceTokenTTL
	}

	return s, nil
}

// checkActive applies the lazy read-time expiry rule: a session past its
// expiry reports EXPIRED regardless of stored status.
func (s *Service) checkActive(ctx context.Context, session *Session) error {
	switch session.Status {
	case SessionStatusActive:
	case SessionStatusExpired:
		return ErrExpired
	default:
		return fmt.Errorf("%w: %s", ErrSessionTerminal, session.Status)
	}

	if s.clock.Now().After(session.ExpiresAt) {
		session.Status = SessionStatusExpired

		if err := s.store.Update(ctx, session); err != nil {
			logger.Warn("marking session expired", log.WithError(err))
		}

		return ErrExpired
	}

	return nil
}

func (s *Service) reject(ctx context.Context, session *Session, cause error) error {
	session.Status = SessionStatusRejected

	if err := s.store.Update(ctx, session); err != nil {
		logger.Warn("marking session rejected", log.WithError(err))
	}

	s.sendFailedEvent(session, cause)

	return cause
}

func (s *Service) expire(ctx context.Context, session *Session, cause error) error {
	session.Status = SessionStatusExpired

	if err := s.store.Update(ctx, session); err != nil {
		logger.Warn("marking session expired", log.WithError(err))
	}

	s.sendFailedEvent(session, cause)

	return cause
}

func (s *Service) createEvent(session *Session, eventType spi.EventType, e error) (*spi.Event, error) {
	payload := eventPayload{
		ClientID:      session.ClientID,
		IsPreAuthFlow: session.IsPreAuthFlow,
	}

	if e != nil {
		payload.Error = e.Error()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	event := spi.NewEventWithPayload(uuid.NewString(), "oidc4vc", eventType, data)
	event.SessionID = string(session.ID)

	return event, nil
}

func (s *Service) sendEvent(session *Session, eventType spi.EventType) error {
	return s.sendEventWithError(session, eventType, nil)
}

func (s *Service) sendEventWithError(session *Session, eventType spi.EventType, e error) error {
	if s.eventSvc == nil {
		return nil
	}

	event, err := s.createEvent(session, eventType, e)
	if err != nil {
		return err
	}

	return s.eventSvc.Publish(s.eventTopic, event)
}

func (s *Service) sendFailedEvent(session *Session, err error) {
	e := s.sendEventWithError(session, spi.IssuerOIDCInteractionFailed, err)
	logger.Debug("sending failed OIDC issuer event error, ignoring..", log.WithError(e))
}

type eventPayload struct {
	ClientID      string `json:"clientID,omitempty"`
	IsPreAuthFlow bool   `json:"preAuthFlow"`
	Error         string `json:"error,omitempty"`
}

func genNonce() (string, error) {
	nonceBytes := make([]byte, nonceSize)

	if _, err := rand.Read(nonceBytes); err != nil {
		return "", fmt.Errorf("nonce generating random failed: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(nonceBytes), nil
}

// WithDocumentTTL overrides the storage TTL for a single insert.
func WithDocumentTTL(ttl time.Duration) func(insertOptions *InsertOptions) {
	return func(insertOptions *InsertOptions) {
		insertOptions.TTL = ttl
	}
}
