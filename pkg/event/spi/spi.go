/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package spi defines the event contract shared by the issuance services and
// the event bus implementations.
package spi

import "time"

const (
	// IssuerEventTopic issuer topic name.
	IssuerEventTopic = "issuer-oidc"
)

// EventType event type.
type EventType string

const (
	// IssuerOIDCInteractionInitiated issuance session created.
	IssuerOIDCInteractionInitiated = EventType("oidc_interaction_initiated")
	// IssuerOIDCInteractionQRScanned pre-authorized code validated.
	IssuerOIDCInteractionQRScanned = EventType("oidc_interaction_qr_scanned")
	// IssuerOIDCInteractionIDTokenRequested wallet asked for an ID token.
	IssuerOIDCInteractionIDTokenRequested = EventType("oidc_interaction_id_token_requested")
	// IssuerOIDCInteractionAuthorized holder ID token validated, code minted.
	IssuerOIDCInteractionAuthorized = EventType("oidc_interaction_authorized")
	// IssuerOIDCInteractionTokenIssued authorization code exchanged.
	IssuerOIDCInteractionTokenIssued = EventType("oidc_interaction_token_issued")
	// IssuerOIDCInteractionSucceeded credential issued.
	IssuerOIDCInteractionSucceeded = EventType("oidc_interaction_succeeded")
	// IssuerOIDCInteractionFailed session step rejected.
	IssuerOIDCInteractionFailed = EventType("oidc_interaction_failed")
)

// Payload is the raw event payload.
type Payload []byte

// Event published on each issuance session transition.
type Event struct {
	// ID identifies the event (required).
	ID string `json:"id"`

	// Source is URI for producer (required).
	Source string `json:"source"`

	// Type defines event type (required).
	Type EventType `json:"type"`

	// Time defines time of occurrence (required).
	Time time.Time `json:"time"`

	// SessionID links the event to an issuance session (optional).
	SessionID string `json:"sessionID,omitempty"`

	// Data defines the payload (optional).
	Data Payload `json:"data,omitempty"`
}

// NewEventWithPayload creates a new Event with payload.
func NewEventWithPayload(uuid string, source string, eventType EventType, payload Payload) *Event {
	return &Event{
		ID:     uuid,
		Source: source,
		Type:   eventType,
		Time:   time.Now(),
		Data:   payload,
	}
}
