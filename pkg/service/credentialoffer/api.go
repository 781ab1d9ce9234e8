/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package credentialoffer

import (
	"context"
	"time"

	"github.com/educred/issuer/pkg/service/oidc4vc"
)

// OfferID identifies a stored credential offer.
type OfferID string

// OfferStatus is the lifecycle status of an offer's claim data.
type OfferStatus string

const (
	OfferStatusPending = OfferStatus("PENDING")
	OfferStatusUsed    = OfferStatus("USED")
	OfferStatusExpired = OfferStatus("EXPIRED")
)

// Offer is a stored credential offer together with the claim data it tracks.
type Offer struct {
	ID OfferID
	OfferData
}

// OfferData is the offer payload kept in storage.
type OfferData struct {
	Status OfferStatus

	CredentialTypes []string
	PreAuthCode     string
	Pin             string
	PinRequired     bool

	SubjectDID string
	ClaimData  map[string]interface{}

	SessionID oidc4vc.SessionID

	ExpiresAt time.Time
	CreatedAt time.Time
}

// offerStore is the row contract owned by the storage layer. Consume is an
// atomic check-and-set: once an offer's claim data is handed out it can never
// be handed out again, even under concurrent requests.
type offerStore interface {
	Create(ctx context.Context, data *OfferData, params ...func(insertOptions *oidc4vc.InsertOptions)) (*Offer, error)
	Get(ctx context.Context, id OfferID) (*Offer, error)
	Update(ctx context.Context, offer *Offer) error
	Consume(ctx context.Context, id OfferID) (*Offer, error)
}

// ClaimID identifies a credential claim record.
type ClaimID string

// ClaimStatus is the lifecycle status of a claim.
type ClaimStatus string

const (
	ClaimStatusPending = ClaimStatus("PENDING")
	ClaimStatusClaimed = ClaimStatus("CLAIMED")
	ClaimStatusExpired = ClaimStatus("EXPIRED")
)

// Claim tracks who redeemed an offer and when.
type Claim struct {
	ID ClaimID
	ClaimRecord
}

// ClaimRecord is the claim payload kept in storage.
type ClaimRecord struct {
	Status ClaimStatus

	OfferID         OfferID
	HolderDID       string
	CredentialTypes []string

	// QRCode is the encoded offer URI handed to the holder.
	QRCode string

	ClaimedAt *time.Time
	CreatedAt time.Time
	ExpiresAt time.Time
}

// claimStore is the row contract for claim records.
type claimStore interface {
	Create(ctx context.Context, record *ClaimRecord) (*Claim, error)
	FindByOfferID(ctx context.Context, offerID OfferID) (*Claim, error)
	Update(ctx context.Context, claim *Claim) error
}

// ClaimResult is the single-use claim hand-off: the claim identity plus the
// offer's claim data.
type ClaimResult struct {
	ClaimID   ClaimID
	ClaimData map[string]interface{}
}

// CreateOfferRequest describes the credential offer to mint.
type CreateOfferRequest struct {
	CredentialTypes []string
	ClaimData       map[string]interface{}
	// ClaimDataPending defers issuance until the claim data is supplied later.
	ClaimDataPending bool
	PinRequired      bool
	SubjectDID       string
}

// CreateOfferResult carries everything the issuer front channel needs to hand
// the offer to the wallet.
type CreateOfferResult struct {
	OfferID OfferID
	// OfferURI is the self-contained openid-credential-offer deep link.
	OfferURI string
	// OfferObjectURI is the by-reference variant pointing at the offer
	// endpoint.
	OfferObjectURI string
	PreAuthCode    string
	// Pin is returned only when the request asked for one; it travels to the
	// user out of band, never inside the offer.
	Pin       string
	SessionID oidc4vc.SessionID
}

// OfferObject is the wire form of a credential offer, as defined by OIDC4VCI.
type OfferObject struct {
	CredentialIssuer string               `json:"credential_issuer"`
	Credentials      []string             `json:"credentials"`
	Grants           map[string]GrantSpec `json:"grants"`
}

// GrantSpec is the per-grant detail inside an offer object.
type GrantSpec struct {
	PreAuthorizedCode string `json:"pre-authorized_code,omitempty"`
	UserPinRequired   bool   `json:"user_pin_required,omitempty"`
}
