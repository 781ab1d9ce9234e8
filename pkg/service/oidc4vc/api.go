/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package oidc4vc

import (
	"context"
	"time"
)

// SessionID defines type for issuance session ID.
type SessionID string

// Session is the authoritative record of one in-flight issuance or
// authorization attempt. The issuer creates a session when an authorization
// request arrives and advances its state as the protocol progresses.
type Session struct {
	ID SessionID
	SessionData
}

// SessionState is the protocol step the session currently stands at.
type SessionState int16

const (
	SessionStateUnknown             = SessionState(0)
	SessionStateAuthRequested       = SessionState(1)
	SessionStateIDTokenRequested    = SessionState(2)
	SessionStateAuthorized          = SessionState(3)
	SessionStatePreAuthorized       = SessionState(4) // pre-auth only
	SessionStateTokenIssued         = SessionState(5)
	SessionStateCredentialRequested = SessionState(6)
	SessionStateCredentialIssued    = SessionState(7)
)

// String names the protocol step for logs and error messages.
func (s SessionState) String() string {
	switch s {
	case SessionStateAuthRequested:
		return "auth-requested"
	case SessionStateIDTokenRequested:
		return "id-token-requested"
	case SessionStateAuthorized:
		return "authorized"
	case SessionStatePreAuthorized:
		return "pre-authorized"
	case SessionStateTokenIssued:
		return "token-issued"
	case SessionStateCredentialRequested:
		return "credential-requested"
	case SessionStateCredentialIssued:
		return "credential-issued"
	default:
		return "unknown"
	}
}

// SessionStatus is the lifecycle status of the session.
type SessionStatus string

const (
	SessionStatusActive    = SessionStatus("ACTIVE")
	SessionStatusCompleted = SessionStatus("COMPLETED")
	SessionStatusExpired   = SessionStatus("EXPIRED")
	SessionStatusRejected  = SessionStatus("REJECTED")
)

// SessionData is the session payload stored in the underlying storage.
type SessionData struct {
	State  SessionState
	Status SessionStatus

	ClientID     string
	RedirectURI  string
	Scope        []string
	ResponseType string

	// Binding values supplied by the holder wallet at authorization time and
	// echoed back on the authorization response.
	HolderState string
	HolderNonce string

	// Binding values minted by the issuer for the self-issued ID-token round
	// trip; the wallet must echo them in its ID token.
	IssuerState string
	IssuerNonce string

	CodeChallenge       string
	CodeChallengeMethod string

	// AuthCode is the single-use authorization code, set once the holder's
	// ID token validates. Consumption is atomic at the storage layer.
	AuthCode     string
	AuthCodeUsed bool

	IsPreAuthFlow   bool
	PreAuthCode     string
	PreAuthCodePin  string
	PreAuthCodeUsed bool

	CNonce          string
	CNonceExpiresAt *time.Time

	// AcceptanceToken is the deferred-issuance continuation token, set when
	// the credential cannot be issued synchronously.
	AcceptanceToken     string
	AcceptanceTokenUsed bool

	HolderDID        string
	CredentialTypes  []string
	ClaimData        map[string]interface{}
	ClaimDataPending bool

	ExpiresAt time.Time
	CreatedAt time.Time
}

// InsertOptions holds per-insert storage options.
type InsertOptions struct {
	TTL time.Duration
}

// sessionStore is the row contract owned by the storage layer. Consume
// operations are atomic check-and-set updates: they fail with
// ErrTokenAlreadyUsed rather than re-reporting success for a token that was
// already consumed, even under concurrent requests.
type sessionStore interface {
	Create(ctx context.Context, data *SessionData, params ...func(insertOptions *InsertOptions)) (*Session, error)
	Get(ctx context.Context, id SessionID) (*Session, error)
	FindByIssuerState(ctx context.Context, issuerState string) (*Session, error)
	FindByAuthCode(ctx context.Context, code string) (*Session, error)
	FindByPreAuthCode(ctx context.Context, code string) (*Session, error)
	FindByAcceptanceToken(ctx context.Context, token string) (*Session, error)
	Update(ctx context.Context, session *Session) error
	ConsumeAuthCode(ctx context.Context, code string) (*Session, error)
	ConsumePreAuthCode(ctx context.Context, code string) (*Session, error)
	ConsumeAcceptanceToken(ctx context.Context, token string) (*Session, error)
}

// Nonce is a single-use proof-of-possession nonce record.
type Nonce struct {
	SessionID SessionID `json:"sessionID"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// nonceStore keeps cNonce values. GetAndDelete consumes the nonce in one
// operation so a replayed proof can never validate twice.
type nonceStore interface {
	SetIfNotExist(ctx context.Context, nonce string, sessionID SessionID, ttl time.Duration) (bool, error)
	GetAndDelete(ctx context.Context, nonce string) (*Nonce, bool, error)
}

// AuthorizationRequest captures the OAuth framing of an incoming
// authorization request.
type AuthorizationRequest struct {
	ClientID            string
	RedirectURI         string
	Scope               []string
	ResponseType        string
	CodeChallenge       string
	CodeChallengeMethod string
	HolderState         string
	HolderNonce         string
	CredentialTypes     []string
}

// PreAuthorizedIssuanceRequest seeds a session for the pre-authorized code
// flow, normally from an issuer-initiated credential offer.
type PreAuthorizedIssuanceRequest struct {
	PreAuthCode      string
	Pin              string
	SubjectDID       string
	CredentialTypes  []string
	ClaimData        map[string]interface{}
	ClaimDataPending bool
}

// IDTokenResponse is the wallet's direct-post payload.
type IDTokenResponse struct {
	IDToken string
	State   string
}

// AuthorizedResult is returned once the holder's ID token validated and an
// authorization code was minted.
type AuthorizedResult struct {
	SessionID   SessionID
	RedirectURL string
}

// TokenResult is the token endpoint response material.
type TokenResult struct {
	SessionID       SessionID
	AccessToken     string
	TokenType       string
	ExpiresIn       int64
	CNonce          string
	CNonceExpiresIn int64
}

// CredentialRequest is the credential endpoint payload after transport
// decoding: the requested types and the holder's proof-of-possession JWT.
type CredentialRequest struct {
	SessionID SessionID
	Types     []string
	ProofJWT  string
}

// CredentialResult carries the signed credential, or an acceptance token when
// issuance is deferred.
type CredentialResult struct {
	Credential      string
	Format          string
	AcceptanceToken string
	Deferred        bool
}
