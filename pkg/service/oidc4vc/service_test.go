/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package oidc4vc

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-jose/go-jose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/educred/issuer/pkg/did"
	"github.com/educred/issuer/pkg/doc/jwt"
	"github.com/educred/issuer/pkg/event/inmemory"
	"github.com/educred/issuer/pkg/event/spi"
	"github.com/educred/issuer/pkg/oidc4vc/composer"
)

const (
	testIssuerURL    = "https://issuer.example.com"
	testClientID     = "wallet-client"
	testRedirectURI  = "https://wallet.example.com/cb"
	testCodeVerifier = "gs5HVmsTHBKHX8PbvCJwpDsbnWZKmJkvZZaVt5U2Ph8"
	testHolderState  = "wallet-state"
	testHolderNonce  = "wallet-nonce"
)

var testCredentialTypes = []string{"UniversityDegreeCredential"}

type testEnv struct {
	svc    *Service
	store  *fakeSessionStore
	nonces *fakeNonceStore
	clock  *clock.Mock

	issuerDID string
	issuerPub *ecdsa.PublicKey

	holderDID    string
	holderSigner *jwt.Signer

	events []spi.EventType
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	issuerKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	issuerDID, err := did.Create(did.ProfileNaturalPerson, &issuerKey.PublicKey)
	require.NoError(t, err)

	holderKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	holderDID, err := did.Create(did.ProfileNaturalPerson, &holderKey.PublicKey)
	require.NoError(t, err)

	mock := clock.NewMock()
	mock.Set(time.Date(2023, 4, 5, 12, 0, 0, 0, time.UTC))

	env := &testEnv{
		store:        newFakeSessionStore(),
		nonces:       newFakeNonceStore(mock.Now),
		clock:        mock,
		issuerDID:    issuerDID,
		issuerPub:    &issuerKey.PublicKey,
		holderDID:    holderDID,
		holderSigner: jwt.NewSigner(holderKey, holderDID+"#0", jose.ES256),
	}

	bus := inmemory.NewPublisher()
	bus.Subscribe(spi.IssuerEventTopic, func(event *spi.Event) {
		env.events = append(env.events, event.Type)
	})

	env.svc, err = NewService(&Config{
		SessionStore: env.store,
		NonceStore:   env.nonces,
		EventService: bus,
		Signer:       jwt.NewSigner(issuerKey, issuerDID+"#0", jose.ES256),
		IssuerDID:    issuerDID,
		IssuerURL:    testIssuerURL,
		Clock:        mock,
	})
	require.NoError(t, err)

	return env
}

func (env *testEnv) authorizationRequest() *AuthorizationRequest {
	hash := sha256.Sum256([]byte(testCodeVerifier))

	return &AuthorizationRequest{
		ClientID:            testClientID,
		RedirectURI:         testRedirectURI,
		Scope:               []string{"openid"},
		ResponseType:        responseTypeCode,
		CodeChallenge:       base64.RawURLEncoding.EncodeToString(hash[:]),
		CodeChallengeMethod: codeChallengeMethodS256,
		HolderState:         testHolderState,
		HolderNonce:         testHolderNonce,
		CredentialTypes:     testCredentialTypes,
	}
}

// walletIDToken plays the holder wallet: decode the issuer's request object,
// echo its nonce and state in a self-issued ID token.
func (env *testEnv) walletIDToken(t *testing.T, request *composer.IDTokenRequest) *IDTokenResponse {
	t.Helper()

	verified, err := jwt.Verify(request.RequestObject, env.issuerDID, env.issuerPub, jose.ES256, env.clock.Now())
	require.NoError(t, err)

	nonce, _ := verified.Claims["nonce"].(string)
	state, _ := verified.Claims["state"].(string)

	resp, err := composer.NewIDTokenResponseComposer(env.holderSigner).
		WithSubject(env.holderDID).
		WithAudience(testIssuerURL).
		WithNonce(nonce).
		WithState(state).
		Compose()
	require.NoError(t, err)

	return &IDTokenResponse{IDToken: resp.IDToken, State: resp.State}
}

func (env *testEnv) walletProof(t *testing.T, cNonce string) string {
	t.Helper()

	req, err := composer.NewCredentialRequestComposer(env.holderSigner).
		WithIssuer(env.holderDID).
		WithAudience(testIssuerURL).
		WithCNonce(cNonce).
		WithTypes(testCredentialTypes).
		Compose()
	require.NoError(t, err)

	return req.Proof.JWT
}

// authorize walks the session up to a minted authorization code.
func (env *testEnv) authorize(t *testing.T) (SessionID, string) {
	t.Helper()

	ctx := context.Background()

	session, err := env.svc.InitiateAuthorization(ctx, env.authorizationRequest())
	require.NoError(t, err)

	request, err := env.svc.RequestIDToken(ctx, session.ID)
	require.NoError(t, err)

	result, err := env.svc.HandleIDTokenResponse(ctx, env.walletIDToken(t, request))
	require.NoError(t, err)

	redirect, err := url.Parse(result.RedirectURL)
	require.NoError(t, err)
	require.Equal(t, testHolderState, redirect.Query().Get("state"))

	return result.SessionID, redirect.Query().Get("code")
}

func TestAuthorizationCodeFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sessionID, code := env.authorize(t)
	require.NotEmpty(t, code)

	token, err := env.svc.ExchangeAuthorizationCode(ctx, code, testCodeVerifier)
	require.NoError(t, err)
	require.Equal(t, sessionID, token.SessionID)
	require.Equal(t, tokenTypeBearer, token.TokenType)
	require.NotEmpty(t, token.CNonce)

	gotSessionID, err := env.svc.VerifyAccessToken(ctx, token.AccessToken)
	require.NoError(t, err)
	require.Equal(t, sessionID, gotSessionID)

	result, err := env.svc.IssueCredential(ctx, &CredentialRequest{
		SessionID: sessionID,
		Types:     testCredentialTypes,
		ProofJWT:  env.walletProof(t, token.CNonce),
	})
	require.NoError(t, err)
	require.False(t, result.Deferred)
	require.Equal(t, credentialFormatJWT, result.Format)

	verified, err := jwt.Verify(result.Credential, env.issuerDID, env.issuerPub, jose.ES256, env.clock.Now())
	require.NoError(t, err)
	require.Equal(t, env.holderDID, verified.Claims["sub"])

	vc, ok := verified.Claims["vc"].(map[string]interface{})
	require.True(t, ok)
	require.Contains(t, vc["type"], "UniversityDegreeCredential")

	session, err := env.store.Get(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, SessionStatusCompleted, session.Status)
	require.Equal(t, SessionStateCredentialIssued, session.State)

	require.Equal(t, []spi.EventType{
		spi.IssuerOIDCInteractionInitiated,
		spi.IssuerOIDCInteractionIDTokenRequested,
		spi.IssuerOIDCInteractionAuthorized,
		spi.IssuerOIDCInteractionTokenIssued,
		spi.IssuerOIDCInteractionSucceeded,
	}, env.events)
}

func TestInitiateAuthorization_UnsupportedPKCEMethod(t *testing.T) {
	env := newTestEnv(t)

	req := env.authorizationRequest()
	req.CodeChallengeMethod = "plain"

	_, err := env.svc.InitiateAuthorization(context.Background(), req)
	require.ErrorIs(t, err, ErrUnsupportedCodeChallengeMethod)
}

func TestExchangeAuthorizationCode_Replay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, code := env.authorize(t)

	_, err := env.svc.ExchangeAuthorizationCode(ctx, code, testCodeVerifier)
	require.NoError(t, err)

	_, err = env.svc.ExchangeAuthorizationCode(ctx, code, testCodeVerifier)
	require.ErrorIs(t, err, ErrTokenAlreadyUsed)
}

func TestExchangeAuthorizationCode_PKCEMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, code := env.authorize(t)

	_, err := env.svc.ExchangeAuthorizationCode(ctx, code, "wrong-verifier")
	require.ErrorIs(t, err, ErrBindingMismatch)

	// a failed verifier check must not burn the code
	_, err = env.svc.ExchangeAuthorizationCode(ctx, code, testCodeVerifier)
	require.NoError(t, err)
}

func TestHandleIDTokenResponse_NonceMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	session, err := env.svc.InitiateAuthorization(ctx, env.authorizationRequest())
	require.NoError(t, err)

	request, err := env.svc.RequestIDToken(ctx, session.ID)
	require.NoError(t, err)

	verified, err := jwt.Verify(request.RequestObject, env.issuerDID, env.issuerPub, jose.ES256, env.clock.Now())
	require.NoError(t, err)

	resp, err := composer.NewIDTokenResponseComposer(env.holderSigner).
		WithSubject(env.holderDID).
		WithAudience(testIssuerURL).
		WithNonce("not-the-issuer-nonce").
		WithState(verified.Claims["state"].(string)).
		Compose()
	require.NoError(t, err)

	_, err = env.svc.HandleIDTokenResponse(ctx, &IDTokenResponse{IDToken: resp.IDToken, State: resp.State})
	require.ErrorIs(t, err, ErrBindingMismatch)

	stored, err := env.store.Get(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, SessionStatusRejected, stored.Status)

	// the rejected session accepts no further operations
	_, err = env.svc.RequestIDToken(ctx, session.ID)
	require.ErrorIs(t, err, ErrSessionTerminal)

	require.Contains(t, env.events, spi.IssuerOIDCInteractionFailed)
}

func TestHandleIDTokenResponse_UnknownState(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.HandleIDTokenResponse(context.Background(), &IDTokenResponse{
		IDToken: "any",
		State:   "unknown-state",
	})
	require.ErrorIs(t, err, ErrBindingMismatch)
}

func TestPreAuthorizedFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pin, err := NewPinGenerator().Generate()
	require.NoError(t, err)
	require.Len(t, pin, 6)

	session, err := env.svc.InitiatePreAuthorizedIssuance(ctx, &PreAuthorizedIssuanceRequest{
		Pin:             pin,
		CredentialTypes: testCredentialTypes,
		ClaimData:       map[string]interface{}{"degree": "Bachelor of Science"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, session.PreAuthCode)

	_, err = env.svc.ExchangePreAuthorizedCode(ctx, session.PreAuthCode, "000000")
	require.ErrorIs(t, err, ErrBindingMismatch)

	// a wrong PIN must not burn the code
	token, err := env.svc.ExchangePreAuthorizedCode(ctx, session.PreAuthCode, pin)
	require.NoError(t, err)

	_, err = env.svc.ExchangePreAuthorizedCode(ctx, session.PreAuthCode, pin)
	require.ErrorIs(t, err, ErrTokenAlreadyUsed)

	result, err := env.svc.IssueCredential(ctx, &CredentialRequest{
		SessionID: token.SessionID,
		Types:     testCredentialTypes,
		ProofJWT:  env.walletProof(t, token.CNonce),
	})
	require.NoError(t, err)
	require.False(t, result.Deferred)

	verified, err := jwt.Verify(result.Credential, env.issuerDID, env.issuerPub, jose.ES256, env.clock.Now())
	require.NoError(t, err)

	vc, ok := verified.Claims["vc"].(map[string]interface{})
	require.True(t, ok)

	subject, ok := vc["credentialSubject"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Bachelor of Science", subject["degree"])
	assert.Equal(t, env.holderDID, subject["id"])

	require.Equal(t, []spi.EventType{
		spi.IssuerOIDCInteractionInitiated,
		spi.IssuerOIDCInteractionQRScanned,
		spi.IssuerOIDCInteractionTokenIssued,
		spi.IssuerOIDCInteractionSucceeded,
	}, env.events)
}

func TestIssueCredential_CNonceExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, code := env.authorize(t)

	token, err := env.svc.ExchangeAuthorizationCode(ctx, code, testCodeVerifier)
	require.NoError(t, err)

	env.clock.Add(defaultCNonceTTL + time.Minute)

	_, err = env.svc.IssueCredential(ctx, &CredentialRequest{
		SessionID: token.SessionID,
		Types:     testCredentialTypes,
		ProofJWT:  env.walletProof(t, token.CNonce),
	})
	require.ErrorIs(t, err, ErrExpired)

	stored, err := env.store.Get(ctx, token.SessionID)
	require.NoError(t, err)
	require.Equal(t, SessionStatusExpired, stored.Status)
}

func TestIssueCredential_CNonceReplay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, code := env.authorize(t)

	token, err := env.svc.ExchangeAuthorizationCode(ctx, code, testCodeVerifier)
	require.NoError(t, err)

	// consumed out-of-band, e.g. by a concurrent request that lost later
	env.nonces.drop(token.CNonce)

	_, err = env.svc.IssueCredential(ctx, &CredentialRequest{
		SessionID: token.SessionID,
		Types:     testCredentialTypes,
		ProofJWT:  env.walletProof(t, token.CNonce),
	})
	require.ErrorIs(t, err, ErrTokenAlreadyUsed)
}

func TestIssueCredential_UnknownCNonce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, code := env.authorize(t)

	token, err := env.svc.ExchangeAuthorizationCode(ctx, code, testCodeVerifier)
	require.NoError(t, err)

	_, err = env.svc.IssueCredential(ctx, &CredentialRequest{
		SessionID: token.SessionID,
		Types:     testCredentialTypes,
		ProofJWT:  env.walletProof(t, "never-issued-nonce"),
	})
	require.ErrorIs(t, err, ErrBindingMismatch)
}

func TestIssueCredential_WrongProofType(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, code := env.authorize(t)

	token, err := env.svc.ExchangeAuthorizationCode(ctx, code, testCodeVerifier)
	require.NoError(t, err)

	// a plain JWT without the proof typ header must be rejected
	plain, err := env.holderSigner.Sign(map[string]interface{}{
		"iss":   env.holderDID,
		"aud":   testIssuerURL,
		"nonce": token.CNonce,
	}, nil)
	require.NoError(t, err)

	_, err = env.svc.IssueCredential(ctx, &CredentialRequest{
		SessionID: token.SessionID,
		Types:     testCredentialTypes,
		ProofJWT:  plain,
	})
	require.ErrorIs(t, err, jwt.ErrTokenMalformed)
}

func TestIssueCredential_BeforeTokenIssued(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	session, err := env.svc.InitiateAuthorization(ctx, env.authorizationRequest())
	require.NoError(t, err)

	_, err = env.svc.IssueCredential(ctx, &CredentialRequest{
		SessionID: session.ID,
		Types:     testCredentialTypes,
		ProofJWT:  "unused",
	})
	require.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestExchangeAuthorizationCode_EmptyCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.authorize(t)

	_, err := env.svc.ExchangeAuthorizationCode(ctx, "", testCodeVerifier)
	require.ErrorIs(t, err, ErrDataNotFound)
}

func TestExchangePreAuthorizedCode_EmptyCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// the authorization-code session has no pre-authorized code or PIN set;
	// an empty code must not match it and mint a token without PKCE
	env.authorize(t)

	_, err := env.svc.ExchangePreAuthorizedCode(ctx, "", "any-pin")
	require.ErrorIs(t, err, ErrDataNotFound)
}

func TestDeferredCredential_EmptyToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, code := env.authorize(t)

	// the session's acceptance token is unset; an empty token must not match
	// it and sign a credential without any proof of possession
	_, err := env.svc.ExchangeAuthorizationCode(ctx, code, testCodeVerifier)
	require.NoError(t, err)

	_, err = env.svc.DeferredCredential(ctx, "")
	require.ErrorIs(t, err, ErrDataNotFound)
}

func TestDeferredCredential_BeforeCredentialRequested(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, code := env.authorize(t)

	token, err := env.svc.ExchangeAuthorizationCode(ctx, code, testCodeVerifier)
	require.NoError(t, err)

	session, err := env.store.Get(ctx, token.SessionID)
	require.NoError(t, err)

	session.AcceptanceToken = "premature-token"
	require.NoError(t, env.store.Update(ctx, session))

	_, err = env.svc.DeferredCredential(ctx, "premature-token")
	require.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestSessionExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	session, err := env.svc.InitiateAuthorization(ctx, env.authorizationRequest())
	require.NoError(t, err)

	env.clock.Add(defaultSessionTTL + time.Minute)

	_, err = env.svc.RequestIDToken(ctx, session.ID)
	require.ErrorIs(t, err, ErrExpired)

	stored, err := env.store.Get(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, SessionStatusExpired, stored.Status)
}

func TestDeferredIssuance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	session, err := env.svc.InitiatePreAuthorizedIssuance(ctx, &PreAuthorizedIssuanceRequest{
		CredentialTypes:  testCredentialTypes,
		ClaimDataPending: true,
	})
	require.NoError(t, err)

	token, err := env.svc.ExchangePreAuthorizedCode(ctx, session.PreAuthCode, "")
	require.NoError(t, err)

	result, err := env.svc.IssueCredential(ctx, &CredentialRequest{
		SessionID: token.SessionID,
		Types:     testCredentialTypes,
		ProofJWT:  env.walletProof(t, token.CNonce),
	})
	require.NoError(t, err)
	require.True(t, result.Deferred)
	require.NotEmpty(t, result.AcceptanceToken)

	// still pending: the token is consumed and a fresh one handed back
	next, err := env.svc.DeferredCredential(ctx, result.AcceptanceToken)
	require.ErrorIs(t, err, ErrIssuancePending)
	require.True(t, next.Deferred)
	require.NotEqual(t, result.AcceptanceToken, next.AcceptanceToken)

	require.NoError(t, env.svc.ProvideClaimData(ctx, token.SessionID, map[string]interface{}{
		"degree": "Master of Science",
	}))

	final, err := env.svc.DeferredCredential(ctx, next.AcceptanceToken)
	require.NoError(t, err)
	require.False(t, final.Deferred)
	require.NotEmpty(t, final.Credential)

	stored, err := env.store.Get(ctx, token.SessionID)
	require.NoError(t, err)
	require.Equal(t, SessionStatusCompleted, stored.Status)

	_, err = env.svc.DeferredCredential(ctx, next.AcceptanceToken)
	require.Error(t, err)
}

func TestDeferredIssuance_ProofReplay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	session, err := env.svc.InitiatePreAuthorizedIssuance(ctx, &PreAuthorizedIssuanceRequest{
		CredentialTypes:  testCredentialTypes,
		ClaimDataPending: true,
	})
	require.NoError(t, err)

	token, err := env.svc.ExchangePreAuthorizedCode(ctx, session.PreAuthCode, "")
	require.NoError(t, err)

	proof := env.walletProof(t, token.CNonce)

	_, err = env.svc.IssueCredential(ctx, &CredentialRequest{
		SessionID: token.SessionID,
		Types:     testCredentialTypes,
		ProofJWT:  proof,
	})
	require.NoError(t, err)

	_, err = env.svc.IssueCredential(ctx, &CredentialRequest{
		SessionID: token.SessionID,
		Types:     testCredentialTypes,
		ProofJWT:  proof,
	})
	require.ErrorIs(t, err, ErrTokenAlreadyUsed)
}

func TestVerifyAccessToken_Garbage(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.VerifyAccessToken(context.Background(), "not-a-jwt")
	require.ErrorIs(t, err, jwt.ErrTokenMalformed)
}

func TestValidateStateTransition(t *testing.T) {
	require.NoError(t, validateStateTransition(SessionStateAuthRequested, SessionStateIDTokenRequested))
	require.NoError(t, validateStateTransition(SessionStateIDTokenRequested, SessionStateAuthorized))
	require.NoError(t, validateStateTransition(SessionStateAuthorized, SessionStateTokenIssued))
	require.NoError(t, validateStateTransition(SessionStatePreAuthorized, SessionStateTokenIssued))
	require.NoError(t, validateStateTransition(SessionStateTokenIssued, SessionStateCredentialRequested))
	require.NoError(t, validateStateTransition(SessionStateCredentialRequested, SessionStateCredentialIssued))

	require.ErrorIs(t, validateStateTransition(SessionStateAuthRequested, SessionStateTokenIssued),
		ErrInvalidStateTransition)
	require.ErrorIs(t, validateStateTransition(SessionStateCredentialIssued, SessionStateTokenIssued),
		ErrInvalidStateTransition)
}

func TestPinGenerator(t *testing.T) {
	gen := NewPinGenerator()

	for i := 0; i < 10; i++ {
		pin, err := gen.Generate()
		require.NoError(t, err)
		require.Len(t, pin, 6)
		require.Regexp(t, "^[0-9]{6}$", pin)
	}

	require.True(t, gen.Validate("123456", "123456"))
	require.False(t, gen.Validate("123456", "654321"))
	require.False(t, gen.Validate("", ""))
}
