/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package issuance exposes the OIDC4VC issuance protocol over HTTP.
package issuance

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-jose/go-jose/v3"
	"github.com/labstack/echo/v4"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/educred/issuer/pkg/doc/jwt"
	"github.com/educred/issuer/pkg/oidc4vc/composer"
	"github.com/educred/issuer/pkg/service/credentialoffer"
	"github.com/educred/issuer/pkg/service/oidc4vc"
)

var logger = log.New("issuance-api")

type issuanceService interface {
	InitiateAuthorization(ctx context.Context, req *oidc4vc.AuthorizationRequest) (*oidc4vc.Session, error)
	RequestIDToken(ctx context.Context, id oidc4vc.SessionID) (*composer.IDTokenRequest, error)
	HandleIDTokenResponse(ctx context.Context, resp *oidc4vc.IDTokenResponse) (*oidc4vc.AuthorizedResult, error)
	ExchangeAuthorizationCode(ctx context.Context, code, codeVerifier string) (*oidc4vc.TokenResult, error)
	ExchangePreAuthorizedCode(ctx context.Context, preAuthCode, pin string) (*oidc4vc.TokenResult, error)
	VerifyAccessToken(ctx context.Context, rawToken string) (oidc4vc.SessionID, error)
	IssueCredential(ctx context.Context, req *oidc4vc.CredentialRequest) (*oidc4vc.CredentialResult, error)
	DeferredCredential(ctx context.Context, acceptanceToken string) (*oidc4vc.CredentialResult, error)
}

type offerService interface {
	CreateOffer(ctx context.Context, req *credentialoffer.CreateOfferRequest) (*credentialoffer.CreateOfferResult, error)
	GetOfferObject(ctx context.Context, id credentialoffer.OfferID) (*credentialoffer.OfferObject, error)
	Claim(ctx context.Context, id credentialoffer.OfferID, holderDID string) (*credentialoffer.ClaimResult, error)
}

// Config holds configuration for Controller.
type Config struct {
	IssuanceService issuanceService
	OfferService    offerService
	JWKS            *jose.JSONWebKeySet
}

// Controller for the issuance API.
type Controller struct {
	issuance issuanceService
	offers   offerService
	jwks     *jose.JSONWebKeySet
}

// NewController creates a Controller.
func NewController(config *Config) *Controller {
	return &Controller{
		issuance: config.IssuanceService,
		offers:   config.OfferService,
		jwks:     config.JWKS,
	}
}

// Register binds the controller's routes.
func (c *Controller) Register(e *echo.Echo) {
	e.GET("/oidc/jwks", c.JWKS)
	e.GET("/oidc/authorize", c.Authorize)
	e.POST("/oidc/direct_post", c.DirectPost)
	e.POST("/oidc/token", c.Token)
	e.POST("/oidc/credential", c.Credential)
	e.POST("/oidc/credential_deferred", c.DeferredCredential)
	e.POST("/issuer/credential-offers", c.CreateOffer)
	e.GET("/oidc/credential-offers/:id", c.GetOffer)
	e.POST("/issuer/credential-offers/:id/claim", c.ClaimOffer)
}

// JWKS serves the issuer's public signing keys so wallets can verify issued
// credentials and access tokens.
func (c *Controller) JWKS(e echo.Context) error {
	if c.jwks == nil {
		return e.JSON(http.StatusOK, &jose.JSONWebKeySet{})
	}

	return e.JSON(http.StatusOK, c.jwks)
}

// Authorize opens an issuance session and answers with a redirect to the
// self-issued ID-token request deep link.
func (c *Controller) Authorize(e echo.Context) error {
	ctx := e.Request().Context()

	session, err := c.issuance.InitiateAuthorization(ctx, &oidc4vc.AuthorizationRequest{
		ClientID:            e.QueryParam("client_id"),
		RedirectURI:         e.QueryParam("redirect_uri"),
		Scope:               strings.Fields(e.QueryParam("scope")),
		ResponseType:        e.QueryParam("response_type"),
		CodeChallenge:       e.QueryParam("code_challenge"),
		CodeChallengeMethod: e.QueryParam("code_challenge_method"),
		HolderState:         e.QueryParam("state"),
		HolderNonce:         e.QueryParam("nonce"),
		CredentialTypes:     splitNonEmpty(e.QueryParam("credential_types")),
	})
	if err != nil {
		return apiError(e, err)
	}

	request, err := c.issuance.RequestIDToken(ctx, session.ID)
	if err != nil {
		return apiError(e, err)
	}

	return e.Redirect(http.StatusFound, request.RequestURI)
}

// DirectPost receives the wallet's self-issued ID token and answers with a
// redirect carrying the authorization code.
func (c *Controller) DirectPost(e echo.Context) error {
	result, err := c.issuance.HandleIDTokenResponse(e.Request().Context(), &oidc4vc.IDTokenResponse{
		IDToken: e.FormValue("id_token"),
		State:   e.FormValue("state"),
	})
	if err != nil {
		return apiError(e, err)
	}

	return e.JSON(http.StatusOK, map[string]string{
		"redirect_uri": result.RedirectURL,
	})
}

type tokenResponse struct {
	AccessToken     string `json:"access_token"`
	TokenType       string `json:"token_type"`
	ExpiresIn       int64  `json:"expires_in"`
	CNonce          string `json:"c_nonce"`
	CNonceExpiresIn int64  `json:"c_nonce_expires_in"`
}

// Token exchanges an authorization code or pre-authorized code for an access
// token.
func (c *Controller) Token(e echo.Context) error {
	ctx := e.Request().Context()

	var (
		result *oidc4vc.TokenResult
		err    error
	)

	switch grantType := e.FormValue("grant_type"); grantType {
	case composer.GrantTypeAuthorizationCode:
		result, err = c.issuance.ExchangeAuthorizationCode(ctx,
			e.FormValue("code"), e.FormValue("code_verifier"))
	case composer.GrantTypePreAuthorizedCode:
		result, err = c.issuance.ExchangePreAuthorizedCode(ctx,
			e.FormValue("pre-authorized_code"), e.FormValue("user_pin"))
	default:
		return oauthError(e, http.StatusBadRequest, "unsupported_grant_type", grantType)
	}

	if err != nil {
		return apiError(e, err)
	}

	return e.JSON(http.StatusOK, &tokenResponse{
		AccessToken:     result.AccessToken,
		TokenType:       result.TokenType,
		ExpiresIn:       result.ExpiresIn,
		CNonce:          result.CNonce,
		CNonceExpiresIn: result.CNonceExpiresIn,
	})
}

type credentialRequestBody struct {
	Types  []string       `json:"types"`
	Format string         `json:"format"`
	Proof  composer.Proof `json:"proof"`
}

type credentialResponse struct {
	Format          string `json:"format,omitempty"`
	Credential      string `json:"credential,omitempty"`
	AcceptanceToken string `json:"acceptance_token,omitempty"`
}

// Credential issues the credential against a proof of possession.
func (c *Controller) Credential(e echo.Context) error {
	ctx := e.Request().Context()

	token, ok := bearerToken(e)
	if !ok {
		return oauthError(e, http.StatusUnauthorized, "invalid_token", "missing bearer token")
	}

	sessionID, err := c.issuance.VerifyAccessToken(ctx, token)
	if err != nil {
		return oauthError(e, http.StatusUnauthorized, "invalid_token", err.Error())
	}

	var body credentialRequestBody
	if err = e.Bind(&body); err != nil {
		return oauthError(e, http.StatusBadRequest, "invalid_request", err.Error())
	}

	result, err := c.issuance.IssueCredential(ctx, &oidc4vc.CredentialRequest{
		SessionID: sessionID,
		Types:     body.Types,
		ProofJWT:  body.Proof.JWT,
	})
	if err != nil {
		return apiError(e, err)
	}

	if result.Deferred {
		return e.JSON(http.StatusOK, &credentialResponse{
			AcceptanceToken: result.AcceptanceToken,
		})
	}

	return e.JSON(http.StatusOK, &credentialResponse{
		Format:     result.Format,
		Credential: result.Credential,
	})
}

// DeferredCredential continues a deferred issuance. The acceptance token
// arrives as the bearer token.
func (c *Controller) DeferredCredential(e echo.Context) error {
	token, ok := bearerToken(e)
	if !ok {
		return oauthError(e, http.StatusUnauthorized, "invalid_token", "missing acceptance token")
	}

	result, err := c.issuance.DeferredCredential(e.Request().Context(), token)
	if errors.Is(err, oidc4vc.ErrIssuancePending) {
		return e.JSON(http.StatusBadRequest, map[string]string{
			"error":            "issuance_pending",
			"acceptance_token": result.AcceptanceToken,
		})
	}

	if err != nil {
		return apiError(e, err)
	}

	return e.JSON(http.StatusOK, &credentialResponse{
		Format:     result.Format,
		Credential: result.Credential,
	})
}

type createOfferBody struct {
	CredentialTypes  []string               `json:"credential_types"`
	ClaimData        map[string]interface{} `json:"claim_data,omitempty"`
	ClaimDataPending bool                   `json:"claim_data_pending,omitempty"`
	PinRequired      bool                   `json:"pin_required,omitempty"`
	SubjectDID       string                 `json:"subject_did,omitempty"`
}

type createOfferResponse struct {
	OfferID        string `json:"offer_id"`
	OfferURI       string `json:"offer_uri"`
	OfferObjectURI string `json:"offer_object_uri"`
	Pin            string `json:"pin,omitempty"`
}

// CreateOffer mints a credential offer for issuer-initiated issuance.
func (c *Controller) CreateOffer(e echo.Context) error {
	var body createOfferBody
	if err := e.Bind(&body); err != nil {
		return oauthError(e, http.StatusBadRequest, "invalid_request", err.Error())
	}

	result, err := c.offers.CreateOffer(e.Request().Context(), &credentialoffer.CreateOfferRequest{
		CredentialTypes:  body.CredentialTypes,
		ClaimData:        body.ClaimData,
		ClaimDataPending: body.ClaimDataPending,
		PinRequired:      body.PinRequired,
		SubjectDID:       body.SubjectDID,
	})
	if err != nil {
		return apiError(e, err)
	}

	return e.JSON(http.StatusCreated, &createOfferResponse{
		OfferID:        string(result.OfferID),
		OfferURI:       result.OfferURI,
		OfferObjectURI: result.OfferObjectURI,
		Pin:            result.Pin,
	})
}

// GetOffer serves the offer object for by-reference delivery.
func (c *Controller) GetOffer(e echo.Context) error {
	offer, err := c.offers.GetOfferObject(e.Request().Context(), credentialoffer.OfferID(e.Param("id")))
	if err != nil {
		return apiError(e, err)
	}

	return e.JSON(http.StatusOK, offer)
}

type claimOfferBody struct {
	HolderDID string `json:"holder_did"`
}

type claimOfferResponse struct {
	ClaimID   string                 `json:"claim_id"`
	ClaimData map[string]interface{} `json:"claim_data"`
}

// ClaimOffer redeems an offer's claim data for a holder exactly once.
func (c *Controller) ClaimOffer(e echo.Context) error {
	var body claimOfferBody
	if err := e.Bind(&body); err != nil {
		return oauthError(e, http.StatusBadRequest, "invalid_request", err.Error())
	}

	result, err := c.offers.Claim(e.Request().Context(),
		credentialoffer.OfferID(e.Param("id")), body.HolderDID)
	if err != nil {
		return apiError(e, err)
	}

	return e.JSON(http.StatusOK, &claimOfferResponse{
		ClaimID:   string(result.ClaimID),
		ClaimData: result.ClaimData,
	})
}

func bearerToken(e echo.Context) (string, bool) {
	auth := e.Request().Header.Get(echo.HeaderAuthorization)

	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}

	token := strings.TrimPrefix(auth, prefix)
	if token == "" {
		return "", false
	}

	return token, true
}

func splitNonEmpty(value string) []string {
	if value == "" {
		return nil
	}

	return strings.Split(value, ",")
}

// apiError maps service sentinel errors to OAuth-style error responses.
func apiError(e echo.Context, err error) error {
	logger.Warn("issuance api error", log.WithError(err))

	switch {
	case errors.Is(err, oidc4vc.ErrDataNotFound),
		errors.Is(err, credentialoffer.ErrOfferNotFound):
		return oauthError(e, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, oidc4vc.ErrTokenAlreadyUsed),
		errors.Is(err, credentialoffer.ErrOfferAlreadyUsed):
		return oauthError(e, http.StatusBadRequest, "invalid_grant", err.Error())
	case errors.Is(err, oidc4vc.ErrExpired),
		errors.Is(err, credentialoffer.ErrOfferExpired):
		return oauthError(e, http.StatusBadRequest, "invalid_grant", err.Error())
	case errors.Is(err, oidc4vc.ErrBindingMismatch):
		return oauthError(e, http.StatusBadRequest, "invalid_grant", err.Error())
	case errors.Is(err, oidc4vc.ErrSessionTerminal):
		return oauthError(e, http.StatusBadRequest, "invalid_grant", err.Error())
	case errors.Is(err, oidc4vc.ErrInvalidStateTransition):
		return oauthError(e, http.StatusBadRequest, "invalid_grant", err.Error())
	case errors.Is(err, oidc4vc.ErrUnsupportedCodeChallengeMethod):
		return oauthError(e, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, jwt.ErrSignatureInvalid),
		errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenExpired),
		errors.Is(err, jwt.ErrIssuerMismatch):
		return oauthError(e, http.StatusBadRequest, "invalid_proof", err.Error())
	default:
		return oauthError(e, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func oauthError(e echo.Context, status int, code, description string) error {
	return e.JSON(status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}
