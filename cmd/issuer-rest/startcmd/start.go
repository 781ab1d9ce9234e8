/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package startcmd wires the issuer REST service together and starts it.
package startcmd

import (
	"context"
	"fmt"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"github.com/trustbloc/logutil-go/pkg/log"

	"github.com/educred/issuer/pkg/did"
	"github.com/educred/issuer/pkg/doc/jwt"
	"github.com/educred/issuer/pkg/event/inmemory"
	"github.com/educred/issuer/pkg/kms/key"
	"github.com/educred/issuer/pkg/restapi/v1/issuance"
	"github.com/educred/issuer/pkg/service/credentialoffer"
	"github.com/educred/issuer/pkg/service/oidc4vc"
	"github.com/educred/issuer/pkg/storage/mongodb"
	"github.com/educred/issuer/pkg/storage/mongodb/credentialclaimstore"
	"github.com/educred/issuer/pkg/storage/mongodb/credentialofferstore"
	"github.com/educred/issuer/pkg/storage/mongodb/oidc4vcstore"
	"github.com/educred/issuer/pkg/storage/redis"
	"github.com/educred/issuer/pkg/storage/redis/noncestore"

	"github.com/go-jose/go-jose/v3"
)

const issuerKeyID = "keys-1"

var logger = log.New("issuer-rest")

// NewStartCmd creates the start command.
func NewStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Starts the issuer REST service",
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := getStartupParameters(cmd)
			if err != nil {
				return err
			}

			return runStart(params)
		},
	}

	createFlags(cmd)

	return cmd
}

func runStart(params *startupParameters) error {
	pair, err := key.FromPrivateKeyHex(params.issuerKeyHex, issuerKeyID)
	if err != nil {
		return fmt.Errorf("load issuer key: %w", err)
	}

	issuerDID, err := did.Create(did.Profile(params.didProfile), pair.PublicKey())
	if err != nil {
		return fmt.Errorf("derive issuer did: %w", err)
	}

	logger.Info("issuer identity derived", log.WithID(issuerDID))

	signer := jwt.NewSigner(pair.Signer(), issuerDID+"#"+issuerKeyID, jose.ES256)

	mongoClient, err := mongodb.New(params.mongoDBURL, params.mongoDBDatabase)
	if err != nil {
		return fmt.Errorf("connect mongodb: %w", err)
	}

	defer func() {
		if closeErr := mongoClient.Close(); closeErr != nil {
			logger.Warn("closing mongodb client", log.WithError(closeErr))
		}
	}()

	redisOpts := []redis.ClientOpt{}
	if params.redisPassword != "" {
		redisOpts = append(redisOpts, redis.WithPassword(params.redisPassword))
	}

	redisClient, err := redis.New(params.redisAddrs, redisOpts...)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	defer func() {
		if closeErr := redisClient.Close(); closeErr != nil {
			logger.Warn("closing redis client", log.WithError(closeErr))
		}
	}()

	ctx := context.Background()

	sessionStore, err := oidc4vcstore.New(ctx, mongoClient)
	if err != nil {
		return fmt.Errorf("create session store: %w", err)
	}

	offerStore, err := credentialofferstore.New(ctx, mongoClient)
	if err != nil {
		return fmt.Errorf("create offer store: %w", err)
	}

	claimStore, err := credentialclaimstore.New(ctx, mongoClient)
	if err != nil {
		return fmt.Errorf("create claim store: %w", err)
	}

	issuanceSvc, err := oidc4vc.NewService(&oidc4vc.Config{
		SessionStore: sessionStore,
		NonceStore:   noncestore.New(redisClient),
		EventService: inmemory.NewPublisher(),
		Signer:       signer,
		IssuerDID:    issuerDID,
		IssuerURL:    params.externalURL,
		SessionTTL:   params.sessionTTL,
	})
	if err != nil {
		return fmt.Errorf("create issuance service: %w", err)
	}

	offerSvc, err := credentialoffer.NewService(&credentialoffer.Config{
		OfferStore: offerStore,
		ClaimStore: claimStore,
		Issuance:   issuanceSvc,
		IssuerURL:  params.externalURL,
	})
	if err != nil {
		return fmt.Errorf("create offer service: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	issuance.NewController(&issuance.Config{
		IssuanceService: issuanceSvc,
		OfferService:    offerSvc,
		JWKS:            &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{*pair.JoseJWK()}},
	}).Register(e)

	logger.Info("starting issuer-rest server on host " + params.hostURL)

	return e.Start(params.hostURL)
}
