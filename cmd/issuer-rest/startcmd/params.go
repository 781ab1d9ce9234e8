/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const (
	hostURLFlagName  = "host-url"
	hostURLEnvKey    = "ISSUER_HOST_URL"
	hostURLFlagUsage = "Host and port to listen on, e.g. 0.0.0.0:8075." +
		" Alternatively, this can be set with the following environment variable: " + hostURLEnvKey

	externalURLFlagName  = "external-url"
	externalURLEnvKey    = "ISSUER_EXTERNAL_URL"
	externalURLFlagUsage = "Public base URL of this issuer, used in protocol messages." +
		" Alternatively, this can be set with the following environment variable: " + externalURLEnvKey

	issuerKeyFlagName  = "issuer-private-key"
	issuerKeyEnvKey    = "ISSUER_PRIVATE_KEY_HEX" //nolint:gosec
	issuerKeyFlagUsage = "Hex-encoded P-256 private key scalar used for signing." +
		" Alternatively, this can be set with the following environment variable: " + issuerKeyEnvKey

	didProfileFlagName  = "did-profile"
	didProfileEnvKey    = "ISSUER_DID_PROFILE"
	didProfileFlagUsage = "DID derivation profile: natural-person or legal-entity. Defaults to natural-person." +
		" Alternatively, this can be set with the following environment variable: " + didProfileEnvKey

	mongoDBURLFlagName  = "mongodb-url"
	mongoDBURLEnvKey    = "ISSUER_MONGODB_URL"
	mongoDBURLFlagUsage = "MongoDB connection string." +
		" Alternatively, this can be set with the following environment variable: " + mongoDBURLEnvKey

	mongoDBDatabaseFlagName  = "mongodb-database"
	mongoDBDatabaseEnvKey    = "ISSUER_MONGODB_DATABASE"
	mongoDBDatabaseFlagUsage = "MongoDB database name. Defaults to issuer." +
		" Alternatively, this can be set with the following environment variable: " + mongoDBDatabaseEnvKey

	redisURLFlagName  = "redis-url"
	redisURLEnvKey    = "ISSUER_REDIS_URL"
	redisURLFlagUsage = "Comma-separated Redis addresses." +
		" Alternatively, this can be set with the following environment variable: " + redisURLEnvKey

	redisPasswordFlagName  = "redis-password"
	redisPasswordEnvKey    = "ISSUER_REDIS_PASSWORD" //nolint:gosec
	redisPasswordFlagUsage = "Redis auth password (optional)." +
		" Alternatively, this can be set with the following environment variable: " + redisPasswordEnvKey

	sessionTTLFlagName  = "session-ttl"
	sessionTTLEnvKey    = "ISSUER_SESSION_TTL"
	sessionTTLFlagUsage = "Issuance session lifetime, e.g. 10m (optional)." +
		" Alternatively, this can be set with the following environment variable: " + sessionTTLEnvKey

	defaultMongoDBDatabase = "issuer"
)

type startupParameters struct {
	hostURL         string
	externalURL     string
	issuerKeyHex    string
	didProfile      string
	mongoDBURL      string
	mongoDBDatabase string
	redisAddrs      []string
	redisPassword   string
	sessionTTL      time.Duration
}

func createFlags(cmd *cobra.Command) {
	cmd.Flags().StringP(hostURLFlagName, "", "", hostURLFlagUsage)
	cmd.Flags().StringP(externalURLFlagName, "", "", externalURLFlagUsage)
	cmd.Flags().StringP(issuerKeyFlagName, "", "", issuerKeyFlagUsage)
	cmd.Flags().StringP(didProfileFlagName, "", "", didProfileFlagUsage)
	cmd.Flags().StringP(mongoDBURLFlagName, "", "", mongoDBURLFlagUsage)
	cmd.Flags().StringP(mongoDBDatabaseFlagName, "", "", mongoDBDatabaseFlagUsage)
	cmd.Flags().StringP(redisURLFlagName, "", "", redisURLFlagUsage)
	cmd.Flags().StringP(redisPasswordFlagName, "", "", redisPasswordFlagUsage)
	cmd.Flags().StringP(sessionTTLFlagName, "", "", sessionTTLFlagUsage)
}

func getStartupParameters(cmd *cobra.Command) (*startupParameters, error) {
	hostURL, err := getUserSetVar(cmd, hostURLFlagName, hostURLEnvKey, false)
	if err != nil {
		return nil, err
	}

	externalURL, err := getUserSetVar(cmd, externalURLFlagName, externalURLEnvKey, false)
	if err != nil {
		return nil, err
	}

	issuerKeyHex, err := getUserSetVar(cmd, issuerKeyFlagName, issuerKeyEnvKey, false)
	if err != nil {
		return nil, err
	}

	mongoDBURL, err := getUserSetVar(cmd, mongoDBURLFlagName, mongoDBURLEnvKey, false)
	if err != nil {
		return nil, err
	}

	redisURL, err := getUserSetVar(cmd, redisURLFlagName, redisURLEnvKey, false)
	if err != nil {
		return nil, err
	}

	didProfile, err := getUserSetVar(cmd, didProfileFlagName, didProfileEnvKey, true)
	if err != nil {
		return nil, err
	}

	if didProfile == "" {
		didProfile = "natural-person"
	}

	mongoDBDatabase, err := getUserSetVar(cmd, mongoDBDatabaseFlagName, mongoDBDatabaseEnvKey, true)
	if err != nil {
		return nil, err
	}

	if mongoDBDatabase == "" {
		mongoDBDatabase = defaultMongoDBDatabase
	}

	redisPassword, err := getUserSetVar(cmd, redisPasswordFlagName, redisPasswordEnvKey, true)
	if err != nil {
		return nil, err
	}

	sessionTTLStr, err := getUserSetVar(cmd, sessionTTLFlagName, sessionTTLEnvKey, true)
	if err != nil {
		return nil, err
	}

	var sessionTTL time.Duration

	if sessionTTLStr != "" {
		if sessionTTL, err = time.ParseDuration(sessionTTLStr); err != nil {
			return nil, fmt.Errorf("parse %s: %w", sessionTTLFlagName, err)
		}
	}

	return &startupParameters{
		hostURL:         hostURL,
		externalURL:     externalURL,
		issuerKeyHex:    issuerKeyHex,
		didProfile:      didProfile,
		mongoDBURL:      mongoDBURL,
		mongoDBDatabase: mongoDBDatabase,
		redisAddrs:      strings.Split(redisURL, ","),
		redisPassword:   redisPassword,
		sessionTTL:      sessionTTL,
	}, nil
}

func getUserSetVar(cmd *cobra.Command, flagName, envKey string, optional bool) (string, error) {
	if cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetString(flagName)
		if err != nil {
			return "", fmt.Errorf("%s flag not found: %w", flagName, err)
		}

		return value, nil
	}

	if value, ok := os.LookupEnv(envKey); ok {
		return value, nil
	}

	if optional {
		return "", nil
	}

	return "", fmt.Errorf(
		"neither %s (command line flag) nor %s (environment variable) have been set",
		flagName, envKey)
}
