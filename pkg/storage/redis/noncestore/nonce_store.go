/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package noncestore keeps single-use proof-of-possession nonces in Redis.
package noncestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/educred/issuer/pkg/service/oidc4vc"
	redisclient "github.com/educred/issuer/pkg/storage/redis"
)

const keyPrefix = "oidc4vc_nonce_"

// ttlMargin keeps the record around past its logical expiry so a late proof
// can be reported as expired instead of unknown.
const ttlMargin = time.Minute

// Store is a Redis-backed nonce store.
type Store struct {
	redisClient *redisclient.Client
}

// New creates a Store.
func New(redisClient *redisclient.Client) *Store {
	return &Store{redisClient: redisClient}
}

// SetIfNotExist stores the nonce unless it already exists. SETNX is the
// atomicity point for nonce creation.
func (s *Store) SetIfNotExist(
	ctx context.Context,
	nonce string,
	sessionID oidc4vc.SessionID,
	ttl time.Duration,
) (bool, error) {
	record := &oidc4vc.Nonce{
		SessionID: sessionID,
		ExpiresAt: time.Now().Add(ttl),
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("marshal nonce record: %w", err)
	}

	ok, err := s.redisClient.API().SetNX(ctx, keyPrefix+nonce, payload, ttl+ttlMargin).Result()
	if err != nil {
		return false, fmt.Errorf("setnx nonce: %w", err)
	}

	return ok, nil
}

// GetAndDelete consumes the nonce in one round trip. GETDEL guarantees no two
// callers ever both see the same nonce.
func (s *Store) GetAndDelete(ctx context.Context, nonce string) (*oidc4vc.Nonce, bool, error) {
	payload, err := s.redisClient.API().GetDel(ctx, keyPrefix+nonce).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("getdel nonce: %w", err)
	}

	var record oidc4vc.Nonce
	if err = json.Unmarshal(payload, &record); err != nil {
		return nil, false, fmt.Errorf("unmarshal nonce record: %w", err)
	}

	return &record, true, nil
}
