/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package redis provides a thin client wrapper shared by the Redis-backed
// stores.
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTimeout = 5 * time.Second

// Client wraps a universal redis client.
type Client struct {
	client redis.UniversalClient
}

type clientOptions struct {
	masterName string
	password   string
	timeout    time.Duration
}

// ClientOpt configures the client.
type ClientOpt func(*clientOptions)

// WithMasterName enables sentinel failover mode.
func WithMasterName(masterName string) ClientOpt {
	return func(opts *clientOptions) {
		opts.masterName = masterName
	}
}

// WithPassword sets the auth password.
func WithPassword(password string) ClientOpt {
	return func(opts *clientOptions) {
		opts.password = password
	}
}

// WithTimeout sets the connect-check timeout.
func WithTimeout(timeout time.Duration) ClientOpt {
	return func(opts *clientOptions) {
		opts.timeout = timeout
	}
}

// New connects to Redis and pings the deployment.
func New(addrs []string, opts ...ClientOpt) (*Client, error) {
	op := &clientOptions{timeout: defaultTimeout}

	for _, opt := range opts {
		opt(op)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:      addrs,
		MasterName: op.masterName,
		Password:   op.password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), op.timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Client{client: client}, nil
}

// API returns the underlying client.
func (c *Client) API() redis.UniversalClient {
	return c.client
}

// Close closes the underlying client.
func (c *Client) Close() error {
	return c.client.Close()
}
