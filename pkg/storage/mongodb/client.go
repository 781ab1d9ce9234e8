/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package mongodb provides a thin client wrapper shared by the MongoDB-backed
// stores.
package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"go.opentelemetry.io/otel/trace"
)

const defaultTimeout = 15 * time.Second

// Client wraps a mongo client with the database name and operation timeout
// the stores share.
type Client struct {
	client       *mongo.Client
	databaseName string
	timeout      time.Duration
}

type clientOptions struct {
	timeout        time.Duration
	tracerProvider trace.TracerProvider
}

// ClientOpt configures the client.
type ClientOpt func(*clientOptions)

// WithTimeout sets the per-operation timeout.
func WithTimeout(timeout time.Duration) ClientOpt {
	return func(opts *clientOptions) {
		opts.timeout = timeout
	}
}

// WithTraceProvider enables otel command monitoring.
func WithTraceProvider(provider trace.TracerProvider) ClientOpt {
	return func(opts *clientOptions) {
		opts.tracerProvider = provider
	}
}

// New connects to MongoDB and pings the deployment.
func New(connString, databaseName string, opts ...ClientOpt) (*Client, error) {
	op := &clientOptions{timeout: defaultTimeout}

	for _, opt := range opts {
		opt(op)
	}

	mongoOpts := mongooptions.Client().ApplyURI(connString)

	if op.tracerProvider != nil {
		mongoOpts.SetMonitor(otelmongo.NewMonitor(
			otelmongo.WithTracerProvider(op.tracerProvider),
		))
	}

	ctx, cancel := context.WithTimeout(context.Background(), op.timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, mongoOpts)
	if err != nil {
		return nil, err
	}

	if err = client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	return &Client{
		client:       client,
		databaseName: databaseName,
		timeout:      op.timeout,
	}, nil
}

// Database returns the configured database handle.
func (c *Client) Database() *mongo.Database {
	return c.client.Database(c.databaseName)
}

// ContextWithTimeout returns a context bounded by the client's operation
// timeout.
func (c *Client) ContextWithTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

// Close disconnects the underlying client.
func (c *Client) Close() error {
	ctx, cancel := c.ContextWithTimeout()
	defer cancel()

	return c.client.Disconnect(ctx)
}
