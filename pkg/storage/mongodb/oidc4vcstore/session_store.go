/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package oidc4vcstore persists issuance sessions in MongoDB. The consume
// operations rely on conditional FindOneAndUpdate so a single-use token can
// only ever be consumed by one caller.
package oidc4vcstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/educred/issuer/pkg/service/oidc4vc"
	"github.com/educred/issuer/pkg/storage/mongodb"
)

const (
	collectionName    = "oidc4vcsessions"
	defaultSessionTTL = 24 * time.Hour
)

type sessionDocument struct {
	ID       primitive.ObjectID   `bson:"_id,omitempty"`
	ExpireAt time.Time            `bson:"expireAt"`
	Session  *oidc4vc.SessionData `bson:"session"`
}

// Store is a MongoDB-backed issuance session store.
type Store struct {
	client     *mongodb.Client
	defaultTTL time.Duration
}

// New creates a Store and ensures its indexes.
func New(ctx context.Context, client *mongodb.Client) (*Store, error) {
	s := &Store{
		client:     client,
		defaultTTL: defaultSessionTTL,
	}

	if err := s.migrate(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.collection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expireAt", Value: 1}},
			Options: mongooptions.Index().SetExpireAfterSeconds(0),
		},
		{
			Keys: bson.D{{Key: "session.issuerstate", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "session.authcode", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "session.preauthcode", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "session.acceptancetoken", Value: 1}},
		},
	})

	return err
}

func (s *Store) collection() *mongo.Collection {
	return s.client.Database().Collection(collectionName)
}

// Create inserts a new session. The document-level TTL may outlive the
// logical expiry so that expired sessions stay reportable.
func (s *Store) Create(
	ctx context.Context,
	data *oidc4vc.SessionData,
	params ...func(insertOptions *oidc4vc.InsertOptions),
) (*oidc4vc.Session, error) {
	insertOpts := &oidc4vc.InsertOptions{TTL: s.defaultTTL}

	for _, p := range params {
		p(insertOpts)
	}

	doc := &sessionDocument{
		ExpireAt: time.Now().Add(insertOpts.TTL),
		Session:  data,
	}

	result, err := s.collection().InsertOne(ctx, doc)
	if err != nil {
		return nil, err
	}

	insertedID, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return nil, fmt.Errorf("unexpected inserted id type %T", result.InsertedID)
	}

	return &oidc4vc.Session{
		ID:          oidc4vc.SessionID(insertedID.Hex()),
		SessionData: *data,
	}, nil
}

// Get returns the session by id.
func (s *Store) Get(ctx context.Context, id oidc4vc.SessionID) (*oidc4vc.Session, error) {
	objectID, err := primitive.ObjectIDFromHex(string(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", oidc4vc.ErrDataNotFound, id)
	}

	return s.findOne(ctx, bson.M{"_id": objectID})
}

// FindByIssuerState returns the session holding the given issuer state.
func (s *Store) FindByIssuerState(ctx context.Context, issuerState string) (*oidc4vc.Session, error) {
	return s.findOne(ctx, bson.M{"session.issuerstate": issuerState})
}

// FindByAuthCode returns the session holding the given authorization code.
func (s *Store) FindByAuthCode(ctx context.Context, code string) (*oidc4vc.Session, error) {
	return s.findOne(ctx, bson.M{"session.authcode": code})
}

// FindByPreAuthCode returns the session holding the given pre-authorized code.
func (s *Store) FindByPreAuthCode(ctx context.Context, code string) (*oidc4vc.Session, error) {
	return s.findOne(ctx, bson.M{"session.preauthcode": code})
}

// FindByAcceptanceToken returns the session holding the given acceptance
// token.
func (s *Store) FindByAcceptanceToken(ctx context.Context, token string) (*oidc4vc.Session, error) {
	return s.findOne(ctx, bson.M{"session.acceptancetoken": token})
}

// Update replaces the stored session payload.
func (s *Store) Update(ctx context.Context, session *oidc4vc.Session) error {
	objectID, err := primitive.ObjectIDFromHex(string(session.ID))
	if err != nil {
		return fmt.Errorf("%w: %s", oidc4vc.ErrDataNotFound, session.ID)
	}

	result, err := s.collection().UpdateOne(ctx,
		bson.M{"_id": objectID},
		bson.M{"$set": bson.M{"session": session.SessionData}},
	)
	if err != nil {
		return err
	}

	if result.MatchedCount == 0 {
		return oidc4vc.ErrDataNotFound
	}

	return nil
}

// ConsumeAuthCode marks the authorization code used. The conditional update
// is the atomicity point: of two concurrent consumers exactly one matches the
// unused document.
func (s *Store) ConsumeAuthCode(ctx context.Context, code string) (*oidc4vc.Session, error) {
	return s.consume(ctx, "session.authcode", code, "session.authcodeused")
}

// ConsumePreAuthCode marks the pre-authorized code used.
func (s *Store) ConsumePreAuthCode(ctx context.Context, code string) (*oidc4vc.Session, error) {
	return s.consume(ctx, "session.preauthcode", code, "session.preauthcodeused")
}

// ConsumeAcceptanceToken marks the acceptance token used.
func (s *Store) ConsumeAcceptanceToken(ctx context.Context, token string) (*oidc4vc.Session, error) {
	return s.consume(ctx, "session.acceptancetoken", token, "session.acceptancetokenused")
}

func (s *Store) consume(ctx context.Context, field, value, usedField string) (*oidc4vc.Session, error) {
	var doc sessionDocument

	err := s.collection().FindOneAndUpdate(ctx,
		bson.M{field: value, usedField: false},
		bson.M{"$set": bson.M{usedField: true}},
		mongooptions.FindOneAndUpdate().SetReturnDocument(mongooptions.After),
	).Decode(&doc)

	if errors.Is(err, mongo.ErrNoDocuments) {
		// either unknown or already consumed; a plain lookup tells which
		if _, findErr := s.findOne(ctx, bson.M{field: value}); findErr == nil {
			return nil, oidc4vc.ErrTokenAlreadyUsed
		}

		return nil, oidc4vc.ErrDataNotFound
	}

	if err != nil {
		return nil, err
	}

	return &oidc4vc.Session{
		ID:          oidc4vc.SessionID(doc.ID.Hex()),
		SessionData: *doc.Session,
	}, nil
}

func (s *Store) findOne(ctx context.Context, filter bson.M) (*oidc4vc.Session, error) {
	var doc sessionDocument

	err := s.collection().FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, oidc4vc.ErrDataNotFound
	}

	if err != nil {
		return nil, err
	}

	return &oidc4vc.Session{
		ID:          oidc4vc.SessionID(doc.ID.Hex()),
		SessionData: *doc.Session,
	}, nil
}
