/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package credentialclaimstore persists credential claim records in MongoDB.
// A claim record outlives the offer it tracks so redemptions stay auditable.
package credentialclaimstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/educred/issuer/pkg/service/credentialoffer"
	"github.com/educred/issuer/pkg/storage/mongodb"
)

const (
	collectionName  = "credentialclaims"
	defaultClaimTTL = 30 * 24 * time.Hour
)

type claimDocument struct {
	ID       primitive.ObjectID           `bson:"_id,omitempty"`
	ExpireAt time.Time                    `bson:"expireAt"`
	Claim    *credentialoffer.ClaimRecord `bson:"claim"`
}

// Store is a MongoDB-backed credential claim store.
type Store struct {
	client     *mongodb.Client
	defaultTTL time.Duration
}

// New creates a Store and ensures its indexes.
func New(ctx context.Context, client *mongodb.Client) (*Store, error) {
	s := &Store{
		client:     client,
		defaultTTL: defaultClaimTTL,
	}

	if _, err := s.collection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expireAt", Value: 1}},
			Options: mongooptions.Index().SetExpireAfterSeconds(0),
		},
		{
			Keys: bson.D{{Key: "claim.offerid", Value: 1}},
		},
	}); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) collection() *mongo.Collection {
	return s.client.Database().Collection(collectionName)
}

// Create inserts a new claim record.
func (s *Store) Create(
	ctx context.Context,
	record *credentialoffer.ClaimRecord,
) (*credentialoffer.Claim, error) {
	doc := &claimDocument{
		ExpireAt: time.Now().Add(s.defaultTTL),
		Claim:    record,
	}

	result, err := s.collection().InsertOne(ctx, doc)
	if err != nil {
		return nil, err
	}

	insertedID, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return nil, fmt.Errorf("unexpected inserted id type %T", result.InsertedID)
	}

	return &credentialoffer.Claim{
		ID:          credentialoffer.ClaimID(insertedID.Hex()),
		ClaimRecord: *record,
	}, nil
}

// FindByOfferID returns the claim record tracking the given offer.
func (s *Store) FindByOfferID(
	ctx context.Context,
	offerID credentialoffer.OfferID,
) (*credentialoffer.Claim, error) {
	var doc claimDocument

	err := s.collection().FindOne(ctx, bson.M{"claim.offerid": offerID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, credentialoffer.ErrOfferNotFound
	}

	if err != nil {
		return nil, err
	}

	return &credentialoffer.Claim{
		ID:          credentialoffer.ClaimID(doc.ID.Hex()),
		ClaimRecord: *doc.Claim,
	}, nil
}

// Update replaces the stored claim payload.
func (s *Store) Update(ctx context.Context, claim *credentialoffer.Claim) error {
	objectID, err := primitive.ObjectIDFromHex(string(claim.ID))
	if err != nil {
		return fmt.Errorf("%w: %s", credentialoffer.ErrOfferNotFound, claim.ID)
	}

	result, err := s.collection().UpdateOne(ctx,
		bson.M{"_id": objectID},
		bson.M{"$set": bson.M{"claim": claim.ClaimRecord}},
	)
	if err != nil {
		return err
	}

	if result.MatchedCount == 0 {
		return credentialoffer.ErrOfferNotFound
	}

	return nil
}
