/*
Copyright Educred Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package credentialofferstore persists credential offers in MongoDB. Consume
// flips the offer status with a conditional update so claim data is handed
// out exactly once.
package credentialofferstore

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
	"github.com/educred/issuer/pkg/service/oidc4vc"
	"github.com/educred/issuer/pkg/storage/mongodb"
)

const (
	collectionName  = "credentialoffers"
	defaultOfferTTL = 24 * time.Hour
)

type offerDocument struct {
	ID       primitive.ObjectID         `bson:"_id,omitempty"`
	ExpireAt time.Time                  `bson:"expireAt"`
	Offer    *credentialoffer.OfferData `bson:"offer"`
}

// Store is a MongoDB-backed credential offer store.
type Store struct {
	client     *mongodb.Client
	defaultTTL time.Duration
}

// New creates a Store and ensures its indexes.
func New(ctx context.Context, client *mongodb.Client) (*Store, error) {
	s := &Store{
		client:     client,
		defaultTTL: defaultOfferTTL,
	}

	if _, err := s.collection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expireAt", Value: 1}},
			Options: mongooptions.Index().SetExpireAfterSeconds(0),
		},
	}); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) collection() *mongo.Collection {
	return s.client.Database().Collection(collectionName)
}

// Create inserts a new offer.
func (s *Store) Create(
	ctx context.Context,
	data *credentialoffer.OfferData,
	params ...func(insertOptions *oidc4vc.InsertOptions),
) (*credentialoffer.Offer, error) {
	insertOpts := &oidc4vc.InsertOptions{TTL: s.defaultTTL}

	for _, p := range params {
		p(insertOpts)
	}

	doc := &offerDocument{
		ExpireAt: time.Now().Add(insertOpts.TTL),
		Offer:    data,
	}

	result, err := s.collection().InsertOne(ctx, doc)
	if err != nil {
		return nil, err
	}

	insertedID, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return nil, fmt.Errorf("unexpected inserted id type %T", result.InsertedID)
	}

	return &credentialoffer.Offer{
		ID:        credentialoffer.OfferID(insertedID.Hex()),
		OfferData: *data,
	}, nil
}

// Get returns the offer by id.
func (s *Store) Get(ctx context.Context, id credentialoffer.OfferID) (*credentialoffer.Offer, error) {
	objectID, err := primitive.ObjectIDFromHex(string(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", credentialoffer.ErrOfferNotFound, id)
	}

	var doc offerDocument

	err = s.collection().FindOne(ctx, bson.M{"_id": objectID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, credentialoffer.ErrOfferNotFound
	}

	if err != nil {
		return nil, err
	}

	return &credentialoffer.Offer{ID: id, OfferData: *doc.Offer}, nil
}

// Update replaces the stored offer payload.
func (s *Store) Update(ctx context.Context, offer *credentialoffer.Offer) error {
	objectID, err := primitive.ObjectIDFromHex(string(offer.ID))
	if err != nil {
		return fmt.Errorf("%w: %s", credentialoffer.ErrOfferNotFound, offer.ID)
	}

	result, err := s.collection().UpdateOne(ctx,
		bson.M{"_id": objectID},
		bson.M{"$set": bson.M{"offer": offer.OfferData}},
	)
	if err != nil {
		return err
	}

	if result.MatchedCount == 0 {
		return credentialoffer.ErrOfferNotFound
	}

	return nil
}

// Consume flips the offer from pending to used. The conditional update is the
// atomicity point: of two concurrent claimers exactly one matches the pending
// document.
func (s *Store) Consume(ctx context.Context, id credentialoffer.OfferID) (*credentialoffer.Offer, error) {
	objectID, err := primitive.ObjectIDFromHex(string(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", credentialoffer.ErrOfferNotFound, id)
	}

	var doc offerDocument

	err = s.collection().FindOneAndUpdate(ctx,
		bson.M{"_id": objectID, "offer.status": credentialoffer.OfferStatusPending},
		bson.M{"$set": bson.M{"offer.status": credentialoffer.OfferStatusUsed}},
		mongooptions.FindOneAndUpdate().SetReturnDocument(mongooptions.After),
	).Decode(&doc)

	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return nil, getErr
		}

		return nil, credentialoffer.ErrOfferAlreadyUsed
	}

	if err != nil {
		return nil, err
	}

	return &credentialoffer.Offer{ID: id, OfferData: *doc.Offer}, nil
}
