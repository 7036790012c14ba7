/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package appmetadatastore caches application descriptors from the app
// registry in mongo. Entries expire through a TTL index, so a stale
// descriptor is re-fetched rather than served.
package appmetadatastore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/agentgrant/consent/pkg/profile"
	"github.com/agentgrant/consent/pkg/restapi/resterr"
	"github.com/agentgrant/consent/pkg/storage/mongodb"
)

const (
	collectionName    = "appmetadata"
	defaultExpiration = time.Hour
)

type mongoDocument struct {
	ID       primitive.ObjectID `bson:"_id,omitempty"`
	AppID    string             `bson:"appId"`
	ExpireAt time.Time          `bson:"expireAt"`
	App      *profile.App       `bson:"app"`
}

// Store caches app descriptors in mongo.
type Store struct {
	mongoClient *mongodb.Client
	expiration  time.Duration
}

// New creates a Store and ensures its indexes.
func New(ctx context.Context, mongoClient *mongodb.Client, expiration time.Duration) (*Store, error) {
	if expiration <= 0 {
		expiration = defaultExpiration
	}

	s := &Store{
		mongoClient: mongoClient,
		expiration:  expiration,
	}

	if err := s.migrate(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.mongoClient.Database().Collection(collectionName).Indexes().
		CreateMany(ctx, []mongo.IndexModel{
			{
				Keys: map[string]interface{}{
					"appId": -1,
				},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys: map[string]interface{}{
					"expireAt": 1,
				},
				Options: options.Index().SetExpireAfterSeconds(0),
			},
		})

	return err
}

// Get returns the cached descriptor, resterr.ErrDataNotFound on miss.
func (s *Store) Get(ctx context.Context, appID string) (*profile.App, error) {
	doc := &mongoDocument{}

	err := s.mongoClient.Database().Collection(collectionName).
		FindOne(ctx, bson.M{"appId": appID}).Decode(doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, resterr.ErrDataNotFound
		}

		return nil, err
	}

	// the TTL monitor only runs periodically, treat overdue entries as gone
	if doc.ExpireAt.Before(time.Now().UTC()) {
		return nil, resterr.ErrDataNotFound
	}

	return doc.App, nil
}

// Put upserts the descriptor and refreshes its expiry window.
func (s *Store) Put(ctx context.Context, app *profile.App) error {
	doc := &mongoDocument{
		AppID:    app.ID,
		ExpireAt: time.Now().UTC().Add(s.expiration),
		App:      app,
	}

	_, err := s.mongoClient.Database().Collection(collectionName).UpdateOne(ctx,
		bson.M{"appId": app.ID},
		bson.M{"$set": bson.M{"app": doc.App, "expireAt": doc.ExpireAt}},
		options.Update().SetUpsert(true))

	return err
}
