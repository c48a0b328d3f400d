package testutil

import (
	"context"
	"testing"
	"time"

	"medslots/internal/reservations/repository"
	"medslots/internal/slots"
	"medslots/pkg/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	DefaultMongoURI     = "mongodb://localhost:27017"
	DefaultDatabaseName = "medslots"
	ConnectionTimeout   = 10 * time.Second
)

// MongoHelper gives tests direct access to the service database.
type MongoHelper struct {
	Client   *mongo.Client
	Database *mongo.Database
	DBName   string
}

func NewMongoHelper(t *testing.T, mongoURI, dbName string) *MongoHelper {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), ConnectionTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
	if err != nil {
		t.Fatalf("failed to connect to MongoDB: %v", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		t.Fatalf("failed to ping MongoDB: %v", err)
	}

	return &MongoHelper{
		Client:   client,
		Database: client.Database(dbName),
		DBName:   dbName,
	}
}

func (m *MongoHelper) Close(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.Client.Disconnect(ctx); err != nil {
		t.Logf("warning: failed to disconnect from MongoDB: %v", err)
	}
}

// CleanReservations empties the slot and appointment collections. The
// collections themselves stay, since they carry the migration's validators
// and indexes.
func (m *MongoHelper) CleanReservations(t *testing.T) {
	t.Helper()
	for _, name := range []string{slots.CollectionName, repository.CollectionName} {
		m.CleanCollection(t, name)
	}
}

func (m *MongoHelper) CleanCollection(t *testing.T, collectionName string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := m.Database.Collection(collectionName).DeleteMany(ctx, bson.M{}); err != nil {
		t.Fatalf("failed to clean collection %s: %v", collectionName, err)
	}
}

func (m *MongoHelper) CountDocuments(t *testing.T, collectionName string, filter bson.M) int64 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	count, err := m.Database.Collection(collectionName).CountDocuments(ctx, filter)
	if err != nil {
		t.Fatalf("failed to count documents in %s: %v", collectionName, err)
	}
	return count
}

// ExpireLock moves a lease into the past, on both the slot and its
// appointment, so the next reaper sweep picks it up.
func (m *MongoHelper) ExpireLock(t *testing.T, key model.SlotKey, appointmentID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	past := time.Now().Add(-time.Minute).UTC()
	targets := []struct {
		collection string
		filter     bson.M
	}{
		{collection: slots.CollectionName, filter: bson.M{"_id": key.String(), "state": model.SlotLocked}},
		{collection: repository.CollectionName, filter: bson.M{"_id": appointmentID, "status": model.StatusLocked}},
	}
	for _, target := range targets {
		res, err := m.Database.Collection(target.collection).UpdateOne(ctx, target.filter,
			bson.M{"$set": bson.M{"locked_until": past}})
		if err != nil {
			t.Fatalf("failed to expire lock in %s: %v", target.collection, err)
		}
		if res.MatchedCount != 1 {
			t.Fatalf("no locked document in %s for %s", target.collection, key)
		}
	}
}
