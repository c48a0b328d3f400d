package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"medslots/internal/migrations/mongo/validators"
	"medslots/internal/reservations/repository"
	"medslots/internal/slots"
	"medslots/pkg/logger"
)

var (
	SlotsIndexes = []mongo.IndexModel{
		{Keys: bson.D{{Key: "staff_id", Value: 1}, {Key: "date", Value: 1}}},
		{Keys: bson.D{{Key: "state", Value: 1}, {Key: "locked_until", Value: 1}}},
	}

	AppointmentsIndexes = []mongo.IndexModel{
		// At most one live lock per user.
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().
				SetName("one_lock_per_user").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": "locked"}),
		},
		{Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "staff_id", Value: 1},
			{Key: "date", Value: 1},
			{Key: "status", Value: 1},
		}},
	}
)

type collectionDef struct {
	Indexes   []mongo.IndexModel
	Validator bson.M
}

func RunMigration(ctx context.Context, client *mongo.Client, dbName string, log *logger.Logger) error {
	db := client.Database(dbName)
	log.Info("Running Mongo migrations", "database", dbName)

	collections := map[string]collectionDef{
		slots.CollectionName: {
			Indexes:   SlotsIndexes,
			Validator: validators.SlotValidator,
		},
		repository.CollectionName: {
			Indexes:   AppointmentsIndexes,
			Validator: validators.AppointmentValidator,
		},
	}

	for name, def := range collections {
		if err := ensureCollection(ctx, db, name, def.Validator, log); err != nil {
			return fmt.Errorf("failed to ensure collection %s: %w", name, err)
		}
		if err := ensureIndexes(ctx, db, name, def.Indexes, log); err != nil {
			return fmt.Errorf("failed to ensure indexes for %s: %w", name, err)
		}
	}

	log.Info("All migrations applied successfully")
	return nil
}

func ensureCollection(ctx context.Context, db *mongo.Database, name string, validator bson.M, log *logger.Logger) error {
	existing, err := db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return err
	}

	if len(existing) == 0 {
		log.Info("Creating collection", "collection", name)
		opts := options.CreateCollection().SetValidator(validator)
		if err := db.CreateCollection(ctx, name, opts); err != nil {
			return fmt.Errorf("failed creating %s: %w", name, err)
		}
		return nil
	}

	log.Info("Collection exists, updating validator", "collection", name)
	command := bson.D{
		{Key: "collMod", Value: name},
		{Key: "validator", Value: validator},
	}
	if err := db.RunCommand(ctx, command).Err(); err != nil {
		log.Warn("Failed updating validator", "collection", name, "error", err)
	}
	return nil
}

func ensureIndexes(ctx context.Context, db *mongo.Database, name string, models []mongo.IndexModel, log *logger.Logger) error {
	if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
		return err
	}
	log.Info("Ensured indexes", "collection", name, "count", len(models))
	return nil
}
