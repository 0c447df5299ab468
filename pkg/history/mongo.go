package history

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/qaops/railsync/pkg/config"
)

const runsCollection = "runs"

type mongoStore struct {
	log    logrus.FieldLogger
	client *mongo.Client
	coll   *mongo.Collection
}

// Compile-time interface check.
var _ Store = (*mongoStore)(nil)

// NewMongoStore connects to MongoDB and verifies the connection with a
// ping before returning.
func NewMongoStore(
	ctx context.Context, log logrus.FieldLogger, cfg *config.MongoConfig,
) (Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "railsync"
	}

	s := &mongoStore{
		log:    log.WithField("component", "history").WithField("driver", "mongo"),
		client: client,
		coll:   client.Database(database).Collection(runsCollection),
	}

	s.log.WithField("database", database).Info("History store connected")

	return s, nil
}

func (s *mongoStore) Append(ctx context.Context, entry *Entry) error {
	if _, err := s.coll.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("appending history entry: %w", err)
	}

	return nil
}

func (s *mongoStore) Query(
	ctx context.Context, filter Filter, window Window,
) ([]Entry, error) {
	query := bson.M{}

	if filter.Branch != "" {
		query["branch"] = filter.Branch
	}

	if !window.Since.IsZero() {
		query["timestamp"] = bson.M{"$gte": window.Since}
	}

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if window.Limit > 0 {
		opts = opts.SetLimit(int64(window.Limit))
	}

	cursor, err := s.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}

	var entries []Entry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("decoding history entries: %w", err)
	}

	return filterByKey(entries, filter.Key), nil
}

func (s *mongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
