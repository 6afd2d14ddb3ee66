package database

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/flowkitio/flowkit/internal/pkg/env"
)

const maxRetries = 5
const retryDelay = 5 * time.Second
const connectTimeout = 10 * time.Second

// Collection names. Each keeps a uniqueness constraint on its natural
// external-id key, see ensureIndexes.
const (
	CollectionUsers              = "users"
	CollectionSubscriptions      = "subscriptions"
	CollectionPayments           = "payments"
	CollectionWorkflowExecutions = "workflow_executions"
	CollectionWebhookEvents      = "webhook_events"
)

var (
	db   *mongo.Database
	once sync.Once
)

// SetupDatabase eagerly establishes the MongoDB connection. Panics when the
// store stays unreachable after all retries, same as a missing config would.
func SetupDatabase() {
	if GetDB() == nil {
		panic("database: mongodb unreachable")
	}
}

// GetDB returns the process-wide database handle, connecting on first use.
// The handle is safe to share across concurrent requests.
func GetDB() *mongo.Database {
	once.Do(connect)
	return db
}

func connect() {
	uri := env.GetEnv("MONGODB_URI", "mongodb://localhost:27017")
	name := env.GetEnv("MONGODB_DB", "flowkit")

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
		if err == nil {
			err = client.Ping(ctx, readpref.Primary())
		}
		cancel()

		if err == nil {
			db = client.Database(name)
			if idxErr := ensureIndexes(db); idxErr != nil {
				log.Errorf("failed to create indexes: %v", idxErr)
			}
			log.Infof("connected to mongodb database %s", name)
			return
		}

		lastErr = err
		log.Warnf("failed to connect to database (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}

	log.Errorf("giving up connecting to database: %v", lastErr)
}

// Ping checks store reachability for health probes.
func Ping(ctx context.Context) error {
	handle := GetDB()
	if handle == nil {
		return mongo.ErrClientDisconnected
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return handle.Client().Ping(ctx, readpref.Primary())
}

// ensureIndexes creates the uniqueness constraints the data layer depends on.
// users.auth_user_id MUST be unique so concurrent ensure-exists upserts can
// never create two documents for one auth subject.
func ensureIndexes(db *mongo.Database) error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	unique := func(key string) mongo.IndexModel {
		return mongo.IndexModel{
			Keys:    bson.D{{Key: key, Value: 1}},
			Options: options.Index().SetUnique(true),
		}
	}
	lookup := func(key string) mongo.IndexModel {
		return mongo.IndexModel{Keys: bson.D{{Key: key, Value: 1}}}
	}

	for col, idx := range map[string][]mongo.IndexModel{
		CollectionUsers: {
			unique("auth_user_id"),
			lookup("stripe_customer_id"),
		},
		CollectionSubscriptions: {
			unique("stripe_subscription_id"),
			lookup("auth_user_id"),
		},
		CollectionPayments: {
			unique("stripe_invoice_id"),
			lookup("auth_user_id"),
		},
		CollectionWebhookEvents: {
			unique("stripe_event_id"),
		},
		CollectionWorkflowExecutions: {
			lookup("user_id"),
		},
	} {
		if _, err := db.Collection(col).Indexes().CreateMany(ctx, idx); err != nil {
			return err
		}
	}
	return nil
}
