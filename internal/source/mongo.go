// Package source reads live test-instance documents from MongoDB.
package source

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const DefaultCollection = "testInstances"

// Record is one test-instance document as written by the live test server.
type Record struct {
	TestID         string      `bson:"tid"`
	InstanceID     string      `bson:"tiid"`
	UserExternalID string      `bson:"uid"`
	Date           time.Time   `bson:"date"`
	AttemptNumber  int         `bson:"number"`
	GradingDates   []time.Time `bson:"gradingDates,omitempty"`

	// Err is set when the document's tid is known but the rest of it could
	// not be decoded. Only the id fields are filled in then.
	Err error `bson:"-"`
}

// Cursor is the subset of *mongo.Cursor the reader needs.
type Cursor interface {
	All(ctx context.Context, results interface{}) error
	Close(ctx context.Context) error
}

// Collection is the subset of *mongo.Collection the reader needs.
type Collection interface {
	Find(ctx context.Context, filter interface{}) (Cursor, error)
}

// Config holds the MongoDB connection settings.
type Config struct {
	URI            string
	Database       string
	Collection     string
	ConnectTimeout time.Duration
}

// Client owns the driver connection and hands out the test-instance collection.
type Client struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *zap.Logger
}

// Connect dials MongoDB and verifies the primary is reachable.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
		opts.SetServerSelectionTimeout(cfg.ConnectTimeout)
	}
	mc, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := mc.Ping(ctx, readpref.Primary()); err != nil {
		_ = mc.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	logger.Info("connected to document store",
		zap.String("database", cfg.Database),
		zap.String("collection", cfg.Collection))
	return &Client{
		client: mc,
		coll:   mc.Database(cfg.Database).Collection(cfg.Collection),
		logger: logger,
	}, nil
}

// Collection returns the test-instance collection.
func (c *Client) Collection() Collection { return mongoCollection{c.coll} }

func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Disconnect(ctx)
}

type mongoCollection struct{ c *mongo.Collection }

func (m mongoCollection) Find(ctx context.Context, filter interface{}) (Cursor, error) {
	cur, err := m.c.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

// Reader loads every record whose test is known on disk.
type Reader struct {
	coll Collection
}

func NewReader(coll Collection) *Reader { return &Reader{coll: coll} }

// ReadKnown returns the records whose tid is in known. Documents for other
// tests are dropped without being decoded. A known document that fails to
// decode comes back with Err set. Find and cursor failures are fatal and no
// partial result is returned.
func (r *Reader) ReadKnown(ctx context.Context, known map[string]struct{}) ([]Record, error) {
	cur, err := r.coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("find test instances: %w", err)
	}
	defer cur.Close(ctx)

	var docs []bson.Raw
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("read test instances: %w", err)
	}
	out := make([]Record, 0, len(docs))
	for _, raw := range docs {
		tid, ok := raw.Lookup("tid").StringValueOK()
		if !ok {
			continue
		}
		if _, ok := known[tid]; !ok {
			continue
		}
		out = append(out, decodeRecord(tid, raw))
	}
	return out, nil
}

func decodeRecord(tid string, raw bson.Raw) Record {
	var rec Record
	if err := bson.Unmarshal(raw, &rec); err != nil {
		tiid, _ := raw.Lookup("tiid").StringValueOK()
		uid, _ := raw.Lookup("uid").StringValueOK()
		return Record{
			TestID:         tid,
			InstanceID:     tiid,
			UserExternalID: uid,
			Err:            fmt.Errorf("decode test instance %q: %w", tiid, err),
		}
	}
	return rec
}
