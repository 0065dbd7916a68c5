package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"examshield/internal/license"
)

const defaultMongoCollection = "licenses"

// validCollectionName matches safe MongoDB collection names.
var validCollectionName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// MongoOption configures a MongoBackend.
type MongoOption func(*MongoBackend)

// WithCollectionName sets the license collection. Backups go to <name>_backups.
func WithCollectionName(name string) MongoOption {
	return func(b *MongoBackend) {
		b.collectionName = name
	}
}

// WithMongoRetention keeps at most n snapshot backups. Zero keeps every snapshot.
func WithMongoRetention(n int) MongoOption {
	return func(b *MongoBackend) {
		b.retention = n
	}
}

// licenseDocument stores the record as its JSON encoding so decimals and
// timestamps round-trip exactly as in the file store.
type licenseDocument struct {
	Key       string    `bson:"_id"`
	Record    string    `bson:"record"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type backupDocument struct {
	TakenAt  time.Time `bson:"taken_at"`
	Snapshot string    `bson:"snapshot"`
}

// MongoBackend keeps one document per license key
type MongoBackend struct {
	client         *mongo.Client
	collection     *mongo.Collection
	backups        *mongo.Collection
	collectionName string
	retention      int
}

// NewMongoBackend prepares the license and backup collections in db.
func NewMongoBackend(ctx context.Context, db *mongo.Database, opts ...MongoOption) (*MongoBackend, error) {
	b := &MongoBackend{
		collectionName: defaultMongoCollection,
		retention:      50,
	}
	for _, opt := range opts {
		opt(b)
	}
	if !validCollectionName.MatchString(b.collectionName) {
		return nil, fmt.Errorf("invalid collection name %q: must match [a-zA-Z_][a-zA-Z0-9_]*", b.collectionName)
	}
	b.collection = db.Collection(b.collectionName)
	b.backups = db.Collection(b.collectionName + "_backups")

	if err := b.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	return b, nil
}

// OpenMongo connects to uri and returns a backend that owns its client
func OpenMongo(ctx context.Context, uri, database string, opts ...MongoOption) (*MongoBackend, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	b, err := NewMongoBackend(ctx, client.Database(database), opts...)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	b.client = client
	return b, nil
}

func (b *MongoBackend) ensureIndexes(ctx context.Context) error {
	_, err := b.backups.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "taken_at", Value: -1}},
	})
	return err
}

// Name implements license.Backend
func (b *MongoBackend) Name() string { return "mongo" }

// Load reads every license document
func (b *MongoBackend) Load(ctx context.Context) (map[string]*license.Record, error) {
	cursor, err := b.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("load licenses: %w", err)
	}
	var docs []licenseDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode licenses: %w", err)
	}

	db := make(map[string]*license.Record, len(docs))
	for _, doc := range docs {
		var rec license.Record
		if err := json.Unmarshal([]byte(doc.Record), &rec); err != nil {
			return nil, fmt.Errorf("decode license %s: %w", license.MaskKey(doc.Key), err)
		}
		rec.Key = doc.Key
		db[doc.Key] = &rec
	}
	return db, nil
}

// Save snapshots the current collection into the backups collection and
// then applies db as one ordered bulk write.
func (b *MongoBackend) Save(ctx context.Context, db map[string]*license.Record) error {
	now := time.Now().UTC()

	if err := b.snapshot(ctx, now); err != nil {
		return err
	}

	keys := make(bson.A, 0, len(db))
	models := make([]mongo.WriteModel, 0, len(db)+1)
	for key, rec := range db {
		raw, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode license %s: %w", license.MaskKey(key), err)
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": key}).
			SetReplacement(licenseDocument{Key: key, Record: string(raw), UpdatedAt: now}).
			SetUpsert(true))
		keys = append(keys, key)
	}
	models = append(models, mongo.NewDeleteManyModel().
		SetFilter(bson.M{"_id": bson.M{"$nin": keys}}))

	if _, err := b.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true)); err != nil {
		return fmt.Errorf("write licenses: %w", err)
	}

	if b.retention > 0 {
		return b.prune(ctx)
	}
	return nil
}

func (b *MongoBackend) snapshot(ctx context.Context, now time.Time) error {
	current, err := b.Load(ctx)
	if err != nil {
		return err
	}
	if len(current) == 0 {
		return nil
	}
	raw, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if _, err := b.backups.InsertOne(ctx, backupDocument{TakenAt: now, Snapshot: string(raw)}); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func (b *MongoBackend) prune(ctx context.Context) error {
	opts := options.Find().
		SetSort(bson.D{{Key: "taken_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(b.retention)).
		SetProjection(bson.M{"_id": 1})
	cursor, err := b.backups.Find(ctx, bson.M{}, opts)
	if err != nil {
		return fmt.Errorf("list backups: %w", err)
	}
	var stale []struct {
		ID bson.ObjectID `bson:"_id"`
	}
	if err := cursor.All(ctx, &stale); err != nil {
		return fmt.Errorf("decode backups: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	ids := make(bson.A, len(stale))
	for i, s := range stale {
		ids[i] = s.ID
	}
	if _, err := b.backups.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return fmt.Errorf("prune backups: %w", err)
	}
	return nil
}

// BackupCount returns the number of retained snapshots
func (b *MongoBackend) BackupCount(ctx context.Context) (int, error) {
	n, err := b.backups.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("count backups: %w", err)
	}
	return int(n), nil
}

// Ping implements license.Backend
func (b *MongoBackend) Ping(ctx context.Context) error {
	if b.client == nil {
		return b.collection.Database().RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err()
	}
	return b.client.Ping(ctx, nil)
}

// Close disconnects the client when the backend opened it
func (b *MongoBackend) Close() error {
	if b.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.client.Disconnect(ctx)
}
