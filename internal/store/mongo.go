// Package store is the direct MongoDB path to the backend's collections.
// It bypasses the API for fast session-level seeding and cleanup.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"itemharness/internal/builder"
	"itemharness/internal/seed"
)

// Config locates the backend database.
type Config struct {
	URI              string
	Database         string
	ItemsCollection  string
	UsersCollection  string
	OperationTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ItemsCollection == "" {
		c.ItemsCollection = "items"
	}
	if c.UsersCollection == "" {
		c.UsersCollection = "users"
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 30 * time.Second
	}
}

// MongoStore implements seed.ItemStore.
type MongoStore struct {
	client  *mongo.Client
	items   *mongo.Collection
	users   *mongo.Collection
	timeout time.Duration
	logger  *zap.Logger
}

var _ seed.ItemStore = (*MongoStore)(nil)

// Open connects and pings the server.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*MongoStore, error) {
	if cfg.URI == "" || cfg.Database == "" {
		return nil, errors.New("store: mongodb uri and database name are required")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI).SetTimeout(cfg.OperationTimeout))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	db := client.Database(cfg.Database)
	logger.Info("connected to mongodb", zap.String("database", cfg.Database))
	return &MongoStore{
		client:  client,
		items:   db.Collection(cfg.ItemsCollection),
		users:   db.Collection(cfg.UsersCollection),
		timeout: cfg.OperationTimeout,
		logger:  logger,
	}, nil
}

// Close disconnects.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// UserIDByEmail returns the hex id of the user with email.
func (s *MongoStore) UserIDByEmail(ctx context.Context, email string) (string, error) {
	var u struct {
		ID any `bson:"_id"`
	}
	err := s.users.FindOne(ctx, bson.M{"email": email}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", fmt.Errorf("%w: %s", seed.ErrUserNotFound, email)
	}
	if err != nil {
		return "", fmt.Errorf("find user %s: %w", email, err)
	}
	return idString(u.ID), nil
}

func idString(v any) string {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex()
	case string:
		return id
	default:
		return fmt.Sprint(id)
	}
}

// ownerFilter matches created_by stored either as an ObjectID or as the
// legacy string form.
func ownerFilter(ownerID string) bson.M {
	ids := bson.A{ownerID}
	if oid, err := primitive.ObjectIDFromHex(ownerID); err == nil {
		ids = append(ids, oid)
	}
	return bson.M{"created_by": bson.M{"$in": ids}}
}

func seedFilter(ownerID string) bson.M {
	f := ownerFilter(ownerID)
	f["tags"] = builder.SeedTag
	return f
}

// CountSeedItems counts ownerID's seed-tagged items, up to limit when
// limit > 0.
func (s *MongoStore) CountSeedItems(ctx context.Context, ownerID string, limit int64) (int64, error) {
	opts := options.Count()
	if limit > 0 {
		opts.SetLimit(limit)
	}
	n, err := s.items.CountDocuments(ctx, seedFilter(ownerID), opts)
	if err != nil {
		return 0, fmt.Errorf("count seed items: %w", err)
	}
	return n, nil
}

// ExistingNames reports which of names ownerID already has, in any state.
func (s *MongoStore) ExistingNames(ctx context.Context, ownerID string, names []string) (map[string]bool, error) {
	filter := ownerFilter(ownerID)
	filter["name"] = bson.M{"$in": names}
	cur, err := s.items.Find(ctx, filter, options.Find().SetProjection(bson.M{"name": 1}))
	if err != nil {
		return nil, fmt.Errorf("find existing names: %w", err)
	}
	var docs []struct {
		Name string `bson:"name"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("read existing names: %w", err)
	}
	out := make(map[string]bool, len(docs))
	for _, d := range docs {
		out[d.Name] = true
	}
	return out, nil
}

// InsertMany inserts records unordered, so one duplicate does not stop the
// rest. Rejected documents are reported as *seed.PartialInsertError.
func (s *MongoStore) InsertMany(ctx context.Context, records []builder.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	docs := make([]any, len(records))
	for i, r := range records {
		docs[i] = toDocument(r)
	}
	res, err := s.items.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		if perr := partialFrom(err, len(docs)); perr != nil {
			return perr.Inserted, perr
		}
		return 0, fmt.Errorf("insert items: %w", err)
	}
	return len(res.InsertedIDs), nil
}

// partialFrom converts a bulk write failure into a PartialInsertError.
func partialFrom(err error, attempted int) *seed.PartialInsertError {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || len(bwe.WriteErrors) == 0 {
		return nil
	}
	perr := &seed.PartialInsertError{
		Failed:   len(bwe.WriteErrors),
		Inserted: attempted - len(bwe.WriteErrors),
	}
	for _, we := range bwe.WriteErrors {
		perr.Messages = append(perr.Messages, we.Message)
	}
	return perr
}

// DeleteSeedItems removes ownerID's seed items. dryRun only counts them.
func (s *MongoStore) DeleteSeedItems(ctx context.Context, ownerID string, dryRun bool) (int64, error) {
	filter := seedFilter(ownerID)
	if dryRun {
		return s.CountSeedItems(ctx, ownerID, 0)
	}
	res, err := s.items.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("delete seed items: %w", err)
	}
	s.logger.Info("deleted seed items", zap.String("owner", ownerID), zap.Int64("count", res.DeletedCount))
	return res.DeletedCount, nil
}

// itemDocument is the stored shape of an item.
type itemDocument struct {
	Name                 string              `bson:"name"`
	Description          string              `bson:"description,omitempty"`
	Category             string              `bson:"category,omitempty"`
	NormalizedName       string              `bson:"normalizedName"`
	NormalizedNamePrefix string              `bson:"normalizedNamePrefix"`
	NormalizedCategory   string              `bson:"normalizedCategory,omitempty"`
	ItemType             string              `bson:"item_type,omitempty"`
	Price                float64             `bson:"price"`
	Weight               *int                `bson:"weight,omitempty"`
	Dimensions           *builder.Dimensions `bson:"dimensions,omitempty"`
	DownloadURL          string              `bson:"download_url,omitempty"`
	FileSize             int64               `bson:"file_size,omitempty"`
	DurationHours        int                 `bson:"duration_hours,omitempty"`
	Tags                 []string            `bson:"tags"`
	IsActive             bool                `bson:"is_active"`
	CreatedBy            any                 `bson:"created_by"`
	Version              int                 `bson:"version"`
	CreatedAt            time.Time           `bson:"createdAt"`
	UpdatedAt            time.Time           `bson:"updatedAt"`
}

// toDocument stores the owner as an ObjectID when it is one, like the
// backend does.
func toDocument(r builder.Record) itemDocument {
	var owner any = r.CreatedBy
	if oid, err := primitive.ObjectIDFromHex(r.CreatedBy); err == nil {
		owner = oid
	}
	return itemDocument{
		Name:                 r.Name,
		Description:          r.Description,
		Category:             r.Category,
		NormalizedName:       r.NormalizedName,
		NormalizedNamePrefix: r.NormalizedNamePrefix,
		NormalizedCategory:   r.NormalizedCategory,
		ItemType:             string(r.ItemType),
		Price:                r.Price,
		Weight:               r.Weight,
		Dimensions:           r.Dimensions,
		DownloadURL:          r.DownloadURL,
		FileSize:             r.FileSize,
		DurationHours:        r.DurationHours,
		Tags:                 r.Tags,
		IsActive:             r.IsActive,
		CreatedBy:            owner,
		Version:              r.Version,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}
