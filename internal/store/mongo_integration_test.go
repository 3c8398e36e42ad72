//go:build integration

package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"itemharness/internal/builder"
	"itemharness/internal/seed"
)

// Run with MONGODB_URI pointing at a disposable server.
func openTestStore(t *testing.T) *MongoStore {
	t.Helper()
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set")
	}
	ctx := context.Background()
	db := "itemharness_test_" + uuid.NewString()[:8]
	s, err := Open(ctx, Config{URI: uri, Database: db, OperationTimeout: 10 * time.Second}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.client.Database(db).Drop(context.Background())
		_ = s.Close(context.Background())
	})
	return s
}

func TestMongoDirectSeedRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	oid := primitive.NewObjectID()
	_, err := s.users.InsertOne(ctx, bson.M{"_id": oid, "email": "editor1@test.com"})
	require.NoError(t, err)

	d := seed.NewDirectSeeder(s)
	res, err := d.Seed(ctx, "editor1@test.com", builder.SeedItems)
	require.NoError(t, err)
	assert.Equal(t, oid.Hex(), res.OwnerID)
	assert.Equal(t, len(builder.SeedItems), res.Inserted)

	again, err := d.Seed(ctx, "editor1@test.com", builder.SeedItems)
	require.NoError(t, err)
	assert.True(t, again.Skipped)

	n, err := s.DeleteSeedItems(ctx, oid.Hex(), true)
	require.NoError(t, err)
	assert.Equal(t, int64(len(builder.SeedItems)), n)

	n, err = s.DeleteSeedItems(ctx, oid.Hex(), false)
	require.NoError(t, err)
	assert.Equal(t, int64(len(builder.SeedItems)), n)
}

func TestMongoUnknownUser(t *testing.T) {
	s := openTestStore(t)
	_, err := s.UserIDByEmail(context.Background(), "ghost@test.com")
	assert.ErrorIs(t, err, seed.ErrUserNotFound)
}
