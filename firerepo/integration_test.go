package firerepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralkit/corral"
)

// Integration tests run against the Firestore emulator and are skipped unless
// FIRESTORE_EMULATOR_HOST is set. Each test gets its own collection, so runs
// are independent without cleanup: the emulator is ephemeral.

func integrationRepo(t *testing.T, opts corral.Options) *Repository {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set; skipping Firestore integration tests")
	}
	project := os.Getenv("FIRESTORE_PROJECT_ID")
	if project == "" {
		project = "corral-test"
	}

	ctx := context.Background()
	client, err := firestore.NewClient(ctx, project)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	repo, err := New(client, client.Collection("docs_"+uuid.NewString()[:8]), opts)
	require.NoError(t, err)
	return repo
}

func TestIntegration_ScopeIsolation(t *testing.T) {
	ctx := context.Background()
	repo := integrationRepo(t, corral.Options{
		SoftDelete: true,
		Scope:      corral.Scope{"tenant": "acme"},
	})

	_, err := repo.CreateMany(ctx, []corral.Document{
		{"id": "a1", "name": "first", "active": true},
		{"id": "a2", "name": "second", "active": true},
		{"id": "a3", "name": "doomed", "active": false},
	})
	require.NoError(t, err)

	// A foreign tenant's document and a soft-deleted one must stay invisible.
	_, err = repo.Collection().Doc("x1").Set(ctx, map[string]interface{}{
		"tenant": "other", "_deleted": false, "active": true,
	})
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, "a3"))

	t.Run("Should count only visible in-scope documents", func(t *testing.T) {
		n, err := repo.Count(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("Should never return a foreign document by identity", func(t *testing.T) {
		doc, err := repo.GetByID(ctx, "x1")
		require.NoError(t, err)
		assert.Nil(t, doc)

		ok, err := repo.Exists(ctx, "a3")
		require.NoError(t, err)
		assert.False(t, ok, "soft-deleted documents are invisible")
	})

	t.Run("Should partition found and missing across visibility", func(t *testing.T) {
		docs, missing, err := repo.GetByIDs(ctx, []string{"a1", "x1", "a3", "a2", "nope"})
		require.NoError(t, err)
		assert.Len(t, docs, 2)
		assert.Equal(t, []string{"x1", "a3", "nope"}, missing)
	})

	t.Run("Should answer a contradicting filter empty by default", func(t *testing.T) {
		stream, err := repo.Find(ctx, corral.Filter{"tenant": "other"})
		require.NoError(t, err)
		docs, err := stream.All(ctx)
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("Should surface the breach when asked to", func(t *testing.T) {
		_, err := repo.Count(ctx, corral.Filter{"tenant": "other"}, corral.FailOnScopeBreach())
		assert.True(t, corral.IsScopeBreach(err))
	})
}

func TestIntegration_MetadataLifecycle(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	step := 0
	repo := integrationRepo(t, corral.Options{
		SoftDelete:    true,
		Timestamps:    corral.TimestampsClock,
		Versioned:     true,
		VersionKey:    "revision", // custom-named metadata stays visible
		TraceStrategy: corral.TraceUnbounded,
		TraceContext:  corral.Trace{"app": "integration"},
		Clock: func() time.Time {
			step++
			return base.Add(time.Duration(step) * time.Second)
		},
	})

	id, err := repo.Create(ctx, corral.Document{"name": "Widget"})
	require.NoError(t, err)

	t.Run("Should expose custom metadata and hide reserved names", func(t *testing.T) {
		doc, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Widget", doc["name"])
		assert.Equal(t, int64(1), doc["revision"])
		for _, k := range []string{"_createdAt", "_updatedAt", "_deleted", "_trace"} {
			assert.NotContains(t, doc, k)
		}
	})

	t.Run("Should reject a second create for the same identity", func(t *testing.T) {
		_, err := repo.Create(ctx, corral.Document{"id": id, "name": "Usurper"})
		assert.True(t, corral.IsConflict(err))

		doc, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Widget", doc["name"], "the losing create modified nothing")
	})

	require.NoError(t, repo.Update(ctx, id, corral.Update{
		Set:   corral.Document{"name": "Gadget"},
		Unset: []string{"missing"},
	}))

	t.Run("Should bump the version and advance updatedAt", func(t *testing.T) {
		doc, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Gadget", doc["name"])
		assert.Equal(t, int64(2), doc["revision"])

		snap, err := repo.Collection().Doc(id).Get(ctx)
		require.NoError(t, err)
		raw := snap.Data()
		created := raw[corral.KeyCreatedAt].(time.Time)
		updated := raw[corral.KeyUpdatedAt].(time.Time)
		assert.True(t, updated.After(created), "updatedAt %v must trail createdAt %v", updated, created)
	})

	require.NoError(t, repo.Delete(ctx, id))

	t.Run("Should mark deletion as one more enriched write", func(t *testing.T) {
		doc, err := repo.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, doc)

		snap, err := repo.Collection().Doc(id).Get(ctx)
		require.NoError(t, err)
		raw := snap.Data()
		assert.Equal(t, true, raw[corral.KeyDeleted])
		assert.Equal(t, int64(3), raw["revision"])
		assert.Contains(t, raw, corral.KeyDeletedAt)

		trace := raw[corral.KeyTrace].([]interface{})
		require.Len(t, trace, 3, "unbounded tracing appends one record per write")
		last := trace[2].(map[string]interface{})
		assert.Equal(t, "delete", last[corral.TraceFieldOperation])
		assert.Equal(t, "integration", last["app"])
	})

	t.Run("Should leave a deleted document alone on repeat delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, id))
		snap, err := repo.Collection().Doc(id).Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), snap.Data()["revision"], "an invisible document takes no further writes")
	})
}

func TestIntegration_CreateManyPartialFailure(t *testing.T) {
	ctx := context.Background()
	repo := integrationRepo(t, corral.Options{})

	const total = 350
	const collideAt = 320

	// The duplicate sits in the second batch: the first commits whole, the
	// second fails whole, and nothing after it is attempted.
	_, err := repo.Create(ctx, corral.Document{"id": fmt.Sprintf("d-%04d", collideAt), "seeded": true})
	require.NoError(t, err)

	entities := make([]corral.Document, total)
	for i := range entities {
		entities[i] = corral.Document{"id": fmt.Sprintf("d-%04d", i), "seq": i}
	}

	_, err = repo.CreateMany(ctx, entities)
	require.Error(t, err)

	partial, ok := corral.AsPartialFailure(err)
	require.True(t, ok, "expected a partial failure, got %v", err)
	assert.Len(t, partial.InsertedIDs, maxBatchWrites)
	assert.Len(t, partial.FailedIDs, total-maxBatchWrites)
	assert.Equal(t, "d-0000", partial.InsertedIDs[0])
	assert.Equal(t, fmt.Sprintf("d-%04d", maxBatchWrites), partial.FailedIDs[0])
	assert.NotNil(t, partial.Cause)

	t.Run("Should leave the seeded document untouched", func(t *testing.T) {
		snap, err := repo.Collection().Doc(fmt.Sprintf("d-%04d", collideAt)).Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, true, snap.Data()["seeded"])
		assert.NotContains(t, snap.Data(), "seq")
	})

	t.Run("Should report the committed batches accurately", func(t *testing.T) {
		n, err := repo.Count(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(maxBatchWrites+1), n)
	})
}

func TestIntegration_Pagination(t *testing.T) {
	ctx := context.Background()
	repo := integrationRepo(t, corral.Options{})

	_, err := repo.CreateMany(ctx, []corral.Document{
		{"id": "p1", "name": "alpha"},
		{"id": "p2", "name": "alpha"},
		{"id": "p3", "name": "beta"},
		{"id": "p4", "name": "beta"},
	})
	require.NoError(t, err)

	sort := corral.WithSort("name", false)

	page1, err := repo.FindPage(ctx, nil, corral.PageRequest{Limit: 2}, sort)
	require.NoError(t, err)
	require.Len(t, page1.Items, 2)
	assert.Equal(t, "p1", page1.Items[0]["id"])
	assert.Equal(t, "p2", page1.Items[1]["id"])
	assert.True(t, page1.HasMore)
	require.NotEmpty(t, page1.NextCursor)

	page2, err := repo.FindPage(ctx, nil, corral.PageRequest{Limit: 2, Cursor: page1.NextCursor}, sort)
	require.NoError(t, err)
	require.Len(t, page2.Items, 2)
	assert.Equal(t, "p3", page2.Items[0]["id"])
	assert.Equal(t, "p4", page2.Items[1]["id"])
	assert.False(t, page2.HasMore)
	assert.Empty(t, page2.NextCursor)

	t.Run("Should reject a cursor that resolves to nothing", func(t *testing.T) {
		_, err := repo.FindPage(ctx, nil, corral.PageRequest{Limit: 2, Cursor: "no-such-id"}, sort)
		assert.True(t, corral.IsInvalidCursor(err))
	})

	t.Run("Should project on the way out", func(t *testing.T) {
		doc, err := repo.GetByID(ctx, "p1", corral.WithProjection("name"))
		require.NoError(t, err)
		assert.Equal(t, corral.Document{"name": "alpha"}, doc)
	})

	t.Run("Should cap a stream server-side", func(t *testing.T) {
		stream, err := repo.Find(ctx, nil, sort, corral.WithLimit(3))
		require.NoError(t, err)
		docs, err := stream.All(ctx)
		require.NoError(t, err)
		assert.Len(t, docs, 3)
	})
}

func TestIntegration_TransactionRollback(t *testing.T) {
	ctx := context.Background()
	repo := integrationRepo(t, corral.Options{})

	_, err := repo.Create(ctx, corral.Document{"id": "probe", "state": "before"})
	require.NoError(t, err)

	boom := errors.New("abort")
	err = repo.RunTransaction(ctx, func(ctx context.Context, tx corral.Repository) error {
		// Transactions read before they write.
		doc, err := tx.GetByID(ctx, "probe")
		if err != nil {
			return err
		}
		if doc["state"] != "before" {
			return fmt.Errorf("unexpected state %v", doc["state"])
		}
		// The update's visibility pre-check is a read, so it has to come
		// before the transaction's first write.
		if err := tx.Update(ctx, "probe", corral.Update{Set: corral.Document{"state": "after"}}); err != nil {
			return err
		}
		if _, err := tx.Create(ctx, corral.Document{"id": "ghost"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom, "the callback error comes back unwrapped")

	t.Run("Should leave no trace of the aborted writes", func(t *testing.T) {
		doc, err := repo.GetByID(ctx, "ghost")
		require.NoError(t, err)
		assert.Nil(t, doc)

		doc, err = repo.GetByID(ctx, "probe")
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.Equal(t, "before", doc["state"])
	})

	t.Run("Should commit when the callback succeeds", func(t *testing.T) {
		err := repo.RunTransaction(ctx, func(ctx context.Context, tx corral.Repository) error {
			return tx.Update(ctx, "probe", corral.Update{Set: corral.Document{"state": "committed"}})
		})
		require.NoError(t, err)
		doc, err := repo.GetByID(ctx, "probe")
		require.NoError(t, err)
		assert.Equal(t, "committed", doc["state"])
	})
}
