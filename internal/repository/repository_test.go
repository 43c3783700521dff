package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/face-login/internal/biometric"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := Open(context.Background(), DriverSQLite, dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "", zap.NewNop())
	require.Error(t, err)
}

func TestEmbeddingCodecRoundTrip(t *testing.T) {
	in := biometric.Embedding{1, -0.5, 0.25, 3.1415}
	out, err := decodeEmbedding(encodeEmbedding(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeEmbedding([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestTemplateRepositoryPersistsAndLoads(t *testing.T) {
	ctx := context.Background()
	repo := NewTemplateRepository(openTestDB(t), zap.NewNop())
	require.NoError(t, repo.AutoMigrate(ctx))

	now := time.Now().UTC()
	require.NoError(t, repo.SaveIdentity(ctx, biometric.Identity{ID: "bob", DisplayName: "Bob", Seq: 2, CreatedAt: now}))
	require.NoError(t, repo.SaveIdentity(ctx, biometric.Identity{ID: "alice", DisplayName: "Alice", Seq: 1, CreatedAt: now}))

	require.NoError(t, repo.SaveTemplate(ctx, biometric.Template{ID: "01A", IdentityID: "alice", Embedding: biometric.Embedding{1, 0, 0}, CapturedAt: now}))
	require.NoError(t, repo.SaveTemplate(ctx, biometric.Template{ID: "01B", IdentityID: "bob", Embedding: biometric.Embedding{0, 1, 0}, CapturedAt: now}))

	identities, err := repo.LoadIdentities(ctx)
	require.NoError(t, err)
	require.Len(t, identities, 2)
	assert.Equal(t, "alice", identities[0].ID)
	assert.Equal(t, "bob", identities[1].ID)

	templates, err := repo.LoadTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, templates, 2)
	assert.Equal(t, "01A", templates[0].ID)
	assert.Equal(t, biometric.Embedding{1, 0, 0}, templates[0].Embedding)
	assert.Equal(t, "bob", templates[1].IdentityID)
}

func TestTemplateRepositoryRejectsDuplicateIdentity(t *testing.T) {
	ctx := context.Background()
	repo := NewTemplateRepository(openTestDB(t), zap.NewNop())
	require.NoError(t, repo.AutoMigrate(ctx))

	identity := biometric.Identity{ID: "alice", Seq: 1, CreatedAt: time.Now()}
	require.NoError(t, repo.SaveIdentity(ctx, identity))
	assert.Error(t, repo.SaveIdentity(ctx, identity))
}

func TestSaveTemplateWithIdentityRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := NewTemplateRepository(openTestDB(t), zap.NewNop())
	require.NoError(t, repo.AutoMigrate(ctx))

	now := time.Now().UTC()
	require.NoError(t, repo.SaveTemplateWithIdentity(ctx,
		biometric.Identity{ID: "alice", Seq: 1, CreatedAt: now},
		biometric.Template{ID: "01A", IdentityID: "alice", Embedding: biometric.Embedding{1, 0, 0}, CapturedAt: now},
	))

	err := repo.SaveTemplateWithIdentity(ctx,
		biometric.Identity{ID: "carol", Seq: 2, CreatedAt: now},
		biometric.Template{ID: "01A", IdentityID: "carol", Embedding: biometric.Embedding{0, 1, 0}, CapturedAt: now},
	)
	require.Error(t, err)

	identities, err := repo.LoadIdentities(ctx)
	require.NoError(t, err)
	require.Len(t, identities, 1)
	assert.Equal(t, "alice", identities[0].ID)

	templates, err := repo.LoadTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, "alice", templates[0].IdentityID)
}

func TestRecognitionRepositoryFindDuplicatesByHash(t *testing.T) {
	ctx := context.Background()
	repo := NewRecognitionRepository(openTestDB(t), zap.NewNop())
	require.NoError(t, repo.AutoMigrate(ctx))

	base := time.Now().UTC()
	require.NoError(t, repo.SaveLog(ctx, &RecognitionLog{RequestID: "r1", SHA1Hash: "abc", CreatedAt: base}))
	require.NoError(t, repo.SaveLog(ctx, &RecognitionLog{RequestID: "r2", SHA1Hash: "abc", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, repo.SaveLog(ctx, &RecognitionLog{RequestID: "r3", SHA1Hash: "def", CreatedAt: base.Add(2 * time.Second)}))
	require.NoError(t, repo.SaveLog(ctx, &RecognitionLog{RequestID: "r4", SHA1Hash: "abc", CreatedAt: base.Add(3 * time.Second)}))

	duplicates, err := repo.FindDuplicatesByHash(ctx, "abc", "r2")
	require.NoError(t, err)
	require.Len(t, duplicates, 2)
	assert.Equal(t, "r1", duplicates[0].RequestID)
	assert.Equal(t, "r4", duplicates[1].RequestID)

	none, err := repo.FindDuplicatesByHash(ctx, "def", "r3")
	require.NoError(t, err)
	assert.Empty(t, none)

	blank, err := repo.FindDuplicatesByHash(ctx, "", "r3")
	require.NoError(t, err)
	assert.Empty(t, blank)
}

func TestRecognitionRepositoryFindAndAggregate(t *testing.T) {
	ctx := context.Background()
	repo := NewRecognitionRepository(openTestDB(t), zap.NewNop())
	require.NoError(t, repo.AutoMigrate(ctx))

	empty, err := repo.AggregateMetrics(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalCount)

	require.NoError(t, repo.SaveLog(ctx, &RecognitionLog{RequestID: "r1", IdentityID: "alice", Score: 0.9, Matched: true, LatencyMs: 10, CreatedAt: time.Now()}))
	require.NoError(t, repo.SaveLog(ctx, &RecognitionLog{RequestID: "r2", Score: 0.3, LatencyMs: 30, CreatedAt: time.Now()}))

	log, err := repo.FindByRequestID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "alice", log.IdentityID)

	_, err = repo.FindByRequestID(ctx, "missing")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	agg, err := repo.AggregateMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), agg.TotalCount)
	assert.Equal(t, int64(1), agg.MatchedCount)
	assert.InDelta(t, 0.6, agg.AverageScore, 1e-9)
	assert.InDelta(t, 20.0, agg.AverageLatencyMs, 1e-9)
}
