package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "data", "issuetriage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestClassifications(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	records := []Classification{
		{Text: "street light broken", Category: "lighting", Confidence: 0.9, ModelVersion: "tfidf-logreg-v1"},
		{Text: "pothole on main st", Category: "roads", Confidence: 0.8, ModelVersion: "tfidf-logreg-v1"},
		{Text: "lamp flickering", Category: "lighting", Confidence: 0.7, ModelVersion: "tfidf-logreg-v1", Cached: true},
	}
	for _, record := range records {
		id, err := store.SaveClassification(ctx, record)
		require.NoError(t, err)
		assert.Positive(t, id)
	}

	recent, err := store.RecentClassifications(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "lamp flickering", recent[0].Text)
	assert.True(t, recent[0].Cached)
	assert.Equal(t, "roads", recent[1].Category)
	assert.WithinDuration(t, time.Now(), recent[0].CreatedAt, time.Minute)

	stats, err := store.CategoryStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "lighting", stats[0].Category)
	assert.Equal(t, int64(2), stats[0].Count)
	assert.InDelta(t, 0.8, stats[0].AvgConfidence, 1e-9)
}

func TestTrainingRuns(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	accuracy, macroF1 := 0.91, 0.88
	require.NoError(t, store.SaveTrainingRun(ctx, TrainingRun{
		RunID: "run-small", ModelType: "logreg", Strategy: "small",
		Rows: 4, Classes: 2, ArtifactPath: "model.json",
	}))
	require.NoError(t, store.SaveTrainingRun(ctx, TrainingRun{
		RunID: "run-search", ModelType: "calibrated_logreg", Strategy: "search",
		Rows: 120, Classes: 5, Accuracy: &accuracy, MacroF1: &macroF1,
		BestParams: "ngram_range=(1,2) C=2", ArtifactPath: "model.json",
	}))

	runs, err := store.TrainingRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "run-search", runs[0].RunID)
	require.NotNil(t, runs[0].Accuracy)
	assert.InDelta(t, 0.91, *runs[0].Accuracy, 1e-9)
	assert.Equal(t, "ngram_range=(1,2) C=2", runs[0].BestParams)

	assert.Equal(t, "run-small", runs[1].RunID)
	assert.Nil(t, runs[1].Accuracy)
	assert.Nil(t, runs[1].MacroF1)

	err = store.SaveTrainingRun(ctx, TrainingRun{RunID: "run-small", ModelType: "logreg", Strategy: "small", ArtifactPath: "x"})
	assert.Error(t, err, "run ids are unique")
	assert.Error(t, store.SaveTrainingRun(ctx, TrainingRun{}))
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func TestOpenInMemory(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Ping(context.Background()))

	stats, err := store.CategoryStats(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestReportHash(t *testing.T) {
	createdAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	hash := ReportHash(7, "street light broken", "lighting", "tfidf-logreg-v1", createdAt)

	assert.Equal(t, "0xd159faa16d8884fe429cfd353f3cde1fef77cb19341b2945cc2eaaddbfb18c13", hash)
	assert.True(t, IsBytes32(hash))
	assert.Equal(t, hash, ReportHash(7, "street light broken", "lighting", "tfidf-logreg-v1", createdAt.In(time.FixedZone("x", 3600))))
	assert.NotEqual(t, hash, ReportHash(8, "street light broken", "lighting", "tfidf-logreg-v1", createdAt))

	assert.False(t, IsBytes32("0x1234"))
	assert.False(t, IsBytes32(strings.Repeat("a", 66)))
}

func TestClassificationDataHash(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := store.SaveClassification(ctx, Classification{
		Text: "street light broken", Category: "lighting", Confidence: 0.9, ModelVersion: "tfidf-logreg-v1",
	})
	require.NoError(t, err)

	recent, err := store.RecentClassifications(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	record := recent[0]
	assert.True(t, IsBytes32(record.DataHash), record.DataHash)
	assert.Equal(t, ReportHash(id, record.Text, record.Category, record.ModelVersion, record.CreatedAt), record.DataHash)

	verification, err := store.VerifyClassification(ctx, id)
	require.NoError(t, err)
	assert.True(t, verification.Valid)
	assert.Equal(t, record.DataHash, verification.DataHash)

	_, err = store.db.ExecContext(ctx, `UPDATE classifications SET category = 'roads' WHERE id = ?`, id)
	require.NoError(t, err)
	verification, err = store.VerifyClassification(ctx, id)
	require.NoError(t, err)
	assert.False(t, verification.Valid)
	assert.NotEqual(t, verification.DataHash, verification.Expected)

	_, err = store.VerifyClassification(ctx, id+100)
	assert.ErrorIs(t, err, ErrClassificationNotFound)
}

func TestOpenAddsDataHashColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	legacy, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = legacy.Exec(`CREATE TABLE classifications (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        text TEXT NOT NULL,
        category TEXT NOT NULL,
        confidence REAL NOT NULL,
        model_version TEXT NOT NULL,
        cached INTEGER NOT NULL DEFAULT 0,
        created_at DATETIME NOT NULL
    )`)
	require.NoError(t, err)
	require.NoError(t, legacy.Close())

	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.SaveClassification(context.Background(), Classification{Text: "x", Category: "y", ModelVersion: "v"})
	require.NoError(t, err)
}
