package database

import (
	"path/filepath"
	"testing"
	"time"

	"go-wallhaven-download/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleWallpaper(id, purity string) models.Wallpaper {
	return models.Wallpaper{
		ID:         id,
		URL:        "https://wallhaven.cc/w/" + id,
		ShortURL:   "https://whvn.cc/" + id,
		Views:      1024,
		Favorites:  42,
		Source:     "https://example.com/source",
		Purity:     purity,
		Category:   "general",
		DimensionX: 3840,
		DimensionY: 2160,
		Resolution: "3840x2160",
		Ratio:      "1.78",
		FileSize:   4012236,
		FileType:   "image/jpeg",
		CreatedAt:  "2024-03-02 11:25:07",
		Colors:     []string{"#424153", "#000000", "#999999", "#ffffff"},
		Path:       "https://w.wallhaven.cc/full/" + id[:2] + "/wallhaven-" + id + ".jpg",
		Thumbs: models.Thumbs{
			Large:    "https://th.wallhaven.cc/lg/" + id + ".jpg",
			Original: "https://th.wallhaven.cc/orig/" + id + ".jpg",
			Small:    "https://th.wallhaven.cc/small/" + id + ".jpg",
		},
	}
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err, "Failed to open database")
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenCreatesRegions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "db")
	db, err := Open(dir)
	require.NoError(t, err)
	defer db.Close()

	assert.DirExists(t, filepath.Join(dir, wallpaperRegion))
	assert.DirExists(t, filepath.Join(dir, summaryRegion))
	assert.Equal(t, 0, db.Len())
}

func TestPutGetRoundTrip(t *testing.T) {
	db := openTestDB(t)
	w := sampleWallpaper("p9pzk9", models.PuritySFW)
	key := w.StorageKey()

	require.NoError(t, db.Put(key, w))
	assert.True(t, db.Has(key))

	got, err := db.Get(key)
	require.NoError(t, err)
	assert.Equal(t, w, got, "Every field including thumbs and color order should survive")
}

func TestGetMissingKey(t *testing.T) {
	db := openTestDB(t)

	_, err := db.Get("wallhaven-missing-1x1.png")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, db.Has("wallhaven-missing-1x1.png"))
}

func TestGetCorruptValue(t *testing.T) {
	db := openTestDB(t)
	key := "wallhaven-broken-1x1.png"
	require.NoError(t, db.wallpapers.Put([]byte(key), []byte("{not json")))

	_, err := db.Get(key)
	assert.ErrorIs(t, err, ErrDecode)
	assert.NotErrorIs(t, err, ErrNotFound, "Corrupt data must not look like absence")
}

func TestPutOverwrites(t *testing.T) {
	db := openTestDB(t)
	w := sampleWallpaper("abc123", models.PuritySFW)
	key := w.StorageKey()
	require.NoError(t, db.Put(key, w))

	w.Views = 99999
	require.NoError(t, db.Put(key, w))

	got, err := db.Get(key)
	require.NoError(t, err)
	assert.Equal(t, 99999, got.Views)
	assert.Equal(t, 1, db.Len())
}

func TestListKeyOrder(t *testing.T) {
	db := openTestDB(t)
	for _, id := range []string{"zz0001", "aa0001", "mm0001"} {
		w := sampleWallpaper(id, models.PuritySFW)
		require.NoError(t, db.Put(w.StorageKey(), w))
	}

	items, err := db.List()
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "aa0001", items[0].ID)
	assert.Equal(t, "mm0001", items[1].ID)
	assert.Equal(t, "zz0001", items[2].ID)

	assert.Equal(t, []string{
		"wallhaven-aa0001-3840x2160.jpeg",
		"wallhaven-mm0001-3840x2160.jpeg",
		"wallhaven-zz0001-3840x2160.jpeg",
	}, db.Keys())
}

func TestListSurfacesCorruptRecord(t *testing.T) {
	db := openTestDB(t)
	w := sampleWallpaper("ok0001", models.PuritySFW)
	require.NoError(t, db.Put(w.StorageKey(), w))
	require.NoError(t, db.wallpapers.Put([]byte("wallhaven-bad-1x1.png"), []byte("garbage")))

	_, err := db.List()
	assert.ErrorIs(t, err, ErrDecode)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	w := sampleWallpaper("keep01", models.PurityNSFW)

	db, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, db.Put(w.StorageKey(), w))
	require.NoError(t, db.Close())

	db, err = Open(dir)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.Get(w.StorageKey())
	require.NoError(t, err)
	assert.Equal(t, w, got)
}

func TestSecondOpenIsLocked(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	db, err := Open(dir)
	require.NoError(t, err)
	defer db.Close()

	_, err = Open(dir)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestOperationsAfterClose(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "Close should be idempotent")

	w := sampleWallpaper("late01", models.PuritySFW)
	assert.ErrorIs(t, db.Put(w.StorageKey(), w), ErrBackend)
	assert.False(t, db.Has(w.StorageKey()))
	assert.Equal(t, 0, db.Len())
}

func TestLastRun(t *testing.T) {
	db := openTestDB(t)

	_, err := db.LastRun()
	assert.ErrorIs(t, err, ErrNotFound)

	first := models.RunRecord{RunID: "one", FinishedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), Accepted: 3, SFW: 2, NSFW: 1}
	second := models.RunRecord{RunID: "two", FinishedAt: time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC), Failed: 1, Error: "boom"}
	require.NoError(t, db.PutLastRun(first))
	require.NoError(t, db.PutLastRun(second))

	got, err := db.LastRun()
	require.NoError(t, err)
	assert.Equal(t, second, got)
	assert.Equal(t, 0, db.Len(), "run summaries never count as wallpaper records")
}
