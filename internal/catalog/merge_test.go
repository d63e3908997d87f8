package catalog

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trahl-dev/trahl/internal/catalog/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := Open(context.Background(), "file::memory:?cache=shared", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMergeLibrariesCreatesExactlyOneEnabledRowPerConfiguredName(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	configs := []LibraryConfig{
		{Name: "movies", Enabled: true, SourcePath: "/src/movies", DestinationPath: "/dst/movies", ScriptPath: "movies.lua", ScriptBody: "-- movies"},
		{Name: "shows", Enabled: true, SourcePath: "/src/shows", DestinationPath: "/dst/shows", ScriptPath: "shows.lua", ScriptBody: "-- shows"},
	}
	require.NoError(t, store.MergeLibrariesFromConfig(ctx, configs))

	var libraries []models.Library
	require.NoError(t, store.db.Where("source = ?", models.LibrarySourceConf).Find(&libraries).Error)
	require.Len(t, libraries, 2)
	for _, lib := range libraries {
		assert.True(t, lib.Enabled)
	}
}

func TestMergeLibrariesDisablesVanishedConfEntries(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.MergeLibrariesFromConfig(ctx, []LibraryConfig{
		{Name: "movies", Enabled: true, SourcePath: "/src/movies", DestinationPath: "/dst/movies", ScriptPath: "movies.lua", ScriptBody: "-- movies"},
		{Name: "shows", Enabled: true, SourcePath: "/src/shows", DestinationPath: "/dst/shows", ScriptPath: "shows.lua", ScriptBody: "-- shows"},
	}))

	// "shows" is dropped from config on the next merge.
	require.NoError(t, store.MergeLibrariesFromConfig(ctx, []LibraryConfig{
		{Name: "movies", Enabled: true, SourcePath: "/src/movies", DestinationPath: "/dst/movies", ScriptPath: "movies.lua", ScriptBody: "-- movies"},
	}))

	var movies, shows models.Library
	require.NoError(t, store.db.Where("name = ? AND source = ?", "movies", models.LibrarySourceConf).First(&movies).Error)
	require.NoError(t, store.db.Where("name = ? AND source = ?", "shows", models.LibrarySourceConf).First(&shows).Error)

	assert.True(t, movies.Enabled)
	assert.False(t, shows.Enabled)
}

func TestMergeLibrariesUpdatesScriptBodyOnHashChange(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.MergeLibrariesFromConfig(ctx, []LibraryConfig{
		{Name: "movies", Enabled: true, SourcePath: "/src/movies", DestinationPath: "/dst/movies", ScriptPath: "movies.lua", ScriptBody: "-- v1"},
	}))
	require.NoError(t, store.MergeLibrariesFromConfig(ctx, []LibraryConfig{
		{Name: "movies", Enabled: true, SourcePath: "/src/movies", DestinationPath: "/dst/movies", ScriptPath: "movies.lua", ScriptBody: "-- v2"},
	}))

	var script models.Script
	require.NoError(t, store.db.Where("name = ? AND source = ?", "movies.lua", "conf").First(&script).Error)
	assert.Equal(t, "-- v2", script.Body)
}
