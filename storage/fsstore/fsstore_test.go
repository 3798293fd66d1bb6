package fsstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NOAA-OWP/DMOD-sub002/errors"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "datasets"))
	require.NoError(t, err)
	return s
}

func TestCreateDeleteExists(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "forcing-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Create(ctx, "forcing-1"))
	ok, err = s.Exists(ctx, "forcing-1")
	require.NoError(t, err)
	assert.True(t, ok)

	t.Run("duplicate create rejected", func(t *testing.T) {
		err := s.Create(ctx, "forcing-1")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrDatasetExists))
	})

	require.NoError(t, s.Delete(ctx, "forcing-1"))
	ok, err = s.Exists(ctx, "forcing-1")
	require.NoError(t, err)
	assert.False(t, ok)

	t.Run("delete unknown dataset", func(t *testing.T) {
		err := s.Delete(ctx, "forcing-1")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrDatasetNotFound))
	})
}

func TestAddGetListData(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "config-1"))

	content := []byte(`{"a":1}`)
	require.NoError(t, s.AddData(ctx, "config-1", "realization_config.json", content))
	require.NoError(t, s.AddData(ctx, "config-1", "nested/dir/item.json", []byte("{}")))

	got, err := s.GetData(ctx, "config-1", "realization_config.json")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	files, err := s.ListFiles(ctx, "config-1")
	require.NoError(t, err)
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"realization_config.json", "nested/dir/item.json"}, names)

	t.Run("missing item", func(t *testing.T) {
		_, err := s.GetData(ctx, "config-1", "absent.json")
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrItemNotFound))
	})
	t.Run("add to unknown dataset", func(t *testing.T) {
		err := s.AddData(ctx, "no-such-dataset", "item", []byte("x"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrDatasetNotFound))
	})
	t.Run("empty dataset lists empty slice", func(t *testing.T) {
		require.NoError(t, s.Create(ctx, "empty-1"))
		files, err := s.ListFiles(ctx, "empty-1")
		require.NoError(t, err)
		assert.NotNil(t, files)
		assert.Empty(t, files)
	})
}

func TestItemPathTraversalRejected(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "config-1"))

	for _, item := range []string{"../escape", "..", "a/../../escape", "/etc/passwd", "."} {
		t.Run(item, func(t *testing.T) {
			err := s.AddData(ctx, "config-1", item, []byte("x"))
			require.Error(t, err)

			_, err = s.GetData(ctx, "config-1", item)
			require.Error(t, err)
		})
	}
}

func TestAccessLocation(t *testing.T) {
	s := newStore(t)
	loc := s.AccessLocation("forcing-1")
	assert.Equal(t, filepath.Join(s.root, "forcing-1"), loc)
}
