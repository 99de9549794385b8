package catalog

import (
	"os"
	"path/filepath"
	"testing"

	elytra "github.com/go-elytra/elytra"
	"github.com/stretchr/testify/require"
)

func testRowGroups() []elytra.RowGroup {
	return []elytra.RowGroup{{ID: 0, RowCount: 10}, {ID: 1, RowCount: 10}, {ID: 2, RowCount: 10}}
}

func TestRegisterAndGet(t *testing.T) {
	cat, err := Open(t.TempDir())
	require.Nil(t, err)

	meta, err := cat.Register(Registration{
		Name:          "taxi-rides",
		StorageKey:    "elytra/abc.parquet",
		StorageBucket: "test-bucket",
		PublicURL:     "https://example.com/abc.parquet",
		RowGroups:     testRowGroups(),
	})
	require.Nil(t, err)
	require.Len(t, meta.ID, 12)
	require.Equal(t, "parquet", meta.Format)
	require.Equal(t, int64(30), meta.TotalRows())

	got, ok := cat.Get(meta.ID)
	require.True(t, ok)
	require.Equal(t, meta.Name, got.Name)

	_, ok = cat.Get("missing")
	require.False(t, ok)
}

func TestRegisterRejectsInvalidRowGroups(t *testing.T) {
	cat, err := Open(t.TempDir())
	require.Nil(t, err)

	_, err = cat.Register(Registration{Name: "empty"})
	require.NotNil(t, err)

	_, err = cat.Register(Registration{
		Name:      "gap",
		RowGroups: []elytra.RowGroup{{ID: 0, RowCount: 5}, {ID: 2, RowCount: 5}},
	})
	require.NotNil(t, err)

	_, err = cat.Register(Registration{
		Name:      "zero-rows",
		RowGroups: []elytra.RowGroup{{ID: 0, RowCount: 0}},
	})
	require.NotNil(t, err)
}

func TestDelete(t *testing.T) {
	root := t.TempDir()
	cat, err := Open(root)
	require.Nil(t, err)

	meta, err := cat.Register(Registration{Name: "doomed", RowGroups: testRowGroups()})
	require.Nil(t, err)

	reclaimed, found := cat.Delete(meta.ID)
	require.True(t, found)
	require.Greater(t, reclaimed, int64(0))
	_, ok := cat.Get(meta.ID)
	require.False(t, ok)
	_, err = os.Stat(filepath.Join(root, meta.ID))
	require.True(t, os.IsNotExist(err))

	_, found = cat.Delete(meta.ID)
	require.False(t, found)
}

func TestRestoreFromDisk(t *testing.T) {
	root := t.TempDir()
	cat, err := Open(root)
	require.Nil(t, err)

	first, err := cat.Register(Registration{Name: "one", RowGroups: testRowGroups()})
	require.Nil(t, err)
	second, err := cat.Register(Registration{Name: "two", RowGroups: testRowGroups()[:1]})
	require.Nil(t, err)
	before := cat.List()

	// corrupt entry should be skipped, not partially loaded
	badDir := filepath.Join(root, "corruptedid")
	require.Nil(t, os.MkdirAll(badDir, 0o755))
	require.Nil(t, os.WriteFile(filepath.Join(badDir, "meta.json"), []byte("{not json"), 0o644))

	restored, err := Open(root)
	require.Nil(t, err)
	require.Nil(t, restored.RestoreFromDisk())
	require.Equal(t, before, restored.List())

	got, ok := restored.Get(first.ID)
	require.True(t, ok)
	require.Equal(t, 3, len(got.RowGroups))
	got, ok = restored.Get(second.ID)
	require.True(t, ok)
	require.Equal(t, 1, len(got.RowGroups))
	_, ok = restored.Get("corruptedid")
	require.False(t, ok)
}

func TestListOrderedByTimestamp(t *testing.T) {
	cat, err := Open(t.TempDir())
	require.Nil(t, err)
	for _, name := range []string{"a", "b", "c"} {
		_, err := cat.Register(Registration{Name: name, RowGroups: testRowGroups()})
		require.Nil(t, err)
	}
	list := cat.List()
	require.Len(t, list, 3)
	for i := 1; i < len(list); i++ {
		require.LessOrEqual(t, list[i-1].Timestamp, list[i].Timestamp)
	}
}
