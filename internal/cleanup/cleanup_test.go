package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isPart(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, ".part-")
}

func TestRemoveDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "c001")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "01.jpg"), []byte("x"), 0o644))

	require.NoError(t, RemoveDir(context.Background(), dir))

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestRemoveDir_Missing(t *testing.T) {
	assert.NoError(t, RemoveDir(context.Background(), filepath.Join(t.TempDir(), "nope")))
}

func TestRemoveStaleParts(t *testing.T) {
	dir := t.TempDir()

	files := []string{"01.jpg", ".02.jpg.part-1234", ".03.jpg.part-99", "notes.part-1"}
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("x"), 0o644))
	}

	removed, err := RemoveStaleParts(context.Background(), dir, isPart)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var left []string
	for _, e := range entries {
		left = append(left, e.Name())
	}

	assert.ElementsMatch(t, []string{"01.jpg", "notes.part-1"}, left)
}

func TestRemoveStaleParts_MissingDir(t *testing.T) {
	removed, err := RemoveStaleParts(context.Background(), filepath.Join(t.TempDir(), "nope"), isPart)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
