package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleConfig = `[leaf_a]
type = posix
path = /mnt/a

[leaf_b]
type = posix
path = /mnt/b

[brick_root]
type = mirror
subvolumes = leaf_a, leaf_b
`

func writeTempConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kennyfs.ini")
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))
	return path
}

func TestLoadParsesSections(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	tree, err := Load(path)
	require.NoError(t, err)

	root, ok := tree.Lookup(RootSection)
	require.True(t, ok)
	assert.Equal(t, "mirror", root.Kind)
	assert.Equal(t, []string{"leaf_a", "leaf_b"}, root.Subvolumes)

	leaf, ok := tree.Lookup("leaf_a")
	require.True(t, ok)
	assert.Equal(t, "posix", leaf.Kind)
	assert.Equal(t, "/mnt/a", leaf.Params["path"])
	assert.Nil(t, leaf.Subvolumes)
}

func TestLoadMissingTypeFails(t *testing.T) {
	path := writeTempConfig(t, "[broken]\npath = /mnt/x\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadUnknownSectionNotFound(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	tree, err := Load(path)
	require.NoError(t, err)

	_, ok := tree.Lookup("nonexistent")
	assert.False(t, ok)
}

func TestLoadExpandsHomePrefix(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kennyfs.ini"), []byte(sampleConfig), 0600))

	oldHome := os.Getenv("HOME")
	require.NoError(t, os.Setenv("HOME", dir))
	defer os.Setenv("HOME", oldHome)

	tree, err := Load("~/kennyfs.ini")
	require.NoError(t, err)
	_, ok := tree.Lookup(RootSection)
	assert.True(t, ok)
}
