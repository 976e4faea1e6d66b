package atomgraph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoad(t *testing.T) {
	b := newTestBatch(t)
	path := filepath.Join(t.TempDir(), "batch.bin")
	require.NoError(t, b.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, loaded.Validate())
	assert.Equal(t, b, loaded)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "no-such-batch.bin"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}
