package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveStateOperationsFailAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "save.bolt")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Set("k", []byte("v")))
	require.NoError(t, s.Close())

	_, _, err = s.Get("k")
	require.Error(t, err)
	require.Error(t, s.Set("k", []byte("v2")))
}
