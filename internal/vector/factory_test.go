package vector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/RohitChoukiker/medQuery/internal/apperr"
	"github.com/RohitChoukiker/medQuery/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_Disk(t *testing.T) {
	s, err := Open(context.Background(), config.StoreConfig{Backend: "disk", Path: filepath.Join(t.TempDir(), "vs")}, 8)
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &DiskStore{}, s)
	assert.Equal(t, 8, s.Dimensions())
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Backend: "faiss"}, 8)
	assert.ErrorIs(t, err, apperr.ErrConfig)
}

func TestOpenPGStore_RejectsBadTable(t *testing.T) {
	_, err := OpenPGStore(context.Background(), "postgres://localhost/x", "chunks; drop", 8)
	assert.ErrorIs(t, err, apperr.ErrConfig)
}
