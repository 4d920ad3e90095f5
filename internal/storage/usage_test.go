package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskUsage(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "vectors.bin")
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0644))

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "a"), []byte("ab"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b"), []byte("c"), 0644))

	tests := []struct {
		name  string
		paths []string
		want  Usage
	}{
		{"single file", []string{file}, Usage{Bytes: 5, Files: 1}},
		{"directory", []string{sub}, Usage{Bytes: 3, Files: 2}},
		{"whole tree", []string{dir}, Usage{Bytes: 8, Files: 3}},
		{"missing path skipped", []string{file, filepath.Join(dir, "nope"), sub}, Usage{Bytes: 8, Files: 3}},
		{"empty path skipped", []string{"", file}, Usage{Bytes: 5, Files: 1}},
		{"nothing", nil, Usage{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DiskUsage(tt.paths...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
