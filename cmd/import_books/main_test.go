package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "books.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `
books:
  - title: "1984"
    author: George Orwell
    year: 1949
    language: English
  - title: The Art of War
    author: Sun Tzu
`)

	m, err := loadManifest(path)
	require.NoError(t, err)
	require.Len(t, m.Books, 2)

	first := m.Books[0].input()
	assert.Equal(t, "1984", first.Title)
	require.NotNil(t, first.Year)
	assert.Equal(t, int64(1949), *first.Year)
	require.NotNil(t, first.Language)
	assert.Equal(t, "English", *first.Language)

	second := m.Books[1].input()
	assert.Nil(t, second.Year)
	assert.Nil(t, second.Language)
}

func TestLoadManifestErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", "books: []\n"},
		{"not yaml", "books: [\n"},
		{"wrong shape", "books: 3\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadManifest(writeManifest(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := loadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
