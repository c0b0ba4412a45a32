package extract

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrySizesMatch(t *testing.T) {
	r := NewRegistry()
	require.Equal(t, 5, r.Size())
	assert.Len(t, r.Extractors(), r.Size())
	assert.Len(t, r.Metadata(), r.Size())
}

func TestRegistryCoreFormatsAlwaysDiscovered(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"chatgpt", "claude", "openwebui", "docx"} {
		_, ok := r.ByName(name)
		assert.True(t, ok, "expected %s to be registered", name)
	}
}

func TestScanDirSkipsUnknownManifests(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir+"/chatgpt.yaml", "extractor: chatgpt\n")
	writeFile(t, dir+"/bogus.yaml", "extractor: not-a-real-format\n")
	writeFile(t, dir+"/notes.txt", "ignored, wrong extension\n")

	r, warnings, err := ScanDir(dir)
	require.NoError(t, err)
	require.Equal(t, 1, r.Size())
	assert.Len(t, warnings, 1)

	_, ok := r.ByName("chatgpt")
	assert.True(t, ok)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
