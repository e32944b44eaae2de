package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "state", "container-ips.json"))
}

func TestStore_SaveAndGet(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, ok, err := s.Get("web")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save("web", "10.0.3.2", []int{80, 443}))

	rec, ok, err := s.Get("web")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Record{IP: "10.0.3.2", Ports: []int{80, 443}}, rec)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "10.0.3.2", raw["web"]["ip"])
	assert.NotContains(t, raw["web"], "previous_ips")
}

func TestStore_SaveTracksPreviousIPs(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.Save("web", "10.0.3.2", []int{80}))
	require.NoError(t, s.Save("web", "10.0.3.2", []int{80}))
	require.NoError(t, s.Save("web", "10.0.3.5", []int{80}))
	require.NoError(t, s.Save("web", "10.0.3.7", nil))

	rec, _, err := s.Get("web")
	require.NoError(t, err)
	assert.Equal(t, "10.0.3.7", rec.IP)
	assert.Equal(t, []int{}, rec.Ports)
	assert.Equal(t, []string{"10.0.3.5", "10.0.3.2"}, rec.PreviousIPs)

	known, err := s.KnownIPs("web")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.3.7", "10.0.3.5", "10.0.3.2"}, known)

	// Returning to an old address removes it from the history.
	require.NoError(t, s.Save("web", "10.0.3.2", []int{80}))
	rec, _, err = s.Get("web")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.3.7", "10.0.3.5"}, rec.PreviousIPs)
}

func TestStore_HistoryIsBounded(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for i := 2; i < 12; i++ {
		require.NoError(t, s.Save("web", fmt.Sprintf("10.0.3.%d", i), nil))
	}

	rec, _, err := s.Get("web")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(rec.PreviousIPs), maxPreviousIPs)
}

func TestStore_Remove(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.Save("db", "10.0.3.2", []int{5432}))
	require.NoError(t, s.Save("web", "10.0.3.3", []int{80}))
	require.NoError(t, s.Remove("web"))
	require.NoError(t, s.Remove("missing"))

	names, err := s.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"db"}, names)
}

func TestStore_LegacyFormat(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{
  "old": "10.0.3.9",
  "new": {"ip": "10.0.3.10", "ports": [8080]}
}`), 0o644))

	records, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, Record{IP: "10.0.3.9"}, records["old"])
	assert.Equal(t, Record{IP: "10.0.3.10", Ports: []int{8080}}, records["new"])

	// Saving rewrites the file in the current format.
	require.NoError(t, s.Save("old", "10.0.3.9", []int{22}))
	rec, _, err := s.Get("old")
	require.NoError(t, err)
	assert.Equal(t, []int{22}, rec.Ports)
}

func TestStore_CorruptFile(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))

	_, err := s.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "file.txt")

	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0o600))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
