package collector

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/smartmeter_sim/internal/model"
)

func readLogFile(t *testing.T, path string) []model.LogEntry {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []model.LogEntry
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestFlushCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "energy_log.json")
	w := NewFileWriter(path)

	entries := []model.LogEntry{{Timestamp: "01/01/2024", EnergyKW: "3.5"}}
	require.NoError(t, w.Flush(entries))

	assert.Equal(t, entries, readLogFile(t, path))
	assert.EqualValues(t, 1, w.Flushes())
}

func TestFlushFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "energy_log.json")
	w := NewFileWriter(path)

	require.NoError(t, w.Flush([]model.LogEntry{{Timestamp: "01/01/2024", EnergyKW: "3.5"}}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[\n  {\n    \"timestamp\": \"01/01/2024\",\n    \"energy_kW\": \"3.5\"\n  }\n]", string(data))

	require.NoError(t, w.Flush(nil))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestFlushOverwritesWholeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "energy_log.json")
	w := NewFileWriter(path)

	require.NoError(t, w.Flush([]model.LogEntry{reading(1), reading(2), reading(3)}))
	require.NoError(t, w.Flush([]model.LogEntry{reading(3)}))
	assert.Equal(t, []model.LogEntry{reading(3)}, readLogFile(t, path))
}

func TestFlushFailureRecorded(t *testing.T) {
	w := NewFileWriter(filepath.Join(t.TempDir(), "missing-dir", "energy_log.json"))
	before := w.LastErrorAge()
	assert.Greater(t, before, time.Hour)

	assert.Error(t, w.Flush([]model.LogEntry{reading(1)}))
	assert.Less(t, w.LastErrorAge(), time.Minute)
	assert.EqualValues(t, 0, w.Flushes())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file is empty", func(t *testing.T) {
		got, dropped, err := NewFileWriter(filepath.Join(dir, "absent.json")).Load()
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Zero(t, dropped)
	})

	t.Run("round trip", func(t *testing.T) {
		w := NewFileWriter(filepath.Join(dir, "log.json"))
		want := []model.LogEntry{reading(1), reading(2)}
		require.NoError(t, w.Flush(want))
		got, dropped, err := w.Load()
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Zero(t, dropped)
	})

	t.Run("malformed content", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"timestamp":`), 0644))
		_, _, err := NewFileWriter(path).Load()
		assert.ErrorIs(t, err, ErrCorruptLog)
	})

	t.Run("invalid entries dropped", func(t *testing.T) {
		path := filepath.Join(dir, "mixed.json")
		content := `[{"timestamp":"01/01/2024","energy_kW":"1"},{"timestamp":"yesterday","energy_kW":"2"},{"timestamp":"03/01/2024","energy_kW":3}]`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		got, dropped, err := NewFileWriter(path).Load()
		require.NoError(t, err)
		assert.Equal(t, 1, dropped)
		assert.Equal(t, []model.LogEntry{
			{Timestamp: "01/01/2024", EnergyKW: "1"},
			{Timestamp: "03/01/2024", EnergyKW: "3"},
		}, got)
	})
}
