package logger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsolatedLoggerWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refine.log")
	log := NewIsolatedLogger(path)

	log.Debug("Test", "below file level", nil)
	log.Info("Test", "session started", map[string]interface{}{"session_id": "s1"})
	log.Error("Test", "stage failed", map[string]interface{}{"error": "boom"})
	_ = log.Sync()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)

	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "session started", lines[0]["message"])
	assert.Equal(t, "Test", lines[0]["module"])
	assert.Equal(t, map[string]interface{}{"session_id": "s1"}, lines[0]["details"])

	assert.Equal(t, "ERROR", lines[1]["level"])
	assert.Equal(t, "boom", lines[1]["error_ref"])
}

func TestNopLoggerAcceptsNilDetails(t *testing.T) {
	log := NewNopLogger()
	assert.NotPanics(t, func() {
		log.Warn("Test", "nothing", nil)
		log.Error("Test", "nothing", nil)
	})
}
