package telemetry

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkWritesNDJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "telemetry.ndjson")
	sink, err := NewSink(path, 16, slog.Default())
	require.NoError(t, err)

	sink.Capture(EventSessionCreated, map[string]string{"jsVersion": "1.2.0"})
	sink.Capture(EventResponseCreated, nil)
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, EventSessionCreated, first.Name)
	assert.Equal(t, "1.2.0", first.Properties["jsVersion"])
	assert.False(t, first.Timestamp.IsZero())
}

func TestSinkCaptureAfterCloseDoesNotBlock(t *testing.T) {
	t.Parallel()

	sink, err := NewSink(filepath.Join(t.TempDir(), "t.ndjson"), 1, nil)
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	sink.Capture(EventSessionCreated, nil)
}

func TestRecorderCounts(t *testing.T) {
	r := &Recorder{}
	r.Capture(EventSessionCreated, nil)
	r.Capture(EventSessionCreated, nil)
	r.Capture(EventResponseCreated, nil)

	assert.Equal(t, 2, r.Count(EventSessionCreated))
	assert.Len(t, r.Events(), 3)
}
