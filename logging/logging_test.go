package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingKeepsLastLines(t *testing.T) {
	r := NewRing(3)
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(r, "line %d\n", i)
	}
	assert.Equal(t, []string{"line 3", "line 4", "line 5"}, r.Lines())
}

func TestRingPartialFill(t *testing.T) {
	r := NewRing(10)
	_, _ = r.Write([]byte("a\nb\n"))
	assert.Equal(t, []string{"a", "b"}, r.Lines())
}

func TestTrimmedFileCapsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "recorder.log")
	f, err := OpenTrimmed(path, 4)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		_, err := fmt.Fprintf(f, "entry %d\n", i)
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.LessOrEqual(t, len(lines), 8)
	assert.Equal(t, "entry 19", lines[len(lines)-1])
}

func TestOpenTrimmedTrimsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recorder.log")
	var buf bytes.Buffer
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&buf, "old %d\n", i)
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	f, err := OpenTrimmed(path, 3)
	require.NoError(t, err)
	defer f.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old 7\nold 8\nold 9\n", string(data))
}

func TestConfigureFeedsTail(t *testing.T) {
	var console bytes.Buffer
	Configure(Config{Output: &console, MaxLines: 5, Level: "debug"})
	defer Configure(Config{})

	logger := WithComponent("test")
	logger.Info().Msg("hello tail")

	lines := Tail()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "hello tail")
	assert.Contains(t, lines[0], `"component":"test"`)
	assert.Contains(t, console.String(), "hello tail")
}
