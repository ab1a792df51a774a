package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, DEBUG, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, INFO, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestLogger_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter("test", &buf, WARN)

	l.Info("не должно попасть")
	l.Warn("неизвестный сегмент %d", 7)

	out := buf.String()
	assert.NotContains(t, out, "не должно попасть")
	assert.Contains(t, out, "[WARN] [test] неизвестный сегмент 7")
	assert.False(t, l.Enabled(DEBUG))
	assert.True(t, l.Enabled(ERROR))
}

func TestDefaultLogger_PackageFunctions(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	var buf bytes.Buffer
	SetDefault(NewLoggerWithWriter("default", &buf, DEBUG))

	Debug("отладка")
	Error("ошибка: %v", "диск")
	assert.Contains(t, buf.String(), "[DEBUG] [default] отладка")
	assert.Contains(t, buf.String(), "[ERROR] [default] ошибка: диск")
}

func TestInitDefaultLogger_WritesFile(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	dir := t.TempDir()
	require.NoError(t, InitDefaultLogger("chunkstream", dir, DEBUG))
	Debug("в файл")
	require.NoError(t, CloseDefaultLogger())

	files, err := filepath.Glob(filepath.Join(dir, "chunkstream_*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "в файл")
}

func TestLoggerManager_ReusesComponentLoggers(t *testing.T) {
	lm := &LoggerManager{loggers: make(map[string]*Logger), level: INFO}

	a := lm.MustGetLogger("storage")
	b := lm.MustGetLogger("storage")
	assert.Same(t, a, b)
	assert.Equal(t, []string{"storage"}, lm.ListComponents())

	require.NoError(t, lm.SetLogLevel("storage", ERROR, ERROR))
	assert.False(t, a.Enabled(WARN))
	assert.Error(t, lm.SetLogLevel("missing", INFO, INFO))
	assert.NoError(t, lm.CloseAll())
	assert.Empty(t, lm.ListComponents())
}

func TestHexDump(t *testing.T) {
	assert.Equal(t, "No data", HexDump(nil))
	assert.Contains(t, HexDump([]byte{0xDE, 0xAD, 0xBE, 0xEF}), "de ad be ef")
}
