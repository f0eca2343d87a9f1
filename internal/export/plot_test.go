package export

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epsimlab/epsim/internal/trace"
)

func waveLog(t *testing.T) *trace.Log {
	t.Helper()
	log, err := trace.New([]string{"membrane.V"})
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		tm := float64(i) * 0.1
		require.NoError(t, log.Append(tm, []float64{-60 + 40*math.Sin(tm)}))
	}
	return log
}

func TestRenderPlotPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.png")
	require.NoError(t, RenderPlot(waveLog(t), nil, "membrane potential", path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestRenderPlotSVG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.svg")
	require.NoError(t, RenderPlot(waveLog(t), []string{"membrane.V"}, "", path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<svg")
}

func TestRenderPlotUnknownVariable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.png")
	assert.Error(t, RenderPlot(waveLog(t), []string{"missing"}, "", path))
}

func TestRenderPlotEmptyTrace(t *testing.T) {
	log, err := trace.New([]string{"v"})
	require.NoError(t, err)
	assert.Error(t, RenderPlot(log, nil, "", filepath.Join(t.TempDir(), "v.png")))
}

func TestAsciiPlot(t *testing.T) {
	out, err := AsciiPlot(waveLog(t), "membrane.V", 60, 10)
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "membrane.V"))

	_, err = AsciiPlot(waveLog(t), "missing", 60, 10)
	assert.Error(t, err)
}
