package storage

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epsimlab/epsim/internal/trace"
)

func sampleLog(t *testing.T) *trace.Log {
	t.Helper()
	log, err := trace.New([]string{"membrane.V", "ina.m"})
	require.NoError(t, err)
	require.NoError(t, log.Append(0, []float64{-85.0, 0.0125}))
	require.NoError(t, log.Append(0.5, []float64{-84.123456789, 0.013}))
	require.NoError(t, log.Append(1, []float64{-20, 0.9}))
	return log
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Init())

	log := sampleLog(t)
	id, err := s.Save("hh", 1000, 1e-4, 1e-6, log)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	meta, err := s.Load(id)
	require.NoError(t, err)
	assert.Equal(t, "hh", meta.Model)
	assert.Equal(t, 3, meta.Samples)
	assert.Equal(t, []string{"membrane.V", "ina.m"}, meta.Columns)

	got, err := s.LoadTrace(id)
	require.NoError(t, err)
	assert.Equal(t, log.Times(), got.Times())
	want, _ := log.Column("membrane.V")
	col, ok := got.Column("membrane.V")
	require.True(t, ok)
	assert.Equal(t, want, col, "round trip must be lossless")
}

func TestList(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Init())

	runs, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, runs)

	log := sampleLog(t)
	_, err = s.Save("hh", 100, 1e-4, 1e-6, log)
	require.NoError(t, err)
	_, err = s.Save("fhn", 200, 1e-4, 1e-6, log)
	require.NoError(t, err)

	runs, err = s.List()
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestListMissingBaseDir(t *testing.T) {
	s := New("/nonexistent/epsim-runs")
	runs, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestLoadUnknownRun(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.Load("missing")
	assert.Error(t, err)
	_, err = s.LoadTrace("missing")
	assert.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleLog(t)))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "time,membrane.V,ina.m", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "0,-85,"))
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, "hh", 1000, sampleLog(t)))

	var data ExportData
	require.NoError(t, json.Unmarshal(buf.Bytes(), &data))
	assert.Equal(t, "hh", data.Model)
	assert.Equal(t, 3, data.Samples)
	assert.Equal(t, []float64{0, 0.5, 1}, data.Times)
	assert.Contains(t, data.Columns, "ina.m")
}
