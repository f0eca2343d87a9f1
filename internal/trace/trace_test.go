package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogAppend(t *testing.T) {
	l, err := New([]string{"time.v", "ina.m"})
	require.NoError(t, err)

	require.NoError(t, l.Append(0, []float64{-85, 0.01}))
	require.NoError(t, l.Append(1, []float64{-84, 0.02}))
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, []float64{0, 1}, l.Times())

	col, ok := l.Column("ina.m")
	require.True(t, ok)
	assert.Equal(t, []float64{0.01, 0.02}, col)

	_, ok = l.Column("missing")
	assert.False(t, ok)
}

func TestLogRejectsBadAppend(t *testing.T) {
	l, err := New([]string{"v"})
	require.NoError(t, err)

	assert.Error(t, l.Append(0, []float64{1, 2}), "wrong arity")
	require.NoError(t, l.Append(0, []float64{1}))
	assert.Error(t, l.Append(0, []float64{2}), "time must advance")
	assert.Error(t, l.Append(-1, []float64{2}))
}

func TestLogRejectsBadNames(t *testing.T) {
	_, err := New([]string{"v", "v"})
	assert.Error(t, err)
	_, err = New([]string{""})
	assert.Error(t, err)
}

func TestPeriodicSampler(t *testing.T) {
	s, err := NewPeriodicSampler(0, 10, 2.5)
	require.NoError(t, err)

	var got []float64
	cur := -1.0
	for {
		next, ok := s.Next(cur)
		if !ok {
			break
		}
		got = append(got, next)
		cur = next
	}
	// Half-open window: 10 itself is not logged.
	assert.Equal(t, []float64{0, 2.5, 5, 7.5}, got)
}

func TestPeriodicSamplerMidWindow(t *testing.T) {
	s, err := NewPeriodicSampler(0, 100, 10)
	require.NoError(t, err)

	next, ok := s.Next(35)
	require.True(t, ok)
	assert.Equal(t, 40.0, next)

	next, ok = s.Next(40)
	require.True(t, ok)
	assert.Equal(t, 50.0, next, "sample at t itself is excluded")
}

func TestPeriodicSamplerValidation(t *testing.T) {
	_, err := NewPeriodicSampler(0, 10, 0)
	assert.Error(t, err)
	_, err = NewPeriodicSampler(10, 0, 1)
	assert.Error(t, err)
}

func TestPointSampler(t *testing.T) {
	s, err := NewPointSampler([]float64{1, 4, 9})
	require.NoError(t, err)

	next, ok := s.Next(0)
	require.True(t, ok)
	assert.Equal(t, 1.0, next)

	next, ok = s.Next(4)
	require.True(t, ok)
	assert.Equal(t, 9.0, next)

	_, ok = s.Next(9)
	assert.False(t, ok)
}

func TestPointSamplerValidation(t *testing.T) {
	_, err := NewPointSampler([]float64{1, 1})
	assert.Error(t, err)
	_, err = NewPointSampler([]float64{2, 1})
	assert.Error(t, err)
}
