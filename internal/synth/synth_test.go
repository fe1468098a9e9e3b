package synth

import (
	"testing"

	"github.com/gorgonia/dvs/quaternion"
	seq "github.com/gorgonia/dvs/seqnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func TestNew(t *testing.T) {
	nn := seq.DefaultConf()
	w, err := New(nn, Config{Batch: 3, Length: 6, Drift: 0.1, Noise: 0.01, ProjectionWidth: 5, Seed: 7})
	require.NoError(t, err)
	assert.Equal(t, 6, w.Len())
	assert.Len(t, w.Inputs(), 6)

	for ts := 0; ts < w.Len(); ts++ {
		b, err := w.At(ts)
		require.NoError(t, err)
		assert.Equal(t, tensor.Shape{3, nn.ChannelSize}, b.Input.Shape())
		assert.Equal(t, tensor.Shape{3, nn.RealWidth()}, b.Real.Shape())
		assert.Equal(t, tensor.Shape{3, 1}, b.PositionStep.Shape())
		assert.Equal(t, tensor.Shape{3, 5}, b.ProjectionsT.Shape())
		assert.Nil(t, b.Virtual)

		// the middle sample of the real window is the ground truth
		reals := b.Real.Data().([]float32)
		mid := nn.NumberReal * quaternion.Width
		for r, q := range w.Truth(ts) {
			assert.InDelta(t, 1, quaternion.Norm(q), 1e-5)
			row := reals[r*nn.RealWidth() : (r+1)*nn.RealWidth()]
			assert.Equal(t, q, row[mid:mid+quaternion.Width], "t %d row %d", ts, r)
		}
		for _, s := range b.PositionStep.Data().([]float32) {
			assert.True(t, s >= 1, "position steps are at least 1, got %v", s)
		}
	}

	_, err = w.At(6)
	assert.Error(t, err)
}

func TestNewDeterministic(t *testing.T) {
	conf := Config{Batch: 2, Length: 3, Drift: 0.1, Noise: 0.01, Seed: 42}
	a, err := New(seq.DefaultConf(), conf)
	require.NoError(t, err)
	b, err := New(seq.DefaultConf(), conf)
	require.NoError(t, err)
	for ts := 0; ts < 3; ts++ {
		assert.Equal(t, a.Truth(ts), b.Truth(ts))
	}
	ba, _ := a.At(0)
	assert.Nil(t, ba.ProjectionsT)
}

func TestNewErrors(t *testing.T) {
	_, err := New(seq.DefaultConf(), Config{Batch: 0, Length: 3})
	assert.Error(t, err)

	bad := seq.DefaultConf()
	bad.Recurrent = nil
	_, err = New(bad, Config{Batch: 1, Length: 1})
	assert.Error(t, err)
}
