package seq

import (
	"math"
	"testing"

	"github.com/gorgonia/dvs/loss"
	"github.com/gorgonia/dvs/quaternion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// quats returns a (batch, 4*k) matrix of unit quaternions.
func quats(batch, k int) *tensor.Dense {
	t := randInput(batch, k*quaternion.Width)
	data := t.Data().([]float32)
	for i := 0; i < len(data); i += quaternion.Width {
		data[i] += 1 // keep every sample away from zero
		q, _ := quaternion.Normalize(data[i : i+quaternion.Width])
		copy(data[i:i+quaternion.Width], q)
	}
	return t
}

func ones(batch int) *tensor.Dense {
	return tensor.New(tensor.WithShape(batch, 1), tensor.WithBacking([]float32{1, 1, 1, 1}[:batch]))
}

func trainingBatch(conf Config, batch int) Batch {
	return Batch{
		Input:        randInput(batch, 8),
		Virtual:      quats(batch, conf.NumberVirtual),
		Real:         quats(batch, 2*conf.NumberReal+1),
		PositionStep: ones(batch),
	}
}

func TestTrainerStep(t *testing.T) {
	conf := DefaultConf()
	n := newNet(t, conf)
	defer n.Close()

	agg := loss.Default(loss.Weights{Smooth: 1, Angle: 1, Follow: 1, C2Smooth: 1})
	tr, err := NewTrainer(n, agg, G.NewAdamSolver(G.WithLearnRate(0.01)), 0)
	require.NoError(t, err)

	b := trainingBatch(conf, 4)
	before := params(t, n)

	var first, last float64
	for i := 0; i < 60; i++ {
		require.NoError(t, tr.InitHidden(4))
		cost, err := tr.Step(b, true, false)
		require.NoError(t, err, "step %d", i)
		require.False(t, math.IsNaN(cost) || math.IsInf(cost, 0), "step %d: %v", i, cost)
		if i == 0 {
			first = cost
		}
		last = cost
	}
	assert.True(t, first > 0)
	assert.True(t, last < first, "expected the cost to go down: %v -> %v", first, last)

	after := params(t, n)
	assert.NotEqual(t, before[0].Data(), after[0].Data())

	// the trained parameters are used for inference
	require.NoError(t, n.InitHidden(4))
	out, err := n.Forward(b.Input)
	require.NoError(t, err)
	assertUnit(t, out, 4)
}

func TestTrainerGates(t *testing.T) {
	conf := DefaultConf()
	n := newNet(t, conf)
	defer n.Close()

	tr, err := NewTrainer(n, loss.Default(loss.Weights{Follow: 1}), G.NewVanillaSolver(G.WithLearnRate(0.1)), 0)
	require.NoError(t, err)
	require.NoError(t, tr.InitHidden(4))

	b := trainingBatch(conf, 4)
	_, err = tr.Step(b, false, false)
	assert.Error(t, err, "nothing is enabled without the follow gate")

	cost, err := tr.Step(b, true, false)
	require.NoError(t, err)
	assert.True(t, cost > 0)
}

func TestTrainerErrors(t *testing.T) {
	conf := DefaultConf()
	conf.FwdOnly = true
	n := newNet(t, conf)
	defer n.Close()
	solver := G.NewVanillaSolver()
	agg := loss.Default(loss.Weights{Smooth: 1})

	_, err := NewTrainer(n, agg, solver, 0)
	assert.True(t, IsConfigError(err))

	n.FwdOnly = false
	_, err = NewTrainer(n, nil, solver, 0)
	assert.Error(t, err)
	_, err = NewTrainer(n, agg, nil, 0)
	assert.Error(t, err)

	tr, err := NewTrainer(n, agg, solver, 0)
	require.NoError(t, err)
	_, err = tr.Step(trainingBatch(conf, 2), false, false)
	assert.Error(t, err, "Step before InitHidden")

	require.NoError(t, tr.InitHidden(2))
	b := trainingBatch(conf, 2)
	b.Virtual = quats(2, 1)
	_, err = tr.Step(b, false, false)
	assert.Error(t, err, "virtual samples of the wrong width")
}

func TestTrainerBatchNorm(t *testing.T) {
	conf := convConf()
	conf.CNN.BatchNorm = true
	n := newNet(t, conf)
	defer n.Close()

	agg := loss.Default(loss.Weights{Angle: 1, Follow: 1})
	tr, err := NewTrainer(n, agg, G.NewAdamSolver(G.WithLearnRate(0.01)), 0)
	require.NoError(t, err)

	for _, batch := range []int{3, 2} {
		require.NoError(t, tr.InitHidden(batch))
		b := Batch{
			Input: randInput(batch, 20),
			Real:  quats(batch, 2*conf.NumberReal+1),
		}
		cost, err := tr.Step(b, true, false)
		require.NoError(t, err, "batch %d", batch)
		assert.False(t, math.IsNaN(cost), "batch %d", batch)
	}
}
