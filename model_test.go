package dvs

import (
	"bytes"
	"testing"

	"github.com/gorgonia/dvs/internal/synth"
	"github.com/gorgonia/dvs/loss"
	"github.com/gorgonia/dvs/quaternion"
	seq "github.com/gorgonia/dvs/seqnet"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

type recorder struct {
	states  []MetaState
	steps   []int
	flushed int
}

func (r *recorder) Encode(ms MetaState) error {
	r.states = append(r.states, ms)
	r.steps = append(r.steps, ms.Step())
	return nil
}

func (r *recorder) Flush() error { r.flushed++; return nil }

func testConf() Config {
	return Config{
		Name:   "walk",
		NNConf: seq.DefaultConf(),
		Loss:   loss.Weights{Smooth: 1, Angle: 1, Follow: 1, C2Smooth: 1},
		Train: TrainConfig{
			Optimizer: "adam",
			LearnRate: 0.01,
			BatchSize: 2,
			Epochs:    2,
			Follow:    true,
		},
	}
}

func walk(t *testing.T, conf Config, seed int64) *synth.Walk {
	w, err := synth.New(conf.NNConf, synth.Config{Batch: 2, Length: 5, Drift: 0.05, Noise: 0.01, Seed: seed})
	require.NoError(t, err)
	return w
}

func newModel(t *testing.T, conf Config) *Model {
	m, err := New(conf)
	require.NoError(t, err)
	logger, _ := test.NewNullLogger()
	m.Logger = logger
	return m
}

func assertUnit(t *testing.T, qs [][]float32) {
	for i, q := range qs {
		assert.InDelta(t, 1, quaternion.Norm(q), 1e-5, "row %d: %v", i, q)
	}
}

func TestModelFit(t *testing.T) {
	conf := testConf()
	rec := new(recorder)
	conf.OutputEncoder = rec
	m := newModel(t, conf)
	defer m.Close()

	data := []Sequence{walk(t, conf, 1), walk(t, conf, 2)}
	require.NoError(t, m.Fit(data))

	assert.Equal(t, []int{0, 1}, m.Epochs)
	assert.Equal(t, []int{10, 10}, m.Steps)
	for i := range m.Mean {
		assert.True(t, m.Min[i] <= m.Mean[i] && m.Mean[i] <= m.Max[i], "epoch %d", i)
	}
	assert.Equal(t, 2, m.Epoch())

	require.Len(t, rec.states, 20)
	assert.Equal(t, 1, rec.flushed)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, rec.steps[:10], "steps count through an epoch")
	assert.Equal(t, "walk", rec.states[0].Name())

	qs := m.Quaternions()
	require.Len(t, qs, 2)
	assertUnit(t, qs)

	// resuming continues the epoch count
	require.NoError(t, m.Fit(data[:1]))
	assert.Equal(t, []int{0, 1, 2, 3}, m.Epochs)
	assert.Equal(t, 4, m.Epoch())
}

func TestModelFitBatchNorm(t *testing.T) {
	conf := testConf()
	conf.Train.Epochs = 1
	conf.NNConf.FC = seq.FCParams{
		Layers:     []seq.FCSpec{{Out: 8, Bias: true}, {Out: quaternion.Width, Bias: true}},
		Activation: seq.Tanh,
		BatchNorm:  true,
	}
	m := newModel(t, conf)
	defer m.Close()

	w := walk(t, conf, 5)
	require.NoError(t, m.Fit([]Sequence{w}))
	assert.Equal(t, []int{5}, m.Steps)

	outs, err := m.Infer(w.Inputs())
	require.NoError(t, err)
	require.Len(t, outs, w.Len())

	var buf bytes.Buffer
	require.NoError(t, m.Save(&buf))
	cp, err := ReadCheckpoint(&buf)
	require.NoError(t, err)
	for _, p := range cp.Params {
		if p.Dims() == 4 {
			assert.Equal(t, 1, p.Shape()[0], "batch norm parameters do not depend on the batch size")
		}
	}
}

func TestModelInfer(t *testing.T) {
	conf := testConf()
	m := newModel(t, conf)
	defer m.Close()

	w := walk(t, conf, 3)
	outs, err := m.Infer(w.Inputs())
	require.NoError(t, err)
	require.Len(t, outs, w.Len())
	for _, out := range outs {
		assert.Equal(t, tensor.Shape{2, quaternion.Width}, out.Shape())
		rows, err := quaternion.Rows(out)
		require.NoError(t, err)
		assertUnit(t, rows)
	}

	// every call starts from a fresh recurrent state
	again, err := m.Infer(w.Inputs())
	require.NoError(t, err)
	for i := range outs {
		assert.InDeltaSlice(t, outs[i].Data(), again[i].Data(), 1e-6, "step %d", i)
	}

	_, err = m.Infer([]*tensor.Dense{tensor.New(tensor.WithShape(4), tensor.WithBacking(make([]float32, 4)))})
	assert.Error(t, err)
	outs, err = m.Infer(nil)
	assert.NoError(t, err)
	assert.Empty(t, outs)
}

func TestModelErrors(t *testing.T) {
	conf := testConf()
	conf.Train.Optimizer = "lbfgs"
	_, err := New(conf)
	require.Error(t, err)
	assert.True(t, seq.IsConfigError(err))

	conf = testConf()
	conf.Loss = loss.Weights{}
	m := newModel(t, conf)
	defer m.Close()
	err = m.Fit([]Sequence{walk(t, conf, 1)})
	require.Error(t, err)
	assert.True(t, seq.IsConfigError(err), "no loss term enabled: %v", err)

	conf = testConf()
	conf.NNConf.FwdOnly = true
	fwd := newModel(t, conf)
	defer fwd.Close()
	assert.Error(t, fwd.Fit([]Sequence{walk(t, conf, 1)}))
	outs, err := fwd.Infer(walk(t, conf, 1).Inputs())
	require.NoError(t, err)
	assert.Len(t, outs, 5)
}

func TestCheckpoint(t *testing.T) {
	conf := testConf()
	conf.Train.Epochs = 1
	m := newModel(t, conf)
	defer m.Close()
	w := walk(t, conf, 4)
	require.NoError(t, m.Fit([]Sequence{w}))

	var buf bytes.Buffer
	require.NoError(t, m.Save(&buf))
	cp, err := ReadCheckpoint(&buf)
	require.NoError(t, err)
	assert.Equal(t, 1, cp.Epoch)
	require.NotNil(t, cp.Optim)
	assert.Equal(t, OptimState{Optimizer: "adam", LearnRate: 0.01, BatchSize: 2}, *cp.Optim)
	assert.Equal(t, conf.NNConf.Recurrent, cp.RNN)
	assert.Equal(t, conf.NNConf.FC, cp.FC)

	// the stage tables come from the checkpoint
	other := testConf()
	other.NNConf.Recurrent = []seq.RecurrentSpec{{Hidden: 3, Bias: true}}
	restored, err := FromCheckpoint(cp, other)
	require.NoError(t, err)
	defer restored.Close()
	assert.Equal(t, 1, restored.Epoch())

	want, err := m.Infer(w.Inputs())
	require.NoError(t, err)
	got, err := restored.Infer(w.Inputs())
	require.NoError(t, err)
	for i := range want {
		assert.InDeltaSlice(t, want[i].Data(), got[i].Data(), 1e-6, "step %d", i)
	}

	cp.Params = cp.Params[1:]
	_, err = FromCheckpoint(cp, conf)
	assert.Error(t, err)
}
