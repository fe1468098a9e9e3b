package dvs

import (
	"strings"

	"github.com/gorgonia/dvs/loss"
	"github.com/gorgonia/dvs/quaternion"
	seq "github.com/gorgonia/dvs/seqnet"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// DefaultLearnRate is used when a TrainConfig does not set one.
const DefaultLearnRate = 0.001

// Model is the top level structure and the entry point of the API.
// It is a wrapper around the sequence network, the loss aggregator and the solver that trains it.
type Model struct {
	Statistics
	Logger logrus.FieldLogger

	conf    Config
	net     *seq.Net
	agg     *loss.Aggregator
	trainer *seq.Trainer
	solver  G.Solver

	// io
	outEnc OutputEncoder

	// state
	epoch, step int
	cost        float64
	last        [][]float32
	history     [][]float32 // previous outputs per sequence, 4*NumberVirtual wide, the latest last
}

// New creates a Model with freshly initialized parameters.
func New(conf Config) (*Model, error) {
	net, err := seq.New(conf.NNConf)
	if err != nil {
		return nil, err
	}
	if err = net.Init(); err != nil {
		return nil, err
	}

	terms := loss.DefaultTerms()
	if conf.Terms != nil {
		terms = *conf.Terms
	}
	retVal := &Model{
		Statistics: makeStatistics(),
		Logger:     logrus.StandardLogger(),
		conf:       conf,
		net:        net,
		agg:        loss.New(conf.Loss, terms),
		outEnc:     conf.OutputEncoder,
	}
	if conf.NNConf.FwdOnly {
		return retVal, nil
	}
	if retVal.solver, err = newSolver(conf.Train); err != nil {
		return nil, err
	}
	if retVal.trainer, err = seq.NewTrainer(net, retVal.agg, retVal.solver, conf.ProjectionWidth); err != nil {
		return nil, err
	}
	return retVal, nil
}

func newSolver(conf TrainConfig) (G.Solver, error) {
	lr := conf.LearnRate
	if lr == 0 {
		lr = DefaultLearnRate
	}
	if lr < 0 {
		return nil, seq.NewConfigError("train.learn_rate", "must be positive")
	}
	opts := []G.SolverOpt{G.WithLearnRate(lr)}
	if conf.BatchSize > 0 {
		opts = append(opts, G.WithBatchSize(float64(conf.BatchSize)))
	}
	switch strings.ToLower(conf.Optimizer) {
	case "", "adam":
		return G.NewAdamSolver(opts...), nil
	case "sgd", "vanilla":
		return G.NewVanillaSolver(opts...), nil
	case "rmsprop":
		return G.NewRMSPropSolver(opts...), nil
	}
	return nil, seq.NewConfigError("train.optimizer", "unknown optimizer "+conf.Optimizer)
}

// Net returns the underlying network.
func (m *Model) Net() *seq.Net { return m.net }

// Loss returns the loss aggregator.
func (m *Model) Loss() *loss.Aggregator { return m.agg }

// Fit trains for conf.Train.Epochs epochs. Every epoch steps through each sequence in data,
// starting each with fresh recurrent state.
func (m *Model) Fit(data []Sequence) error {
	if m.trainer == nil {
		return errors.New("a forward only model cannot be trained")
	}
	if m.agg.Enabled(m.conf.Train.Follow, m.conf.Train.Undefine) == 0 {
		return seq.NewConfigError("loss", "no loss term is enabled")
	}
	m.net.SetTraining()
	end := m.epoch + m.conf.Train.Epochs
	for ; m.epoch < end; m.epoch++ {
		m.step = 0
		var costs []float64
		for i, s := range data {
			c, err := m.fitSequence(s)
			if err != nil {
				return errors.Wrapf(err, "epoch %d, sequence %d", m.epoch, i)
			}
			costs = append(costs, c...)
		}
		m.update(m.epoch, costs)
		last := len(m.Mean) - 1
		if last >= 0 {
			m.Logger.WithFields(logrus.Fields{
				"epoch": m.epoch,
				"steps": len(costs),
				"mean":  m.Mean[last],
				"min":   m.Min[last],
				"max":   m.Max[last],
			}).Info("epoch")
		}
	}
	if m.outEnc != nil {
		return m.outEnc.Flush()
	}
	return nil
}

func (m *Model) fitSequence(s Sequence) (costs []float64, err error) {
	for t := 0; t < s.Len(); t++ {
		var b seq.Batch
		if b, err = s.At(t); err != nil {
			return nil, err
		}
		if b.Input == nil {
			return nil, errors.Errorf("step %d has no input", t)
		}
		if t == 0 {
			batch := b.Input.Shape()[0]
			if err = m.net.InitHidden(batch); err != nil {
				return nil, err
			}
			m.resetHistory(batch)
		}
		if b.Virtual == nil && m.conf.NNConf.NumberVirtual > 0 {
			b.Virtual = m.virtual()
		}

		var cost float64
		if cost, err = m.trainer.Step(b, m.conf.Train.Follow, m.conf.Train.Undefine); err != nil {
			return nil, errors.Wrapf(err, "step %d", t)
		}
		var out *tensor.Dense
		if out, err = m.net.Output(); err != nil {
			return nil, err
		}
		if err = m.record(out, cost); err != nil {
			return nil, err
		}
		costs = append(costs, cost)
		m.Logger.WithFields(logrus.Fields{"epoch": m.epoch, "step": m.step, "cost": cost}).Debug("step")

		if m.outEnc != nil {
			if err = m.outEnc.Encode(m); err != nil {
				return nil, err
			}
		}
		m.step++
	}
	return costs, nil
}

// record keeps the output of the last step and pushes it into the virtual history.
func (m *Model) record(out *tensor.Dense, cost float64) error {
	rows, err := quaternion.Rows(out)
	if err != nil {
		return err
	}
	m.cost = cost
	m.last = rows
	for i, q := range rows {
		if i >= len(m.history) || len(m.history[i]) == 0 {
			continue
		}
		h := m.history[i]
		copy(h, h[quaternion.Width:])
		copy(h[len(h)-quaternion.Width:], q)
	}
	return nil
}

// resetHistory fills the virtual history with the identity rotation.
func (m *Model) resetHistory(batch int) {
	width := m.conf.NNConf.VirtualWidth()
	m.history = make([][]float32, batch)
	for i := range m.history {
		m.history[i] = make([]float32, width)
		for j := 0; j < width; j += quaternion.Width {
			m.history[i][j] = 1
		}
	}
}

func (m *Model) virtual() *tensor.Dense {
	width := m.conf.NNConf.VirtualWidth()
	backing := make([]float32, 0, len(m.history)*width)
	for _, h := range m.history {
		backing = append(backing, h...)
	}
	return tensor.New(tensor.WithShape(len(m.history), width), tensor.WithBacking(backing))
}

// Infer runs a sequence of (batch, features) inputs from a fresh recurrent state
// and returns the (batch, 4) orientations of every step.
func (m *Model) Infer(xs []*tensor.Dense) ([]*tensor.Dense, error) {
	if len(xs) == 0 {
		return nil, nil
	}
	if xs[0] == nil || xs[0].Dims() < 2 {
		return nil, errors.New("expected (batch, features) inputs")
	}
	m.net.SetTesting()
	defer m.net.SetTraining()
	if err := m.net.InitHidden(xs[0].Shape()[0]); err != nil {
		return nil, err
	}
	retVal := make([]*tensor.Dense, 0, len(xs))
	for t, x := range xs {
		out, err := m.net.Forward(x)
		if err != nil {
			return nil, errors.Wrapf(err, "step %d", t)
		}
		retVal = append(retVal, out)
	}
	return retVal, nil
}

// Close releases the resources held by the network.
func (m *Model) Close() error { return m.net.Close() }

// Name implements MetaState.
func (m *Model) Name() string { return m.conf.Name }

// Epoch implements MetaState.
func (m *Model) Epoch() int { return m.epoch }

// Step implements MetaState.
func (m *Model) Step() int { return m.step }

// Cost implements MetaState.
func (m *Model) Cost() float64 { return m.cost }

// Quaternions implements MetaState.
func (m *Model) Quaternions() [][]float32 { return m.last }
