package dvs

import (
	"encoding/gob"
	"io"
	"os"

	seq "github.com/gorgonia/dvs/seqnet"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"
)

// Checkpoint is the persisted state of a Model. The stage tables are kept so
// that shape inference can be rebuilt before the parameters are loaded.
type Checkpoint struct {
	CNN    seq.CNNParams
	RNN    []seq.RecurrentSpec
	FC     seq.FCParams
	Params []*tensor.Dense
	Optim  *OptimState // nil for forward only models
	Epoch  int
}

// OptimState describes the solver a Model was trained with.
type OptimState struct {
	Optimizer string
	LearnRate float64
	BatchSize int
}

// Checkpoint returns a snapshot of m.
func (m *Model) Checkpoint() (Checkpoint, error) {
	params, err := m.net.Params()
	if err != nil {
		return Checkpoint{}, err
	}
	retVal := Checkpoint{
		CNN:    m.conf.NNConf.CNN,
		RNN:    m.conf.NNConf.Recurrent,
		FC:     m.conf.NNConf.FC,
		Params: params,
		Epoch:  m.epoch,
	}
	if m.solver != nil {
		retVal.Optim = &OptimState{
			Optimizer: m.conf.Train.Optimizer,
			LearnRate: m.conf.Train.LearnRate,
			BatchSize: m.conf.Train.BatchSize,
		}
	}
	return retVal, nil
}

// Save writes a checkpoint of m.
func (m *Model) Save(w io.Writer) error {
	cp, err := m.Checkpoint()
	if err != nil {
		return err
	}
	return errors.WithStack(gob.NewEncoder(w).Encode(cp))
}

// SaveCheckpoint writes a checkpoint of m into filename.
func (m *Model) SaveCheckpoint(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	if err = m.Save(f); err != nil {
		return err
	}
	m.Logger.WithFields(logrus.Fields{"file": filename, "epoch": m.epoch}).Info("saved checkpoint")
	return nil
}

// ReadCheckpoint reads a checkpoint written by Save.
func ReadCheckpoint(r io.Reader) (cp Checkpoint, err error) {
	err = errors.WithStack(gob.NewDecoder(r).Decode(&cp))
	return
}

// LoadCheckpoint reads a checkpoint written by SaveCheckpoint.
func LoadCheckpoint(filename string) (Checkpoint, error) {
	f, err := os.Open(filename)
	if err != nil {
		return Checkpoint{}, errors.WithStack(err)
	}
	defer f.Close()
	return ReadCheckpoint(f)
}

// FromCheckpoint creates a Model from cp. The stage tables, the solver settings and the
// epoch come from cp; everything else comes from conf.
func FromCheckpoint(cp Checkpoint, conf Config) (*Model, error) {
	conf.NNConf.CNN = cp.CNN
	conf.NNConf.Recurrent = cp.RNN
	conf.NNConf.FC = cp.FC
	if cp.Optim != nil {
		conf.Train.Optimizer = cp.Optim.Optimizer
		conf.Train.LearnRate = cp.Optim.LearnRate
		conf.Train.BatchSize = cp.Optim.BatchSize
	}
	m, err := New(conf)
	if err != nil {
		return nil, err
	}
	if err = m.net.SetParams(cp.Params); err != nil {
		m.Close()
		return nil, errors.Wrap(err, "loading parameters")
	}
	m.epoch = cp.Epoch
	return m, nil
}
