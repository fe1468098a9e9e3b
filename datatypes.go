package dvs

import (
	"io"

	"github.com/gorgonia/dvs/loss"
	seq "github.com/gorgonia/dvs/seqnet"
	"gorgonia.org/tensor"
)

// Config configures a Model.
type Config struct {
	Name   string
	NNConf seq.Config
	Loss   loss.Weights
	Train  TrainConfig

	ProjectionWidth int // width of the camera projection inputs, 0 if there are none

	// extensions
	Terms         *loss.Terms // nil means loss.DefaultTerms()
	OutputEncoder OutputEncoder
}

// TrainConfig holds the settings of the training loop.
type TrainConfig struct {
	Optimizer string // "adam" or "sgd"
	LearnRate float64
	BatchSize int
	Epochs    int

	// Follow and Undefine open the gates of the follow and undefine loss terms.
	Follow, Undefine bool
}

// OutputEncoder encodes the training state as whatever.
//
// An example OutputEncoder is the GIF encoder in encoding/gif. Another example would be a logger.
type OutputEncoder interface {
	Encode(ms MetaState) error
	Flush() error
}

// MetaState is the state of a training run, as seen by an OutputEncoder.
type MetaState interface {
	Name() string
	Epoch() int
	Step() int
	Cost() float64

	// Quaternions returns the orientations produced by the last step, one per sequence in the batch.
	Quaternions() [][]float32
}

// Sequence is a batch of sequences, stepped through in time.
type Sequence interface {
	Len() int
	At(t int) (seq.Batch, error)
}

// Inferer is anything that can run a sequence of (batch, features) inputs to (batch, 4) orientations.
type Inferer interface {
	Infer(xs []*tensor.Dense) ([]*tensor.Dense, error)
	io.Closer
}
