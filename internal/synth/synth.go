// Package synth generates synthetic orientation sequences: random walks on the
// unit quaternions, observed through noisy readings.
package synth

import (
	"github.com/gorgonia/dvs/quaternion"
	seq "github.com/gorgonia/dvs/seqnet"
	rng "github.com/leesper/go_rng"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Config describes the walks to generate.
type Config struct {
	Batch, Length   int
	Drift           float64 // standard deviation of each component's step
	Noise           float64 // standard deviation of the reading noise
	ProjectionWidth int
	Seed            int64
}

// Walk is a batch of generated sequences. It implements dvs.Sequence.
type Walk struct {
	steps []seq.Batch
	truth [][][]float32 // [t][row] orientation
}

// New generates a Walk for a network configured by nn.
func New(nn seq.Config, conf Config) (*Walk, error) {
	if conf.Batch < 1 || conf.Length < 1 {
		return nil, errors.Errorf("batch and length must be positive, got %d and %d", conf.Batch, conf.Length)
	}
	plan, err := nn.Plan()
	if err != nil {
		return nil, err
	}
	g := rng.NewGaussianGenerator(conf.Seed)
	pad := nn.NumberReal
	total := conf.Length + 2*pad

	// paths[row][t] for t in [0, total)
	paths := make([][][]float32, conf.Batch)
	for r := range paths {
		paths[r] = make([][]float32, total)
		q := []float32{1, 0, 0, 0}
		for t := range paths[r] {
			next := make([]float32, quaternion.Width)
			for i := range next {
				next[i] = q[i] + float32(g.Gaussian(0, conf.Drift))
			}
			if q, err = quaternion.Normalize(next); err != nil {
				return nil, err
			}
			paths[r][t] = q
		}
	}

	w := &Walk{
		steps: make([]seq.Batch, conf.Length),
		truth: make([][][]float32, conf.Length),
	}
	features := plan.InputWidth()
	realWidth := nn.RealWidth()
	for t := 0; t < conf.Length; t++ {
		input := make([]float32, 0, conf.Batch*features)
		reals := make([]float32, 0, conf.Batch*realWidth)
		steps := make([]float32, 0, conf.Batch)
		w.truth[t] = make([][]float32, conf.Batch)
		for r := 0; r < conf.Batch; r++ {
			window := make([]float32, 0, realWidth)
			for k := t; k <= t+2*pad; k++ {
				window = append(window, paths[r][k]...)
			}
			reals = append(reals, window...)
			for i := 0; i < features; i++ {
				input = append(input, window[i%len(window)]+float32(g.Gaussian(0, conf.Noise)))
			}
			cur := paths[r][t+pad]
			w.truth[t][r] = cur
			step := float32(1)
			if t+pad > 0 {
				angle, err := quaternion.Angle(paths[r][t+pad-1], cur)
				if err != nil {
					return nil, err
				}
				step += angle
			}
			steps = append(steps, step)
		}
		b := seq.Batch{
			Input:        tensor.New(tensor.WithShape(conf.Batch, features), tensor.WithBacking(input)),
			Real:         tensor.New(tensor.WithShape(conf.Batch, realWidth), tensor.WithBacking(reals)),
			PositionStep: tensor.New(tensor.WithShape(conf.Batch, 1), tensor.WithBacking(steps)),
		}
		if conf.ProjectionWidth > 0 {
			b.ProjectionsT = noise(g, conf.Batch, conf.ProjectionWidth)
			b.ProjectionsT1 = noise(g, conf.Batch, conf.ProjectionWidth)
		}
		w.steps[t] = b
	}
	return w, nil
}

func noise(g *rng.GaussianGenerator, rows, cols int) *tensor.Dense {
	backing := make([]float32, rows*cols)
	for i := range backing {
		backing[i] = float32(g.StdGaussian())
	}
	return tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(backing))
}

// Len is the number of time steps.
func (w *Walk) Len() int { return len(w.steps) }

// At returns the batch of time step t. Virtual samples are left for the caller to fill.
func (w *Walk) At(t int) (seq.Batch, error) {
	if t < 0 || t >= len(w.steps) {
		return seq.Batch{}, errors.Errorf("step %d out of range [0, %d)", t, len(w.steps))
	}
	return w.steps[t], nil
}

// Inputs returns the input of every time step.
func (w *Walk) Inputs() []*tensor.Dense {
	retVal := make([]*tensor.Dense, len(w.steps))
	for i, b := range w.steps {
		retVal[i] = b.Input
	}
	return retVal
}

// Truth returns the orientation of every sequence at time step t.
func (w *Walk) Truth(t int) [][]float32 { return w.truth[t] }
