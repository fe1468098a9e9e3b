package loss

import (
	"math"

	"github.com/gorgonia/dvs/quaternion"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/gorgonia/ops/nn"
	"gorgonia.org/tensor"
)

// DefaultTerms returns the built in terms. Undefine is left nil: it depends on
// the camera projection model and has to be supplied by the caller.
func DefaultTerms() Terms {
	return Terms{
		Smooth:   StepSmooth,
		Angle:    DeadZoneAngle,
		Follow:   MSE,
		C2Smooth: SecondDifference,
	}
}

// MSE is the mean squared error between out and target.
func MSE(out, target *G.Node) (retVal *G.Node, err error) {
	var diff, sq *G.Node
	if diff, err = G.Sub(out, target); err != nil {
		return nil, errors.WithStack(err)
	}
	if sq, err = G.Square(diff); err != nil {
		return nil, errors.WithStack(err)
	}
	if retVal, err = G.Mean(sq); err != nil {
		return nil, errors.WithStack(err)
	}
	return
}

// StepSmooth is the squared distance from prev, each sample weighted by its
// (batch, 1) position step. A nil step weighs every sample equally.
func StepSmooth(out, prev, step *G.Node) (retVal *G.Node, err error) {
	if step == nil {
		return MSE(out, prev)
	}
	var diff, sq, weighted *G.Node
	if diff, err = G.Sub(out, prev); err != nil {
		return nil, errors.WithStack(err)
	}
	if sq, err = G.Square(diff); err != nil {
		return nil, errors.WithStack(err)
	}
	if weighted, err = G.BroadcastHadamardProd(sq, step, nil, []byte{1}); err != nil {
		return nil, errors.WithStack(err)
	}
	if retVal, err = G.Mean(weighted); err != nil {
		return nil, errors.WithStack(err)
	}
	return
}

// DeadZoneAngle penalizes rotations between out and target larger than threshold.
// For unit quaternions the rotation angle θ satisfies |⟨a, b⟩| = cos(θ/2), so the
// penalty is max(0, cos(threshold/2) - |⟨a, b⟩|), averaged over the batch.
func DeadZoneAngle(out, target *G.Node, threshold float64) (retVal *G.Node, err error) {
	batch := out.Shape()[0]
	dt := out.Dtype()
	var prod, dot, abs, gap, penalty *G.Node
	if prod, err = G.HadamardProd(out, target); err != nil {
		return nil, errors.WithStack(err)
	}
	if dot, err = G.Mul(prod, filled(dt, 1, quaternion.Width, 1)); err != nil {
		return nil, errors.WithStack(err)
	}
	if abs, err = G.Abs(dot); err != nil {
		return nil, errors.WithStack(err)
	}
	if gap, err = G.Sub(filled(dt, math.Cos(threshold/2), batch, 1), abs); err != nil {
		return nil, errors.WithStack(err)
	}
	if penalty, err = nnops.Rectify(gap); err != nil {
		return nil, errors.WithStack(err)
	}
	if retVal, err = G.Mean(penalty); err != nil {
		return nil, errors.WithStack(err)
	}
	return
}

// SecondDifference is the mean square of out - 2*prev + prevprev.
func SecondDifference(out, prev, prevprev *G.Node) (retVal *G.Node, err error) {
	var d1, d2, dd, sq *G.Node
	if d1, err = G.Sub(out, prev); err != nil {
		return nil, errors.WithStack(err)
	}
	if d2, err = G.Sub(prev, prevprev); err != nil {
		return nil, errors.WithStack(err)
	}
	if dd, err = G.Sub(d1, d2); err != nil {
		return nil, errors.WithStack(err)
	}
	if sq, err = G.Square(dd); err != nil {
		return nil, errors.WithStack(err)
	}
	if retVal, err = G.Mean(sq); err != nil {
		return nil, errors.WithStack(err)
	}
	return
}

// filled is a constant matrix with every element set to v.
func filled(dt tensor.Dtype, v float64, rows, cols int) *G.Node {
	var backing interface{}
	switch dt {
	case tensor.Float64:
		b := make([]float64, rows*cols)
		for i := range b {
			b[i] = v
		}
		backing = b
	default:
		b := make([]float32, rows*cols)
		for i := range b {
			b[i] = float32(v)
		}
		backing = b
	}
	return G.NewConstant(tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(backing)))
}
