package seq

import (
	"fmt"

	"github.com/pkg/errors"
)

// OutputSize is the size of one spatial axis after a convolution or pooling window:
//	floor((in + 2*padding - kernel) / stride) + 1
// A result that is not positive is a configuration error.
func OutputSize(in, kernel, stride, padding int) (int, error) {
	if stride < 1 {
		return 0, configErrorf("stride", "must be positive, got %d", stride)
	}
	n := in + 2*padding - kernel
	if n < 0 {
		return 0, configErrorf("extent", "window %d does not fit input %d with padding %d", kernel, in, padding)
	}
	return n/stride + 1, nil
}

// ShapeTracker is the running feature width threaded through chain construction.
// During the convolutional phase Width is the channel count and Height/Extent
// are the spatial sizes; after flattening only Width is meaningful.
type ShapeTracker struct {
	Width  int
	Height int
	Extent int
}

// ConvPlan is a convolution block with the shapes it consumes and produces, (channels, height, extent).
type ConvPlan struct {
	ConvSpec
	In, Out [3]int
}

// RecurrentPlan is an LSTM cell with its resolved input width.
type RecurrentPlan struct {
	In, Hidden int
	Bias       bool
}

// FCPlan is a fully connected layer with resolved widths and chain level settings.
type FCPlan struct {
	In, Out    int
	Bias       bool
	Activate   bool
	Activation Activation
	BatchNorm  bool
	DropOut    float64
}

// Plan is the fully resolved chain. It is immutable once built.
type Plan struct {
	Input     []int // per sample input shape
	Conv      []ConvPlan
	GAP       bool
	Flattened int
	Recurrent []RecurrentPlan
	FC        []FCPlan
	Output    int
}

// InputWidth is the flattened per sample width a caller must provide.
func (p Plan) InputWidth() int {
	retVal := 1
	for _, d := range p.Input {
		retVal *= d
	}
	return retVal
}

// Plan folds a ShapeTracker over the stage table and returns the resolved chain.
func (conf Config) Plan() (Plan, error) {
	var retVal Plan
	if err := conf.Validate(); err != nil {
		return retVal, err
	}
	t := ShapeTracker{Height: 1, Extent: conf.RealWidth()}

	if len(conf.CNN.Layers) == 0 {
		t.Width = conf.ChannelSize
		retVal.Input = []int{conf.ChannelSize}
	} else {
		first := conf.CNN.Layers[0]
		t.Width = first.InChannels
		retVal.Input = []int{first.InChannels, t.Height, t.Extent}
	}

	var rnns, fcs int
	for _, s := range conf.Stages() {
		switch spec := s.(type) {
		case ConvSpec:
			in := [3]int{t.Width, t.Height, t.Extent}
			if err := t.conv(spec, len(retVal.Conv)); err != nil {
				return Plan{}, err
			}
			retVal.Conv = append(retVal.Conv, ConvPlan{ConvSpec: spec, In: in, Out: [3]int{t.Width, t.Height, t.Extent}})
		case RecurrentSpec:
			if rnns == 0 {
				t.flatten(len(conf.CNN.Layers) > 0, conf.CNN.GAP)
				retVal.GAP = conf.CNN.GAP && len(conf.CNN.Layers) > 0
				retVal.Flattened = t.Width
			}
			in, err := t.recurrent(spec, rnns)
			if err != nil {
				return Plan{}, err
			}
			retVal.Recurrent = append(retVal.Recurrent, RecurrentPlan{In: in, Hidden: spec.Hidden, Bias: spec.Bias})
			rnns++
		case FCSpec:
			in, err := t.fc(spec, fcs)
			if err != nil {
				return Plan{}, err
			}
			l := FCPlan{
				In:      in,
				Out:     spec.Out,
				Bias:    spec.Bias,
				DropOut: conf.FC.DropOut,
			}
			// a single stage is both hidden and output layer; otherwise only the head is linear
			switch {
			case len(conf.FC.Layers) == 1:
				l.BatchNorm = conf.FC.BatchNorm
			case fcs < len(conf.FC.Layers)-1:
				l.Activate = true
				l.Activation = conf.FC.Activation
				l.BatchNorm = conf.FC.BatchNorm
			}
			retVal.FC = append(retVal.FC, l)
			fcs++
		}
	}
	retVal.Output = t.Width
	return retVal, nil
}

func (t *ShapeTracker) conv(spec ConvSpec, layer int) (err error) {
	if spec.InChannels != t.Width {
		return shapeError(fmt.Sprintf("conv %d", layer), spec.InChannels, t.Width)
	}
	if t.Height, err = OutputSize(t.Height, spec.Kernel.H(), spec.Stride.H(), spec.Padding.H()); err != nil {
		return layerErr(err, "conv", layer)
	}
	if t.Extent, err = OutputSize(t.Extent, spec.Kernel.W(), spec.Stride.W(), spec.Padding.W()); err != nil {
		return layerErr(err, "conv", layer)
	}
	if spec.Pooling != nil {
		p := *spec.Pooling
		if t.Height, err = OutputSize(t.Height, p.H(), p.H(), 0); err != nil {
			return layerErr(err, "pool", layer)
		}
		if t.Extent, err = OutputSize(t.Extent, p.W(), p.W(), 0); err != nil {
			return layerErr(err, "pool", layer)
		}
	}
	t.Width = spec.OutChannels
	return nil
}

// flatten collapses the spatial sizes into Width. Without convolution Width is already flat.
func (t *ShapeTracker) flatten(convolved, gap bool) {
	if convolved && !gap {
		t.Width *= t.Height * t.Extent
	}
	t.Height, t.Extent = 1, 1
}

func (t *ShapeTracker) recurrent(spec RecurrentSpec, layer int) (in int, err error) {
	in = t.Width
	if spec.InputWidth != 0 && spec.InputWidth != in {
		return 0, shapeError(fmt.Sprintf("rnn %d", layer), spec.InputWidth, in)
	}
	t.Width = spec.Hidden
	return in, nil
}

func (t *ShapeTracker) fc(spec FCSpec, layer int) (in int, err error) {
	in = t.Width
	if spec.InputWidth != 0 && spec.InputWidth != in {
		return 0, shapeError(fmt.Sprintf("fc %d", layer), spec.InputWidth, in)
	}
	t.Width = spec.Out
	return in, nil
}

func layerErr(err error, kind string, layer int) error {
	if c, ok := errors.Cause(err).(*ConfigError); ok {
		c.Field = fmt.Sprintf("model.cnn.layers[%d] %s %s", layer, kind, c.Field)
	}
	return err
}
