package seq

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gorgonia/dvs/quaternion"
	"github.com/pkg/errors"
)

// StageKind tags the variants of StageSpec.
type StageKind byte

const (
	ConvStage StageKind = iota
	RecurrentStage
	FCStage
)

func (k StageKind) String() string {
	switch k {
	case ConvStage:
		return "conv"
	case RecurrentStage:
		return "rnn"
	case FCStage:
		return "fc"
	}
	return fmt.Sprintf("StageKind(%d)", byte(k))
}

// StageSpec is a declarative description of one stage of the chain.
// It is implemented by ConvSpec, RecurrentSpec and FCSpec.
type StageSpec interface {
	Kind() StageKind
}

// Pair is a (height, width) tuple.
type Pair [2]int

func (p Pair) H() int { return p[0] }
func (p Pair) W() int { return p[1] }

// ConvSpec describes a convolution block: conv, optional batch norm, activation, optional max pool.
type ConvSpec struct {
	InChannels, OutChannels int
	Kernel                  Pair
	Stride                  Pair
	Padding                 Pair
	Pooling                 *Pair // nil if the block does not pool
}

// RecurrentSpec describes an LSTM cell. InputWidth is optional; zero means it is taken from the shape tracker.
type RecurrentSpec struct {
	Hidden     int
	Bias       bool
	InputWidth int
}

// FCSpec describes a fully connected layer. InputWidth is optional; zero means it is taken from the shape tracker.
type FCSpec struct {
	Out        int
	Bias       bool
	InputWidth int
}

func (ConvSpec) Kind() StageKind      { return ConvStage }
func (RecurrentSpec) Kind() StageKind { return RecurrentStage }
func (FCSpec) Kind() StageKind        { return FCStage }

// Activation enumerates the activation functions a chain may use.
type Activation byte

const (
	ReLU Activation = iota
	Sigmoid
	Tanh
)

var activations = map[string]Activation{
	"relu":    ReLU,
	"sigmoid": Sigmoid,
	"tanh":    Tanh,
}

// ParseActivation maps a configured name to an Activation.
func ParseActivation(name string) (Activation, error) {
	if a, ok := activations[strings.ToLower(strings.TrimSpace(name))]; ok {
		return a, nil
	}
	return 0, configErrorf("activate_function", "unknown activation %q", name)
}

func (a Activation) String() string {
	switch a {
	case ReLU:
		return "relu"
	case Sigmoid:
		return "sigmoid"
	case Tanh:
		return "tanh"
	}
	return fmt.Sprintf("Activation(%d)", byte(a))
}

// InitScheme selects how weights are initialized.
type InitScheme byte

const (
	DefaultInit InitScheme = iota // uniform in ±1/sqrt(fan in)
	XavierUniform
	XavierNormal
)

// ParseInitScheme maps a configured name to an InitScheme. The empty string and "default" select DefaultInit.
func ParseInitScheme(name string) (InitScheme, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return DefaultInit, nil
	case "xavier_uniform":
		return XavierUniform, nil
	case "xavier_normal":
		return XavierNormal, nil
	}
	return 0, configErrorf("train.init", "unknown initialization scheme %q", name)
}

func (s InitScheme) String() string {
	switch s {
	case DefaultInit:
		return "default"
	case XavierUniform:
		return "xavier_uniform"
	case XavierNormal:
		return "xavier_normal"
	}
	return fmt.Sprintf("InitScheme(%d)", byte(s))
}

// CNNParams is the convolutional part of the table along with its chain level settings.
type CNNParams struct {
	Layers     []ConvSpec
	Activation Activation
	BatchNorm  bool
	GAP        bool // global average pooling after the last block
}

// FCParams is the fully connected part of the table along with its chain level settings.
type FCParams struct {
	Layers     []FCSpec
	Activation Activation
	BatchNorm  bool
	DropOut    float64
}

// Config configures the network.
type Config struct {
	CNN       CNNParams
	Recurrent []RecurrentSpec
	FC        FCParams

	NumberReal    int // real orientation samples on either side of the current one
	NumberVirtual int // previous virtual orientation samples
	ChannelSize   int // input width when no convolution is declared

	WeightInit InitScheme
	FwdOnly    bool // is this a fwd only graph?
}

// DefaultConf returns a small convolution free configuration.
func DefaultConf() Config {
	return Config{
		CNN:       CNNParams{Activation: ReLU},
		Recurrent: []RecurrentSpec{{Hidden: 16, Bias: true}},
		FC: FCParams{
			Layers:     []FCSpec{{Out: quaternion.Width, Bias: true}},
			Activation: ReLU,
		},
		NumberReal:    2,
		NumberVirtual: 2,
		ChannelSize:   8,
	}
}

// Stages returns the stage table in chain order.
func (conf Config) Stages() []StageSpec {
	retVal := make([]StageSpec, 0, len(conf.CNN.Layers)+len(conf.Recurrent)+len(conf.FC.Layers))
	for _, l := range conf.CNN.Layers {
		retVal = append(retVal, l)
	}
	for _, l := range conf.Recurrent {
		retVal = append(retVal, l)
	}
	for _, l := range conf.FC.Layers {
		retVal = append(retVal, l)
	}
	return retVal
}

// RealWidth is the width of a flattened window of real orientation samples.
func (conf Config) RealWidth() int { return (2*conf.NumberReal + 1) * quaternion.Width }

// VirtualWidth is the width of a flattened window of previous virtual orientation samples.
func (conf Config) VirtualWidth() int { return conf.NumberVirtual * quaternion.Width }

// Validate checks every parameter that does not depend on shape inference.
func (conf Config) Validate() error {
	for i, l := range conf.CNN.Layers {
		field := fmt.Sprintf("model.cnn.layers[%d]", i)
		switch {
		case l.InChannels < 1 || l.OutChannels < 1:
			return configErrorf(field, "channels must be positive, got (%d, %d)", l.InChannels, l.OutChannels)
		case l.Kernel.H() < 1 || l.Kernel.W() < 1:
			return configErrorf(field, "kernel must be positive, got %v", l.Kernel)
		case l.Stride.H() < 1 || l.Stride.W() < 1:
			return configErrorf(field, "stride must be positive, got %v", l.Stride)
		case l.Padding.H() < 0 || l.Padding.W() < 0:
			return configErrorf(field, "padding must not be negative, got %v", l.Padding)
		case l.Pooling != nil && (l.Pooling.H() < 1 || l.Pooling.W() < 1):
			return configErrorf(field, "pooling must be positive, got %v", *l.Pooling)
		}
	}
	if len(conf.CNN.Layers) == 0 && conf.ChannelSize < 1 {
		return configErrorf("data.channel_size", "must be positive when no convolution is declared, got %d", conf.ChannelSize)
	}
	if len(conf.Recurrent) == 0 {
		return configErrorf("model.rnn.layers", "at least one recurrent stage is required")
	}
	for i, l := range conf.Recurrent {
		if l.Hidden < 1 {
			return configErrorf(fmt.Sprintf("model.rnn.layers[%d]", i), "hidden width must be positive, got %d", l.Hidden)
		}
	}
	if len(conf.FC.Layers) == 0 {
		return configErrorf("model.fc.layers", "at least one fully connected stage is required")
	}
	for i, l := range conf.FC.Layers {
		if l.Out < 1 {
			return configErrorf(fmt.Sprintf("model.fc.layers[%d]", i), "output width must be positive, got %d", l.Out)
		}
	}
	if out := conf.FC.Layers[len(conf.FC.Layers)-1].Out; out != quaternion.Width {
		return configErrorf("model.fc.layers", "the last stage must output a quaternion (%d), got %d", quaternion.Width, out)
	}
	if conf.FC.DropOut < 0 || conf.FC.DropOut >= 1 {
		return configErrorf("model.fc.drop_out", "must be in [0, 1), got %v", conf.FC.DropOut)
	}
	if conf.NumberReal < 0 || conf.NumberVirtual < 0 {
		return configErrorf("data", "sample counts must not be negative, got real %d virtual %d", conf.NumberReal, conf.NumberVirtual)
	}
	return nil
}

// IsValid is Validate without the reason.
func (conf Config) IsValid() bool { return conf.Validate() == nil }

// ParseConvLayer parses one convolution stage written as stringified literals:
//	["(in, out)", "(kh, kw)", "(sh, sw)", "(ph, pw)", "None" | "(ph, pw)"]
// A scalar literal such as "3" is read as (3, 3).
func ParseConvLayer(fields []string) (ConvSpec, error) {
	var retVal ConvSpec
	if len(fields) != 5 {
		return retVal, configErrorf("model.cnn.layers", "expected 5 fields, got %d", len(fields))
	}
	channels, err := parsePair(fields[0])
	if err != nil {
		return retVal, errors.Wrap(err, "channels")
	}
	retVal.InChannels, retVal.OutChannels = channels[0], channels[1]
	if retVal.Kernel, err = parsePair(fields[1]); err != nil {
		return retVal, errors.Wrap(err, "kernel")
	}
	if retVal.Stride, err = parsePair(fields[2]); err != nil {
		return retVal, errors.Wrap(err, "stride")
	}
	if retVal.Padding, err = parsePair(fields[3]); err != nil {
		return retVal, errors.Wrap(err, "padding")
	}
	if isNone(fields[4]) {
		return retVal, nil
	}
	pool, err := parsePair(fields[4])
	if err != nil {
		return retVal, errors.Wrap(err, "pooling")
	}
	retVal.Pooling = &pool
	return retVal, nil
}

func isNone(s string) bool {
	switch strings.TrimSpace(s) {
	case "None", "none", "null", "~", "":
		return true
	}
	return false
}

func parsePair(s string) (retVal Pair, err error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(trimmed, "(")
	trimmed = strings.TrimPrefix(trimmed, "[")
	trimmed = strings.TrimSuffix(trimmed, ")")
	trimmed = strings.TrimSuffix(trimmed, "]")

	var vals []int
	for _, f := range strings.Split(trimmed, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.Atoi(f)
		if err != nil {
			return retVal, configErrorf("model.cnn.layers", "malformed literal %q", s)
		}
		vals = append(vals, v)
	}
	switch len(vals) {
	case 1:
		return Pair{vals[0], vals[0]}, nil
	case 2:
		return Pair{vals[0], vals[1]}, nil
	}
	return retVal, configErrorf("model.cnn.layers", "malformed literal %q", s)
}
