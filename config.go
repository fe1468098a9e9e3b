package dvs

import (
	"fmt"
	"io"
	"strings"

	"github.com/gorgonia/dvs/loss"
	seq "github.com/gorgonia/dvs/seqnet"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// lossKeys are the loss weight keys in term order.
var lossKeys = []string{"loss.smooth", "loss.angle", "loss.follow", "loss.c2_smooth", "loss.undefine"}

// SetDefaults registers the default of every optional key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("model.cnn.activate_function", "relu")
	v.SetDefault("model.cnn.batch_norm", false)
	v.SetDefault("model.cnn.gap", false)
	v.SetDefault("model.fc.activate_function", "relu")
	v.SetDefault("model.fc.batch_norm", false)
	v.SetDefault("model.fc.drop_out", 0.0)
	v.SetDefault("data.number_real", 2)
	v.SetDefault("data.number_virtual", 2)
	v.SetDefault("data.channel_size", 8)
	v.SetDefault("data.projection_width", 0)
	v.SetDefault("train.init", "")
	v.SetDefault("train.optimizer", "adam")
	v.SetDefault("train.learn_rate", DefaultLearnRate)
	v.SetDefault("train.batch_size", 4)
	v.SetDefault("train.epochs", 1)
	v.SetDefault("train.follow", true)
	v.SetDefault("train.undefine", false)
}

// ReadConfig reads a YAML configuration.
func ReadConfig(r io.Reader, logger logrus.FieldLogger) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(r); err != nil {
		return Config{}, errors.Wrap(err, "reading config")
	}
	return LoadConfig(v, logger)
}

// ReadConfigFile reads a configuration file in any format viper understands.
func ReadConfigFile(filename string, logger logrus.FieldLogger) (Config, error) {
	v := viper.New()
	v.SetConfigFile(filename)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, errors.Wrapf(err, "reading config %q", filename)
	}
	return LoadConfig(v, logger)
}

// LoadConfig builds a Config out of v. Unset optional keys take their defaults.
// A nil logger logs to the standard logger.
func LoadConfig(v *viper.Viper, logger logrus.FieldLogger) (conf Config, err error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	SetDefaults(v)

	nn := &conf.NNConf
	if nn.CNN.Activation, err = seq.ParseActivation(v.GetString("model.cnn.activate_function")); err != nil {
		return conf, err
	}
	nn.CNN.BatchNorm = v.GetBool("model.cnn.batch_norm")
	nn.CNN.GAP = v.GetBool("model.cnn.gap")
	if nn.CNN.Layers, err = convLayers(v.Get("model.cnn.layers")); err != nil {
		return conf, err
	}

	if nn.Recurrent, err = rnnLayers(v.Get("model.rnn.layers")); err != nil {
		return conf, err
	}

	if nn.FC.Activation, err = seq.ParseActivation(v.GetString("model.fc.activate_function")); err != nil {
		return conf, err
	}
	nn.FC.BatchNorm = v.GetBool("model.fc.batch_norm")
	nn.FC.DropOut = v.GetFloat64("model.fc.drop_out")
	if nn.FC.Layers, err = fcLayers(v.Get("model.fc.layers")); err != nil {
		return conf, err
	}

	nn.NumberReal = v.GetInt("data.number_real")
	nn.NumberVirtual = v.GetInt("data.number_virtual")
	nn.ChannelSize = v.GetInt("data.channel_size")
	conf.ProjectionWidth = v.GetInt("data.projection_width")
	if nn.WeightInit, err = seq.ParseInitScheme(v.GetString("train.init")); err != nil {
		return conf, err
	}

	conf.Loss = lossWeights(v, logger)
	conf.Train = TrainConfig{
		Optimizer: v.GetString("train.optimizer"),
		LearnRate: v.GetFloat64("train.learn_rate"),
		BatchSize: v.GetInt("train.batch_size"),
		Epochs:    v.GetInt("train.epochs"),
		Follow:    v.GetBool("train.follow"),
		Undefine:  v.GetBool("train.undefine"),
	}
	conf.Name = v.GetString("name")

	if err = nn.Validate(); err != nil {
		return conf, err
	}
	return conf, nil
}

// lossWeights reads one weight per term. A configuration that only sets loss.smooth is read
// the old way: the smooth weight is used for every term.
func lossWeights(v *viper.Viper, logger logrus.FieldLogger) loss.Weights {
	vals := make([]float64, len(lossKeys))
	var others int
	for i, k := range lossKeys {
		if i > 0 && v.IsSet(k) {
			others++
		}
		vals[i] = v.GetFloat64(k)
	}
	if others == 0 && v.IsSet("loss.smooth") {
		logger.WithFields(logrus.Fields{
			"key":    "loss.smooth",
			"weight": vals[0],
		}).Warn("only loss.smooth is set; using it as the weight of every loss term. Set loss.angle, loss.follow, loss.c2_smooth and loss.undefine to silence this")
		for i := range vals {
			vals[i] = vals[0]
		}
	}
	return loss.Weights{
		Smooth:   vals[0],
		Angle:    vals[1],
		Follow:   vals[2],
		C2Smooth: vals[3],
		Undefine: vals[4],
	}
}

func convLayers(raw interface{}) ([]seq.ConvSpec, error) {
	if raw == nil {
		return nil, nil
	}
	layers, err := cast.ToSliceE(raw)
	if err != nil {
		return nil, seq.NewConfigError("model.cnn.layers", err.Error())
	}
	retVal := make([]seq.ConvSpec, 0, len(layers))
	for i, l := range layers {
		fields, err := cast.ToSliceE(l)
		if err != nil {
			return nil, seq.NewConfigError(fmt.Sprintf("model.cnn.layers[%d]", i), err.Error())
		}
		lits := make([]string, len(fields))
		for j, f := range fields {
			lits[j] = literal(f)
		}
		spec, err := seq.ParseConvLayer(lits)
		if err != nil {
			return nil, errors.Wrapf(err, "model.cnn.layers[%d]", i)
		}
		retVal = append(retVal, spec)
	}
	return retVal, nil
}

// literal turns a YAML value into the literal form ParseConvLayer reads. Lists such as [1, 8] become "(1, 8)".
func literal(f interface{}) string {
	switch x := f.(type) {
	case nil:
		return "None"
	case string:
		return x
	case []interface{}:
		parts := make([]string, len(x))
		for i, p := range x {
			parts[i] = cast.ToString(p)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}
	return cast.ToString(f)
}

// widthBias reads a (width, bias) pair. A bare width has a bias.
func widthBias(field string, raw interface{}) (width int, bias bool, err error) {
	pair, err := cast.ToSliceE(raw)
	if err != nil {
		// a scalar is a bare width
		if width, err = cast.ToIntE(raw); err != nil {
			return 0, false, seq.NewConfigError(field, err.Error())
		}
		return width, true, nil
	}
	switch len(pair) {
	case 1:
		bias = true
	case 2:
		if bias, err = cast.ToBoolE(pair[1]); err != nil {
			return 0, false, seq.NewConfigError(field, err.Error())
		}
	default:
		return 0, false, seq.NewConfigError(field, fmt.Sprintf("expected (width, bias), got %v", raw))
	}
	if width, err = cast.ToIntE(pair[0]); err != nil {
		return 0, false, seq.NewConfigError(field, err.Error())
	}
	return width, bias, nil
}

func rnnLayers(raw interface{}) ([]seq.RecurrentSpec, error) {
	layers, err := cast.ToSliceE(raw)
	if err != nil {
		return nil, seq.NewConfigError("model.rnn.layers", err.Error())
	}
	retVal := make([]seq.RecurrentSpec, 0, len(layers))
	for i, l := range layers {
		hidden, bias, err := widthBias(fmt.Sprintf("model.rnn.layers[%d]", i), l)
		if err != nil {
			return nil, err
		}
		retVal = append(retVal, seq.RecurrentSpec{Hidden: hidden, Bias: bias})
	}
	return retVal, nil
}

func fcLayers(raw interface{}) ([]seq.FCSpec, error) {
	layers, err := cast.ToSliceE(raw)
	if err != nil {
		return nil, seq.NewConfigError("model.fc.layers", err.Error())
	}
	retVal := make([]seq.FCSpec, 0, len(layers))
	for i, l := range layers {
		out, bias, err := widthBias(fmt.Sprintf("model.fc.layers[%d]", i), l)
		if err != nil {
			return nil, err
		}
		retVal = append(retVal, seq.FCSpec{Out: out, Bias: bias})
	}
	return retVal, nil
}
