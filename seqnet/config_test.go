package seq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	if !DefaultConf().IsValid() {
		t.Errorf("Expected Default Config to be correct")
	}
}

var parseConvCases = []struct {
	fields  []string
	correct ConvSpec
	pool    *Pair
}{
	{[]string{"(1, 8)", "(1, 3)", "(1, 1)", "(0, 1)", "None"}, ConvSpec{InChannels: 1, OutChannels: 8, Kernel: Pair{1, 3}, Stride: Pair{1, 1}, Padding: Pair{0, 1}}, nil},
	{[]string{"(8,16)", "3", "[1, 2]", "0", "(1, 2)"}, ConvSpec{InChannels: 8, OutChannels: 16, Kernel: Pair{3, 3}, Stride: Pair{1, 2}}, &Pair{1, 2}},
	{[]string{" (2, 2) ", "(1,1)", "(1,1)", "(0,0)", "null"}, ConvSpec{InChannels: 2, OutChannels: 2, Kernel: Pair{1, 1}, Stride: Pair{1, 1}}, nil},
}

func TestParseConvLayer(t *testing.T) {
	for i, c := range parseConvCases {
		spec, err := ParseConvLayer(c.fields)
		if err != nil {
			t.Errorf("Case %d: %+v", i, err)
			continue
		}
		assert.Equal(t, c.pool, spec.Pooling, "case %d", i)
		spec.Pooling = nil
		assert.Equal(t, c.correct, spec, "case %d", i)
	}
}

func TestParseConvLayerErrors(t *testing.T) {
	bad := [][]string{
		{"(1, 8)", "(1, 3)", "(1, 1)", "(0, 1)"},
		{"(1, 8, 3)", "(1, 3)", "(1, 1)", "(0, 1)", "None"},
		{"(1, x)", "(1, 3)", "(1, 1)", "(0, 1)", "None"},
		{"(1, 8)", "()", "(1, 1)", "(0, 1)", "None"},
	}
	for i, fields := range bad {
		_, err := ParseConvLayer(fields)
		if assert.Error(t, err, "case %d", i) {
			assert.True(t, IsConfigError(err), "case %d: %v", i, err)
		}
	}
}

func TestParseNames(t *testing.T) {
	a, err := ParseActivation(" Tanh")
	require.NoError(t, err)
	assert.Equal(t, Tanh, a)
	_, err = ParseActivation("swish")
	assert.True(t, IsConfigError(err))

	for name, correct := range map[string]InitScheme{
		"":               DefaultInit,
		"default":        DefaultInit,
		"xavier_uniform": XavierUniform,
		"Xavier_Normal":  XavierNormal,
	} {
		s, err := ParseInitScheme(name)
		require.NoError(t, err, name)
		assert.Equal(t, correct, s, name)
	}
	_, err = ParseInitScheme("kaiming")
	assert.True(t, IsConfigError(err))
}

func TestValidate(t *testing.T) {
	mutations := []struct {
		name string
		f    func(*Config)
	}{
		{"no rnn", func(c *Config) { c.Recurrent = nil }},
		{"no fc", func(c *Config) { c.FC.Layers = nil }},
		{"zero hidden", func(c *Config) { c.Recurrent[0].Hidden = 0 }},
		{"not a quaternion", func(c *Config) { c.FC.Layers[0].Out = 3 }},
		{"no channels", func(c *Config) { c.ChannelSize = 0 }},
		{"drop out", func(c *Config) { c.FC.DropOut = 1 }},
		{"negative real", func(c *Config) { c.NumberReal = -1 }},
		{"zero stride", func(c *Config) {
			c.CNN.Layers = []ConvSpec{{InChannels: 1, OutChannels: 1, Kernel: Pair{1, 1}, Stride: Pair{0, 1}}}
		}},
	}
	for _, m := range mutations {
		conf := DefaultConf()
		conf.Recurrent = append([]RecurrentSpec(nil), conf.Recurrent...)
		conf.FC.Layers = append([]FCSpec(nil), conf.FC.Layers...)
		m.f(&conf)
		err := conf.Validate()
		if assert.Error(t, err, m.name) {
			assert.True(t, IsConfigError(err), "%s: %v", m.name, err)
		}
	}
}

func TestStages(t *testing.T) {
	conf := DefaultConf()
	conf.CNN.Layers = []ConvSpec{{InChannels: 1, OutChannels: 2, Kernel: Pair{1, 1}, Stride: Pair{1, 1}}}
	stages := conf.Stages()
	require.Len(t, stages, 3)
	kinds := []StageKind{ConvStage, RecurrentStage, FCStage}
	for i, s := range stages {
		assert.Equal(t, kinds[i], s.Kind())
	}
	assert.Equal(t, "rnn", RecurrentStage.String())
}

func TestWidths(t *testing.T) {
	conf := DefaultConf()
	assert.Equal(t, 20, conf.RealWidth())
	assert.Equal(t, 8, conf.VirtualWidth())
}
