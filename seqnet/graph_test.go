package seq

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanToDot(t *testing.T) {
	plan, err := convConf().Plan()
	require.NoError(t, err)
	dot, err := plan.ToDot()
	require.NoError(t, err)

	for _, name := range []string{"input", "conv0", "flatten", "rnn0", "fc0", "fc1", "quaternion"} {
		assert.Contains(t, dot, name)
	}
	assert.Contains(t, dot, "input->conv0")
	assert.Contains(t, dot, "fc1->quaternion")
	assert.Equal(t, 6, strings.Count(dot, "->"))
	assert.Contains(t, dot, "tanh")
}
