package stats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCounterNoopWhenDisabled(t *testing.T) {
	Enabled = false
	var c Counter
	c.Inc()
	c.Add(5)
	require.Zero(t, int64(c))
}

func TestCounterIncrementsWhenEnabled(t *testing.T) {
	Enabled = true
	defer func() { Enabled = false }()
	var c Counter
	c.Inc()
	c.Add(4)
	require.EqualValues(t, 5, int64(c))
}

func TestStringRendersOnlyCounterFields(t *testing.T) {
	Enabled = true
	defer func() { Enabled = false }()
	st := struct {
		Foo Counter
		Bar int
	}{}
	st.Foo.Inc()
	out := String(&st)
	require.Contains(t, out, "#Foo: 1")
	require.NotContains(t, out, "Bar")
}
