package threshold

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileSimpleComparison(t *testing.T) {
	p, err := Compile("> 500")
	require.NoError(t, err)
	assert.True(t, p.Eval(501))
	assert.False(t, p.Eval(500))
	assert.False(t, p.Eval(10))
}

func TestCompileGluedOperator(t *testing.T) {
	p, err := Compile(">500")
	require.NoError(t, err)
	assert.True(t, p.Eval(600))
	assert.False(t, p.Eval(400))
}

func TestCompileAndChain(t *testing.T) {
	p, err := Compile("> 100 and < 900")
	require.NoError(t, err)
	assert.True(t, p.Eval(500))
	assert.False(t, p.Eval(50))
	assert.False(t, p.Eval(950))
}

func TestCompileOrChain(t *testing.T) {
	p, err := Compile("== 0 or > 1000")
	require.NoError(t, err)
	assert.True(t, p.Eval(0))
	assert.True(t, p.Eval(2000))
	assert.False(t, p.Eval(500))
}

func TestCompileAllOperators(t *testing.T) {
	cases := []struct {
		src    string
		metric float64
		want   bool
	}{
		{">= 10", 10, true},
		{"<= 10", 10, true},
		{"!= 10", 11, true},
		{"!= 10", 10, false},
		{"== 10", 10, true},
	}
	for _, c := range cases {
		p, err := Compile(c.src)
		require.NoError(t, err)
		assert.Equal(t, c.want, p.Eval(c.metric), c.src)
	}
}

func TestCompileRejectsGarbage(t *testing.T) {
	_, err := Compile("eval(os.system('rm -rf /'))")
	assert.Error(t, err, "the predicate parser must reject arbitrary code, never execute it")
}

func TestCompileRejectsEmpty(t *testing.T) {
	_, err := Compile("")
	assert.Error(t, err)
}
