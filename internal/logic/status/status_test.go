package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want Classification
	}{
		{"Crazy", Crazy},
		{"attacker", Attacker},
		{" BLOCKER ", Blocker},
		{"Healer", Healer},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := Parse(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := Parse("Tank")
	assert.Error(t, err)
}

func TestDefaultOrder_CyclicClosure(t *testing.T) {
	o := DefaultOrder()
	for _, start := range All() {
		for _, d := range []Direction{Forward, Backward} {
			c := start
			for i := 0; i < o.Len(); i++ {
				c = o.Step(c, d)
			}
			assert.Equal(t, start, c, "start=%s dir=%s", start, d)
		}
	}
}

func TestOrder_ExplicitOrderOverridesDeclaration(t *testing.T) {
	o, err := ParseOrder([]string{"Healer", "Crazy", "Blocker"})
	require.NoError(t, err)

	assert.Equal(t, Crazy, o.Next(Healer))
	assert.Equal(t, Blocker, o.Next(Crazy))
	assert.Equal(t, Healer, o.Next(Blocker))
	assert.Equal(t, Blocker, o.Previous(Healer))

	// Attacker is not part of the cycle: stepping lands on the first entry.
	assert.False(t, o.Contains(Attacker))
	assert.Equal(t, Healer, o.Next(Attacker))
}

func TestOrder_CyclicClosureCustom(t *testing.T) {
	o, err := NewOrder([]Classification{Blocker, Attacker, Healer, Crazy})
	require.NoError(t, err)

	c := Attacker
	for i := 0; i < o.Len(); i++ {
		c = o.Previous(c)
	}
	assert.Equal(t, Attacker, c)
}

func TestNewOrder_Rejects(t *testing.T) {
	_, err := NewOrder(nil)
	assert.Error(t, err, "empty order")

	_, err = NewOrder([]Classification{Crazy, Crazy})
	assert.Error(t, err, "duplicate")

	_, err = NewOrder([]Classification{Classification(42)})
	assert.Error(t, err, "invalid")
}

func TestClassification_Text(t *testing.T) {
	b, err := Healer.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "Healer", string(b))

	var c Classification
	require.NoError(t, c.UnmarshalText([]byte("blocker")))
	assert.Equal(t, Blocker, c)

	_, err = Classification(9).MarshalText()
	assert.Error(t, err)
	assert.Equal(t, "Classification(9)", Classification(9).String())
}
