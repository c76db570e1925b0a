package harvest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPageSizer_FixedModeNeverChanges(t *testing.T) {
	t.Parallel()

	p := NewPageSizer(50, 30, 100, 20, false)
	p.Observe(1.0)
	p.Observe(0.0)
	require.Equal(t, 50, p.Current())
}

func TestPageSizer_Adaptive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		initial int
		rates   []float64
		want    int
	}{
		{name: "grows on sustained success", initial: 50, rates: []float64{0.96, 1.0}, want: 90},
		{name: "clamps at ceiling", initial: 90, rates: []float64{1.0, 1.0, 1.0}, want: 100},
		{name: "shrinks on failures", initial: 70, rates: []float64{0.5}, want: 50},
		{name: "clamps at floor", initial: 40, rates: []float64{0.1, 0.1}, want: 30},
		{name: "middling rate holds steady", initial: 50, rates: []float64{0.9}, want: 50},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := NewPageSizer(tc.initial, 30, 100, 20, true)
			for _, rate := range tc.rates {
				p.Observe(rate)
			}
			require.Equal(t, tc.want, p.Current())
		})
	}
}

func TestPageSizer_ClampsInitialSize(t *testing.T) {
	t.Parallel()

	require.Equal(t, 30, NewPageSizer(5, 30, 100, 20, true).Current())
	require.Equal(t, 100, NewPageSizer(500, 30, 100, 20, true).Current())
}

func TestPageSizer_FixedModeIgnoresBounds(t *testing.T) {
	t.Parallel()

	require.Equal(t, 500, NewPageSizer(500, 30, 100, 20, false).Current())
	require.Equal(t, 5, NewPageSizer(5, 30, 100, 20, false).Current())
}
