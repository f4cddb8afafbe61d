package master

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		observed, expected int
		h                  Health
	}{
		{6, 6, Ok},
		{7, 6, Ok},
		{5, 6, Degraded},
		{1, 6, Degraded},
		{0, 6, Failed},
		{-1, 6, Failed},
	}
	for _, c := range cases {
		require.Equal(t, c.h, Classify(c.observed, c.expected), "%d of %d", c.observed, c.expected)
	}
}

func TestSegmentsExpectedWKC(t *testing.T) {
	require.Equal(t, 3, Segments{OutputsWKC: 1, InputsWKC: 1}.ExpectedWKC())
	require.Equal(t, 5, Segments{OutputsWKC: 2, InputsWKC: 1}.ExpectedWKC())
}
