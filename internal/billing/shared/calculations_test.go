package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCalculateLineTotal(t *testing.T) {
	require.Equal(t, 180.0, CalculateLineTotal(2, 100, 10))
	require.Equal(t, 50.0, CalculateLineTotal(1, 50, 0))
	require.Equal(t, 0.0, CalculateLineTotal(0, 100, 0))
	require.Equal(t, 33.33, CalculateLineTotal(1, 33.333, 0))
}

func TestCalculateLineTotals(t *testing.T) {
	discount, tax, total := CalculateLineTotals(2, 100, 10, 19)
	require.Equal(t, 20.0, discount)
	require.Equal(t, 34.2, tax)
	require.Equal(t, 214.2, total)
}
