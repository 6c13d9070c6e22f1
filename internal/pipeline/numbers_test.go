package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findNumber(nums []Number, kind NumberKind) (Number, bool) {
	for _, n := range nums {
		if n.Kind == kind {
			return n, true
		}
	}
	return Number{}, false
}

func TestExtractCurrencySymbol(t *testing.T) {
	t.Parallel()
	nums := ExtractNumbers("Revenue rose to $47.5B this quarter.")
	n, ok := findNumber(nums, KindCurrency)
	require.True(t, ok)
	assert.Equal(t, "USD", n.Unit)
	assert.InDelta(t, 47.5e9, n.Value, 1)
}

func TestExtractCurrencyCode(t *testing.T) {
	t.Parallel()
	nums := ExtractNumbers("totaling 47,500,000,000 USD for the year")
	n, ok := findNumber(nums, KindCurrency)
	require.True(t, ok)
	assert.Equal(t, "USD", n.Unit)
	assert.InDelta(t, 47.5e9, n.Value, 1)
}

func TestExtractPercentage(t *testing.T) {
	t.Parallel()
	nums := ExtractNumbers("margin of 25.6% year over year")
	n, ok := findNumber(nums, KindPercentage)
	require.True(t, ok)
	assert.Equal(t, "%", n.Unit)
	assert.InDelta(t, 25.6, n.Value, 0.001)
}

func TestExtractPlainNumberWithThousands(t *testing.T) {
	t.Parallel()
	nums := ExtractNumbers("headcount reached 12,450 employees")
	n, ok := findNumber(nums, KindNumber)
	require.True(t, ok)
	assert.InDelta(t, 12450, n.Value, 0.001)
}

func TestCurrencyNotDoubleCountedAsNumber(t *testing.T) {
	t.Parallel()
	nums := ExtractNumbers("$5M")
	require.Len(t, nums, 1)
	assert.Equal(t, KindCurrency, nums[0].Kind)
}

func TestNumberMatchesCrossFormat(t *testing.T) {
	t.Parallel()
	// The S1 contract: "$47.5B" matches "47,500,000,000 USD".
	count := CountNumberMatches(
		"Revenue rose to $47.5B.",
		"Revenue in Q4 2024 was 47,500,000,000 USD.",
		0.01,
	)
	assert.GreaterOrEqual(t, count, 1)
}

func TestNumberMatchRequiresSameKind(t *testing.T) {
	t.Parallel()
	// 25.6 as a percentage does not match 25.6 as a plain number.
	count := CountNumberMatches("growth of 25.6%", "a distance of 25.6 km", 0.01)
	assert.Equal(t, 0, count)
}

func TestNumberMatchTolerance(t *testing.T) {
	t.Parallel()
	a := Number{Value: 100, Kind: KindNumber}
	assert.True(t, a.Matches(Number{Value: 100.9, Kind: KindNumber}, 0.01))
	assert.False(t, a.Matches(Number{Value: 102, Kind: KindNumber}, 0.01))
}

func TestNumberMatchZeroUsesAbsolute(t *testing.T) {
	t.Parallel()
	zero := Number{Value: 0, Kind: KindNumber}
	assert.True(t, zero.Matches(Number{Value: 0.005, Kind: KindNumber}, 0.01))
	assert.False(t, zero.Matches(Number{Value: 0.5, Kind: KindNumber}, 0.01))
}

func TestGreedyPairing(t *testing.T) {
	t.Parallel()
	// Two tens on one side pair with at most two tens on the other.
	count := CountNumberMatches("10 and 10 and 10", "10 10", 0.01)
	assert.Equal(t, 2, count)
}
