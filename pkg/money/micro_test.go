package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMicro(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
	}{
		{"1.00", 1_000_000},
		{"0.001", 1_000},
		{"0.0001", 100},
		{"0.0000019", 1},
		{"0.0000001", 0},
		{"50000", 50_000_000_000},
		{" 2.5 ", 2_500_000},
		{"0", 0},
	}
	for _, tc := range cases {
		got, err := ToMicro(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestToMicroRejects(t *testing.T) {
	_, err := ToMicro("")
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ToMicro("one dollar")
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ToMicro("-0.5")
	require.ErrorIs(t, err, ErrNegativeAmount)

	_, err = ToMicro("99999999999999999999999")
	require.ErrorIs(t, err, ErrOverflow)

	assert.False(t, Valid("abc"))
	assert.True(t, Valid("0.01"))
}

func TestFromMicro(t *testing.T) {
	assert.Equal(t, "1.000000", FromMicro(1_000_000))
	assert.Equal(t, "0.000001", FromMicro(1))
	assert.Equal(t, "0.000000", FromMicro(0))
	assert.InDelta(t, 1.0011, MicroToFloat(1_001_100), 1e-12)
}
