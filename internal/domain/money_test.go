package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinorToMajorString(t *testing.T) {
	assert.Equal(t, "123.45", MinorToMajorString(12345))
	assert.Equal(t, "0.79", MinorToMajorString(79))
	assert.Equal(t, "0.00", MinorToMajorString(0))
	assert.Equal(t, "-50.00", MinorToMajorString(-5000))
}

func TestMajorToMinor(t *testing.T) {
	minor, err := MajorToMinor(decimal.RequireFromString("123.45"))
	require.NoError(t, err)
	assert.Equal(t, int64(12345), minor)

	// Whole-pound amounts and amounts with trailing zeros are exact.
	minor, err = MajorToMinor(decimal.RequireFromString("500"))
	require.NoError(t, err)
	assert.Equal(t, int64(50000), minor)

	// Fractional pence cannot be represented and must not be rounded.
	_, err = MajorToMinor(decimal.RequireFromString("1.005"))
	assert.Error(t, err)
}

func TestMajorStringToMinor(t *testing.T) {
	minor, err := MajorStringToMinor("0.79")
	require.NoError(t, err)
	assert.Equal(t, int64(79), minor)

	_, err = MajorStringToMinor("not-money")
	assert.Error(t, err)
}
