package sequence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	assert.Equal(t, "ALX-2025-0007", Format("ALX", 2025, 7))
	assert.Equal(t, "ALX-2025-0042", Format("ALX", 2025, 42))
	assert.Equal(t, "ALX-2025-9999", Format("ALX", 2025, 9999))
	assert.Equal(t, "ALX-2025-10000", Format("ALX", 2025, 10000))
}

func TestParse_RoundTrip(t *testing.T) {
	n, err := Parse("ALX-2025-0042")
	require.NoError(t, err)
	assert.Equal(t, "ALX", n.Prefix)
	assert.Equal(t, 2025, n.Year)
	assert.Equal(t, int64(42), n.Seq)
	assert.Equal(t, "ALX-2025-0042", n.String())

	wide, err := Parse("ALX-2026-123456")
	require.NoError(t, err)
	assert.Equal(t, int64(123456), wide.Seq)
}

func TestParse_PrefixWithDash(t *testing.T) {
	n, err := Parse("alx-no-2025-0003")
	require.NoError(t, err)
	assert.Equal(t, "ALX-NO", n.Prefix)
	assert.Equal(t, int64(3), n.Seq)
}

func TestParse_Invalid(t *testing.T) {
	for _, s := range []string{"", "ALX", "ALX-0042", "ALX-25-0042", "ALX-2025-", "ALX-2025-abc", "-2025-0001", "ALX-2025-0000"} {
		_, err := Parse(s)
		assert.Error(t, err, s)
	}
}
