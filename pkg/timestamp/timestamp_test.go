package timestamp

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testTime   = time.Date(2023, 1, 15, 12, 30, 45, 123000000, time.UTC)
	testTimeMs = int64(1673785845123)
)

func TestNow(t *testing.T) {
	before := time.Now().UnixMilli()
	ts := Now()
	after := time.Now().UnixMilli()

	assert.GreaterOrEqual(t, ts, before)
	assert.LessOrEqual(t, ts, after)
}

func TestRoundTrip(t *testing.T) {
	assert.Equal(t, testTimeMs, ToUnixMs(testTime))
	assert.True(t, FromUnixMs(testTimeMs).Equal(testTime))
	assert.Equal(t, int64(0), ToUnixMs(time.Time{}))
	assert.True(t, FromUnixMs(0).IsZero())
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "2023-01-15T12:30:45.123Z", Format(testTimeMs))
	assert.Equal(t, "", Format(0))
}

func TestFromFloat(t *testing.T) {
	ms, err := FromFloat(1673785845123.9)
	require.NoError(t, err)
	assert.Equal(t, testTimeMs, ms)

	_, err = FromFloat(math.NaN())
	assert.Error(t, err)
	_, err = FromFloat(math.Inf(1))
	assert.Error(t, err)
	_, err = FromFloat(-5)
	assert.Error(t, err)
}

func TestSub(t *testing.T) {
	assert.Equal(t, int64(9000), Sub(10000, time.Second))
	assert.Equal(t, int64(10000), Sub(10000, 500*time.Microsecond))
}

func TestSince(t *testing.T) {
	assert.Equal(t, time.Duration(0), Since(0))
	assert.GreaterOrEqual(t, Since(Now()-1000), time.Second)
}
