package paapi_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/productcache/internal/adapter/driven/paapi"
)

func TestNewThrottle_RaisesRateBelowOne(t *testing.T) {
	assert.Equal(t, time.Second, paapi.NewThrottle(0).Interval())
	assert.Equal(t, time.Second, paapi.NewThrottle(0.25).Interval())
	assert.Equal(t, 500*time.Millisecond, paapi.NewThrottle(2).Interval())
}

func TestNewThrottle_NonFiniteRateFallsBackToOne(t *testing.T) {
	assert.Equal(t, time.Second, paapi.NewThrottle(math.NaN()).Interval())
	assert.Equal(t, time.Second, paapi.NewThrottle(math.Inf(1)).Interval())
}

func TestThrottle_NilIsUnlimited(t *testing.T) {
	var throttle *paapi.Throttle

	assert.NoError(t, throttle.Wait(context.Background()))
	assert.Zero(t, throttle.Interval())
}

func TestThrottle_FirstWaitIsImmediate(t *testing.T) {
	throttle := paapi.NewThrottle(1)

	start := time.Now()
	require.NoError(t, throttle.Wait(context.Background()))

	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestThrottle_WaitHonorsContext(t *testing.T) {
	throttle := paapi.NewThrottle(1)
	require.NoError(t, throttle.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := throttle.Wait(ctx)

	assert.Error(t, err, "the next slot is a second away")
}
