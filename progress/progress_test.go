package progress

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 4, Next(0, true))
	assert.Equal(t, 100, Next(98, true))
	assert.Equal(t, 100, Next(100, true))
	assert.Equal(t, 0, Next(5, false))
	assert.Equal(t, 90, Next(100, false))
	assert.Equal(t, 0, Next(0, false))
	assert.Equal(t, 100, Next(250, true))
	assert.Equal(t, 4, Next(-40, true))
}

func TestMeter_FiresOnTwentyFifthTick(t *testing.T) {
	t.Parallel()

	require.Equal(t, 25, TicksToFull())

	var (
		meter Meter
		fires []int
	)

	for tick := 1; tick <= 40; tick++ {
		var fired bool

		meter, fired = meter.Advance(true)
		if fired {
			fires = append(fires, tick)
		}
	}

	assert.Equal(t, []int{25}, fires)
	assert.Equal(t, Full, meter.Progress)
	assert.True(t, meter.Latched)
}

func TestMeter_RearmsAfterDroppingBelowFull(t *testing.T) {
	t.Parallel()

	meter := Meter{Progress: 96}

	meter, fired := meter.Advance(true)
	require.True(t, fired)

	meter, fired = meter.Advance(false)
	require.False(t, fired)
	assert.False(t, meter.Latched)
	assert.Equal(t, 90, meter.Progress)

	for range 2 {
		meter, fired = meter.Advance(true)
		assert.False(t, fired)
	}

	meter, fired = meter.Advance(true)
	assert.True(t, fired)
	assert.Equal(t, Full, meter.Progress)
}

func TestMeter_JitterNeverCompletes(t *testing.T) {
	t.Parallel()

	var meter Meter

	// One good tick in every two cannot outrun the decay.
	for i := range 1000 {
		var fired bool

		meter, fired = meter.Advance(i%2 == 0)
		require.False(t, fired)
	}

	assert.Less(t, meter.Progress, Full)
}

func TestMeter_StaysInBounds(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2)) //nolint:gosec

	for range 50 {
		var meter Meter

		atFull := false

		for range 500 {
			var fired bool

			meter, fired = meter.Advance(rng.IntN(10) < 8)

			require.GreaterOrEqual(t, meter.Progress, 0)
			require.LessOrEqual(t, meter.Progress, Full)

			if fired {
				require.False(t, atFull, "fired twice in one run at full")
			}

			atFull = meter.Progress == Full
		}
	}
}

func TestMeter_Reset(t *testing.T) {
	t.Parallel()

	meter := Meter{Progress: Full, Latched: true}.Reset()
	assert.Equal(t, Meter{}, meter)
	assert.InDelta(t, 0.5, Meter{Progress: 50}.Percent(), 1e-9)
}
