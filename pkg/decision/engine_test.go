package decision

import (
	"math/rand"
	"testing"
	"time"

	"github.com/cuemby/natfailover/pkg/config"
	"github.com/cuemby/natfailover/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testConfig(threshold int, window time.Duration) *config.FailoverConfig {
	return &config.FailoverConfig{
		Node: types.IdentityA,
		Self: types.Node{
			Identity:          types.IdentityA,
			InstanceID:        "i-aaaa",
			PrivateRouteTable: "rtb-private-a",
			SharedRouteTable:  "rtb-shared-a",
		},
		Peer: types.Node{
			Identity:          types.IdentityB,
			InstanceID:        "i-bbbb",
			PrivateRouteTable: "rtb-private-b",
			SharedRouteTable:  "rtb-shared-b",
		},
		PingCount:      threshold,
		RecoveryWindow: window,
	}
}

// feed applies samples two seconds apart and returns every decision
func feed(e *Engine, start time.Time, samples ...bool) []Decision {
	decisions := make([]Decision, 0, len(samples))
	for i, alive := range samples {
		decisions = append(decisions, e.Observe(alive, start.Add(time.Duration(i)*2*time.Second)))
	}
	return decisions
}

func states(decisions []Decision) []types.PeerState {
	out := []types.PeerState{decisions[0].From}
	for _, d := range decisions {
		out = append(out, d.To)
	}
	return out
}

func countIntents(decisions []Decision) int {
	n := 0
	for _, d := range decisions {
		if d.Intent != nil {
			n++
		}
	}
	return n
}

func TestEngine_InitialStateHealthy(t *testing.T) {
	e := NewEngine(testConfig(10, time.Minute))
	assert.Equal(t, types.PeerStateHealthy, e.State())
	assert.Zero(t, e.ConsecutiveFailures())
}

// TestEngine_TakeoverAtThreshold covers threshold=3 with probes
// ok, fail, fail, fail
func TestEngine_TakeoverAtThreshold(t *testing.T) {
	e := NewEngine(testConfig(3, time.Minute))

	decisions := feed(e, epoch, true, false, false, false)

	assert.Equal(t, []types.PeerState{
		types.PeerStateHealthy,
		types.PeerStateHealthy,
		types.PeerStateSuspect,
		types.PeerStateSuspect,
		types.PeerStateDown,
	}, states(decisions))

	assert.Equal(t, 1, countIntents(decisions))
	last := decisions[3]
	require.NotNil(t, last.Intent)
	assert.Equal(t, types.PowerActionStop, last.Power)
	assert.Equal(t, 3, last.ConsecutiveFailures)

	// Both own tables and both peer tables point at self
	assert.Equal(t, types.RouteIntent{
		"rtb-private-a": "i-aaaa",
		"rtb-shared-a":  "i-aaaa",
		"rtb-private-b": "i-aaaa",
		"rtb-shared-b":  "i-aaaa",
	}, last.Intent)
}

func TestEngine_ThresholdMinusOneThenSuccessDoesNotTakeOver(t *testing.T) {
	e := NewEngine(testConfig(10, time.Minute))

	samples := make([]bool, 0, 10)
	for i := 0; i < 9; i++ {
		samples = append(samples, false)
	}
	samples = append(samples, true)

	decisions := feed(e, epoch, samples...)

	assert.Zero(t, countIntents(decisions))
	assert.Equal(t, types.PeerStateHealthy, e.State())
	assert.Zero(t, e.ConsecutiveFailures())
	for _, d := range decisions {
		assert.NotEqual(t, types.PeerStateDown, d.To)
	}
}

func TestEngine_ThresholdOneGoesStraightDown(t *testing.T) {
	e := NewEngine(testConfig(1, time.Minute))

	d := e.Observe(false, epoch)

	assert.Equal(t, types.PeerStateHealthy, d.From)
	assert.Equal(t, types.PeerStateDown, d.To)
	assert.NotNil(t, d.Intent)
}

func TestEngine_StaysDownWhileFailing(t *testing.T) {
	e := NewEngine(testConfig(2, time.Minute))

	decisions := feed(e, epoch, false, false, false, false, false)

	assert.Equal(t, 1, countIntents(decisions))
	assert.Equal(t, types.PeerStateDown, e.State())
	assert.Equal(t, 5, e.ConsecutiveFailures())
}

// TestEngine_RecoveryInterrupted covers DOWN with probes fail, fail,
// ok followed by a failure inside the recovery window
func TestEngine_RecoveryInterrupted(t *testing.T) {
	e := NewEngine(testConfig(2, 5*time.Minute))
	feed(e, epoch, false, false)
	require.Equal(t, types.PeerStateDown, e.State())

	start := epoch.Add(time.Minute)
	decisions := feed(e, start, false, false, true)

	assert.Equal(t, types.PeerStateDown, decisions[0].To)
	assert.Equal(t, types.PeerStateDown, decisions[1].To)
	assert.Equal(t, types.PeerStateRecovering, decisions[2].To)
	assert.Equal(t, start.Add(4*time.Second), e.RecoveringSince())

	d := e.Observe(false, start.Add(10*time.Second))
	assert.Equal(t, types.PeerStateRecovering, d.From)
	assert.Equal(t, types.PeerStateDown, d.To)
	assert.Nil(t, d.Intent, "falling back to down must not re-emit the takeover")
	assert.Equal(t, types.PowerActionNone, d.Power)
	assert.True(t, e.RecoveringSince().IsZero())
}

// TestEngine_RecoveryCompletes covers a full recovery window of
// successful probes
func TestEngine_RecoveryCompletes(t *testing.T) {
	window := 30 * time.Second
	e := NewEngine(testConfig(2, window))
	feed(e, epoch, false, false)

	recoverAt := epoch.Add(time.Minute)
	var decisions []Decision
	for elapsed := time.Duration(0); elapsed <= window+4*time.Second; elapsed += 2 * time.Second {
		decisions = append(decisions, e.Observe(true, recoverAt.Add(elapsed)))
	}

	assert.Equal(t, types.PeerStateHealthy, e.State())
	assert.Equal(t, 1, countIntents(decisions), "handback must be emitted exactly once")

	var handback Decision
	for _, d := range decisions {
		if d.Intent != nil {
			handback = d
		}
	}
	assert.Equal(t, types.PeerStateRecovering, handback.From)
	assert.Equal(t, types.PeerStateHealthy, handback.To)
	assert.Equal(t, recoverAt.Add(window), handback.At)
	assert.Equal(t, types.PowerActionStart, handback.Power)

	// Only the peer's tables go back; self keeps its own
	assert.Equal(t, types.RouteIntent{
		"rtb-private-b": "i-bbbb",
		"rtb-shared-b":  "i-bbbb",
	}, handback.Intent)
}

func TestEngine_RecoveryWindowResetsAfterFailure(t *testing.T) {
	window := 20 * time.Second
	e := NewEngine(testConfig(1, window))
	e.Observe(false, epoch)

	e.Observe(true, epoch.Add(10*time.Second))
	e.Observe(false, epoch.Add(25*time.Second))
	e.Observe(true, epoch.Add(30*time.Second))

	// 20s after the first success would be enough, but the window restarted
	d := e.Observe(true, epoch.Add(40*time.Second))
	assert.Equal(t, types.PeerStateRecovering, d.To)

	d = e.Observe(true, epoch.Add(50*time.Second))
	assert.Equal(t, types.PeerStateHealthy, d.To)
}

func TestEngine_IntentIsACopy(t *testing.T) {
	e := NewEngine(testConfig(1, time.Second))
	d := e.Observe(false, epoch)
	d.Intent["rtb-private-a"] = "i-other"

	e.Observe(true, epoch.Add(time.Second))
	e.Observe(true, epoch.Add(3*time.Second))
	d = e.Observe(false, epoch.Add(5*time.Second))

	// A second takeover still carries the configured targets
	require.NotNil(t, d.Intent)
	assert.Equal(t, "i-aaaa", d.Intent["rtb-private-a"])
}

func TestEngine_CounterTracksTrailingFailureRun(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 50; run++ {
		threshold := 1 + rng.Intn(5)
		e := NewEngine(testConfig(threshold, 10*time.Second))

		trailing := 0
		now := epoch
		for i := 0; i < 200; i++ {
			alive := rng.Intn(3) == 0
			before := e.State()
			d := e.Observe(alive, now)
			now = now.Add(2 * time.Second)

			if alive {
				trailing = 0
			} else {
				trailing++
			}
			require.Equal(t, trailing, d.ConsecutiveFailures)

			// Takeover happens exactly when the run reaches the threshold
			// from a non-down state
			enteredDown := d.To == types.PeerStateDown &&
				(before == types.PeerStateHealthy || before == types.PeerStateSuspect)
			if enteredDown {
				require.GreaterOrEqual(t, trailing, threshold)
				require.NotNil(t, d.Intent)
			}
			if (before == types.PeerStateHealthy || before == types.PeerStateSuspect) && trailing < threshold {
				require.NotEqual(t, types.PeerStateDown, d.To)
			}
		}
	}
}

func TestEngine_CurrentDoesNotObserve(t *testing.T) {
	e := NewEngine(testConfig(3, time.Minute))
	feed(e, epoch, false, false)

	d := e.Current(epoch.Add(time.Minute))
	assert.False(t, d.Changed())
	assert.Equal(t, types.PeerStateSuspect, d.To)
	assert.Equal(t, 2, d.ConsecutiveFailures)
	assert.Nil(t, d.Intent)

	// The run is still two long: one more failure takes the peer down
	assert.Equal(t, types.PeerStateDown, e.Observe(false, epoch.Add(2*time.Minute)).To)
}
