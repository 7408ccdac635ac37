package motion_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/watchkeeper/internal/motion"
	"github.com/solatis/watchkeeper/internal/testutil"
	"github.com/solatis/watchkeeper/internal/types"
)

var start = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newMachine(t *testing.T) (*motion.Machine, *testutil.ManualClock, *motion.Hub, *testutil.RecordingPublisher) {
	t.Helper()
	clock := testutil.NewManualClock(start)
	hub := motion.NewHub()
	pub := &testutil.RecordingPublisher{}
	m := motion.NewMachine("front", pub, motion.WithClock(clock), motion.WithSignals(hub))
	return m, clock, hub, pub
}

func TestMachine_TriggerPublishesActiveOnce(t *testing.T) {
	m, clock, hub, pub := newMachine(t)

	require.True(t, m.Trigger(15*time.Second, &types.StateDetail{RuleID: "r"}))
	clock.Advance(5 * time.Second)
	require.False(t, m.Trigger(15*time.Second, nil))

	assert.Equal(t, 1, pub.Count(true))
	assert.Equal(t, 0, pub.Count(false))
	assert.Equal(t, start.Add(20*time.Second), m.Deadline(), "deadline follows the latest trigger")
	assert.Equal(t, 1, clock.Pending(), "exactly one timer armed")
	assert.Equal(t, 1, hub.Subscribers("front"), "exactly one listener armed")
	assert.Equal(t, types.RuleID("r"), pub.States()[0].Detail.RuleID)
}

func TestMachine_RearmExtendsWindow(t *testing.T) {
	m, clock, _, pub := newMachine(t)

	m.Trigger(15*time.Second, nil)
	clock.Advance(10 * time.Second)
	m.Trigger(15*time.Second, nil)

	// Original deadline passes without release.
	clock.Advance(10 * time.Second)
	assert.True(t, m.Active())
	assert.Equal(t, 0, pub.Count(false))

	clock.Advance(5 * time.Second)
	assert.False(t, m.Active())
	assert.Equal(t, 1, pub.Count(false))
}

func TestMachine_DeviceEndCancelsTimer(t *testing.T) {
	m, clock, hub, pub := newMachine(t)

	m.Trigger(15*time.Second, nil)
	hub.Publish(types.MotionSignal{DeviceID: "front", Motion: true})
	assert.True(t, m.Active(), "motion=true does not release")

	hub.Publish(types.MotionSignal{DeviceID: "front", Motion: false})
	assert.False(t, m.Active())
	assert.Equal(t, 0, clock.Pending(), "timer cancelled")
	assert.Equal(t, 0, hub.Subscribers("front"))

	clock.Advance(time.Minute)
	assert.Equal(t, 1, pub.Count(false), "no duplicate inactive publish")
}

func TestMachine_TimerCancelsListener(t *testing.T) {
	m, clock, hub, pub := newMachine(t)

	m.Trigger(15*time.Second, nil)
	clock.Advance(15 * time.Second)

	assert.False(t, m.Active())
	assert.Equal(t, 0, hub.Subscribers("front"), "listener unsubscribed")

	hub.Publish(types.MotionSignal{DeviceID: "front", Motion: false})
	assert.Equal(t, 1, pub.Count(false))
}

func TestMachine_OtherDeviceSignalIgnored(t *testing.T) {
	m, _, hub, _ := newMachine(t)

	m.Trigger(15*time.Second, nil)
	hub.Publish(types.MotionSignal{DeviceID: "back", Motion: false})
	assert.True(t, m.Active())
}

func TestMachine_CloseCleansUpWithoutPublishing(t *testing.T) {
	m, clock, hub, pub := newMachine(t)

	m.Trigger(15*time.Second, nil)
	m.Close()

	assert.False(t, m.Active())
	assert.Equal(t, 0, clock.Pending())
	assert.Equal(t, 0, hub.Subscribers("front"))

	clock.Advance(time.Minute)
	assert.Equal(t, 0, pub.Count(false))

	assert.False(t, m.Trigger(15*time.Second, nil), "closed machine ignores triggers")
	assert.Equal(t, 1, pub.Count(true))
}

func TestMachine_ReactivatesAfterRelease(t *testing.T) {
	m, clock, _, pub := newMachine(t)

	var transitions []motion.State
	m2 := motion.NewMachine("front", pub, motion.WithClock(clock), motion.WithObserver(func(_ types.DeviceID, s motion.State, _ string) {
		transitions = append(transitions, s)
	}))

	m.Trigger(time.Second, nil)
	m2.Trigger(time.Second, nil)
	clock.Advance(time.Second)
	m2.Trigger(time.Second, nil)

	assert.Equal(t, []motion.State{motion.Active, motion.Inactive, motion.Active}, transitions)
	assert.Equal(t, 3, pub.Count(true))
}
