package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterBreakpointsRetriesAfterServerNotAvailable(t *testing.T) {
	sess, sa := newScriptedAdapter(t)

	sess.breakpoints.seed(LaunchParams{
		Program:     "script.py",
		Breakpoints: []int{8},
	}, "script.py")

	done := make(chan struct{})
	go func() {
		sess.registerBreakpoints(context.Background(), phaseInitial)
		close(done)
	}()
	r := sa.next(time.Second)
	assert.Equal(t, "setBreakpoints", r.command)
	sa.reply(r.seq, false, "Server is not available", nil)
	<-done

	snap := sess.breakpoints.snapshot()
	entry := snap["script.py"]
	require.NotNil(t, entry)
	assert.Equal(t, bpFailed, entry.State)
	assert.Empty(t, sess.cache.Breakpoints())

	done2 := make(chan struct{})
	go func() {
		sess.registerBreakpoints(context.Background(), phasePostInit)
		close(done2)
	}()
	r2 := sa.next(time.Second)
	assert.Equal(t, "setBreakpoints", r2.command)
	sa.reply(r2.seq, true, "", map[string]interface{}{"breakpoints": []map[string]interface{}{{"verified": true, "line": 8}}})
	<-done2

	snap2 := sess.breakpoints.snapshot()
	entry2 := snap2["script.py"]
	assert.Equal(t, bpVerified, entry2.State)
	assert.Len(t, entry2.Attempts, 2)

	bps := sess.cache.Breakpoints()
	require.Contains(t, bps, entry2.ResolvedPath)
	assert.Equal(t, []int{8}, bps[entry2.ResolvedPath])
}

func TestRegisterBreakpointsSkipsAlreadyVerifiedSource(t *testing.T) {
	sess, sa := newScriptedAdapter(t)

	sess.breakpoints.seed(LaunchParams{
		Program:     "script.py",
		Breakpoints: []int{8},
	}, "script.py")

	done := make(chan struct{})
	go func() {
		sess.registerBreakpoints(context.Background(), phaseInitial)
		close(done)
	}()
	r := sa.next(time.Second)
	sa.reply(r.seq, true, "", nil)
	<-done

	// A second phase should not issue any further setBreakpoints call
	// since the only entry is already verified.
	sess.registerBreakpoints(context.Background(), phasePostInit)

	select {
	case r := <-sa.in:
		t.Fatalf("unexpected request after verification: %s", r.command)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSeedAddsLine1BreakpointOnStopOnEntry(t *testing.T) {
	sess, _ := newScriptedAdapter(t)
	sess.breakpoints.seed(LaunchParams{
		Program:     "script.py",
		StopOnEntry: true,
	}, "script.py")

	snap := sess.breakpoints.snapshot()
	entry := snap["script.py"]
	require.NotNil(t, entry)
	assert.Equal(t, []int{1}, entry.RequestedLines)
}

func TestSeedBreakpointsBySourceKeyedIndependently(t *testing.T) {
	sess, _ := newScriptedAdapter(t)
	sess.breakpoints.seed(LaunchParams{
		Program:     "script.py",
		Breakpoints: []int{8},
		BreakpointsBySource: map[string][]int{
			"helpers.py": {5, 10},
		},
	}, "script.py")

	snap := sess.breakpoints.snapshot()
	assert.Contains(t, snap, "script.py")
	assert.Contains(t, snap, "helpers.py")
	assert.Equal(t, []int{5, 10}, snap["helpers.py"].RequestedLines)
}
