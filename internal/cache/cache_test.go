package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetBreakpointsDedupsAndSorts(t *testing.T) {
	c := New()
	c.SetBreakpoints("/repo/helpers.go", []int{10, 5, 10, 5, 7})
	assert.Equal(t, []int{5, 7, 10}, c.Breakpoints()["/repo/helpers.go"])
}

func TestSetBreakpointsEmptyRemovesEntry(t *testing.T) {
	c := New()
	c.SetBreakpoints("/repo/main.go", []int{8})
	c.SetBreakpoints("/repo/main.go", nil)
	_, ok := c.Breakpoints()["/repo/main.go"]
	assert.False(t, ok)
}

func TestBreakpointsSnapshotIsACopy(t *testing.T) {
	c := New()
	c.SetBreakpoints("/repo/main.go", []int{1, 2})
	snap := c.Breakpoints()
	snap["/repo/main.go"][0] = 999
	assert.Equal(t, []int{1, 2}, c.Breakpoints()["/repo/main.go"])
}

func TestLastStoppedNilBeforeFirstStop(t *testing.T) {
	c := New()
	assert.Nil(t, c.LastStopped())
}

func TestSetLastStoppedThenReset(t *testing.T) {
	c := New()
	c.SetLastStopped(StoppedEvent{ThreadId: 2, Reason: "breakpoint"})
	require := c.LastStopped()
	assert.Equal(t, 2, require.ThreadId)

	c.SetBreakpoints("/repo/main.go", []int{8})
	c.Reset()
	assert.Nil(t, c.LastStopped())
	assert.Empty(t, c.Breakpoints())
}
