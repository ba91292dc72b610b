// Package cmdbus tracks how many commands are reserved on the command bus in
// each fixed-width time window.
package cmdbus

import (
	"fmt"

	"github.com/sarchlab/hybridmem/sim/timing"
)

// Tracker counts the commands issued in every command window. A window never
// holds more than the configured maximum.
type Tracker struct {
	window         timing.VTimeInCycle
	maxPerWindow   int
	reservedAtTick map[timing.VTimeInCycle]int
}

// New creates a Tracker with the given window width and per-window budget.
func New(window timing.VTimeInCycle, maxPerWindow int) *Tracker {
	if window == 0 {
		panic("command window must be positive")
	}

	if maxPerWindow < 2 {
		panic(fmt.Sprintf(
			"at least 2 commands per window are required, got %d",
			maxPerWindow))
	}

	return &Tracker{
		window:         window,
		maxPerWindow:   maxPerWindow,
		reservedAtTick: make(map[timing.VTimeInCycle]int),
	}
}

// Window returns the width of a command window.
func (t *Tracker) Window() timing.VTimeInCycle {
	return t.window
}

// MaxPerWindow returns the command budget of a window.
func (t *Tracker) MaxPerWindow() int {
	return t.maxPerWindow
}

// WindowOf returns the start of the window that contains the given time.
func (t *Tracker) WindowOf(at timing.VTimeInCycle) timing.VTimeInCycle {
	return at - at%t.window
}

// Count returns the number of commands reserved in the window starting at the
// given time.
func (t *Tracker) Count(windowStart timing.VTimeInCycle) int {
	return t.reservedAtTick[windowStart]
}

// NumWindows returns the number of windows that hold reservations.
func (t *Tracker) NumWindows() int {
	return len(t.reservedAtTick)
}

// ReserveSingle reserves a slot for one command that wants to issue at the
// given time. If the window is full, the command moves to the start of the
// next window with a free slot. It returns the time the command issues.
func (t *Tracker) ReserveSingle(at timing.VTimeInCycle) timing.VTimeInCycle {
	cmdAt := at
	windowStart := t.WindowOf(at)

	for t.reservedAtTick[windowStart] >= t.maxPerWindow {
		windowStart += t.window
		cmdAt = windowStart
	}

	t.reservedAtTick[windowStart]++

	return cmdAt
}

// ReserveMulti reserves slots for a two-command sequence whose second command
// wants to issue at the given time. The first command may issue up to
// maxSplit cycles before the second one. It returns the time the second
// command issues.
func (t *Tracker) ReserveMulti(
	at, maxSplit timing.VTimeInCycle,
) timing.VTimeInCycle {
	cmdAt := at
	secondWindow := t.WindowOf(at)

	offset := timing.VTimeInCycle(0)
	for maxSplit > at%t.window+offset {
		offset += t.window
	}

	firstWindow := secondWindow - min(offset, secondWindow)

	firstCanIssue := false
	secondCanIssue := false

	for !firstCanIssue || !secondCanIssue {
		sameWindow := firstWindow == secondWindow
		firstCount := t.reservedAtTick[firstWindow]

		secondCount := t.reservedAtTick[secondWindow]
		if sameWindow {
			secondCount = firstCount + 1
		}

		firstCanIssue = firstCount < t.maxPerWindow
		secondCanIssue = secondCount < t.maxPerWindow

		if !secondCanIssue {
			secondWindow += t.window
			cmdAt = secondWindow
		}

		gapViolated := !sameWindow && secondWindow-firstWindow > maxSplit
		if !firstCanIssue || (!secondCanIssue && gapViolated) {
			firstWindow += t.window
		}
	}

	t.reservedAtTick[firstWindow]++
	t.reservedAtTick[secondWindow]++

	return cmdAt
}

// Prune forgets the windows that ended at or before now.
func (t *Tracker) Prune(now timing.VTimeInCycle) {
	for start := range t.reservedAtTick {
		if start+t.window <= now {
			delete(t.reservedAtTick, start)
		}
	}
}
