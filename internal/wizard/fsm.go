// Package wizard implements the step machine shared by the public intake
// funnel and the concierge onboarding flow.
//
// A wizard holds an ordered list of named steps, the current index and a
// transition phase. Moving between steps optionally plays an exit and an
// enter animation; the machine only records which phase it is in and leaves
// timing to whoever drives it, so callers can assert on state without timers.
package wizard

import "fmt"

// Phase is the transition state of a wizard.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseExiting  Phase = "exiting"
	PhaseEntering Phase = "entering"
)

// Event drives Transition.
type Event string

const (
	EventNext      Event = "next"
	EventPrev      Event = "prev"
	EventExitDone  Event = "exit_done"
	EventEnterDone Event = "enter_done"
)

// transitions lists the phase reachable from each phase per event.
var transitions = map[Phase]map[Event]Phase{
	PhaseIdle: {
		EventNext: PhaseExiting,
		EventPrev: PhaseExiting,
	},
	PhaseExiting: {
		EventExitDone: PhaseEntering,
	},
	PhaseEntering: {
		EventEnterDone: PhaseIdle,
	},
}

// Transition returns the phase that follows from applying evt in p. It
// returns an error when evt is not accepted in p; the phase is unchanged.
func Transition(p Phase, evt Event) (Phase, error) {
	next, ok := transitions[p][evt]
	if !ok {
		return p, fmt.Errorf("wizard: event %q not allowed in phase %q", evt, p)
	}
	return next, nil
}
