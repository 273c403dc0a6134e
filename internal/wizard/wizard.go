package wizard

import (
	"errors"
	"fmt"
	"slices"
)

// ErrUnknownStep is returned when a step name is not part of the wizard.
var ErrUnknownStep = errors.New("wizard: unknown step")

// State is the serialisable snapshot of a wizard. It is what drafts persist.
type State[D any] struct {
	Steps    []string `json:"steps"`
	Index    int      `json:"index"`
	Phase    Phase    `json:"phase"`
	Pending  int      `json:"pending"` // target index while a transition is in flight
	Animated bool     `json:"animated"`
	Data     D        `json:"data"`
}

// Wizard is a step machine over form data D updated by patches P.
// It is not safe for concurrent use.
type Wizard[D, P any] struct {
	state State[D]
	merge func(D, P) D
}

// New creates a wizard positioned at the first step with initial data.
func New[D, P any](steps []string, data D, merge func(D, P) D, animated bool) *Wizard[D, P] {
	return &Wizard[D, P]{
		state: State[D]{
			Steps:    slices.Clone(steps),
			Phase:    PhaseIdle,
			Animated: animated,
			Data:     data,
		},
		merge: merge,
	}
}

// Restore rebuilds a wizard from a snapshot.
func Restore[D, P any](s State[D], merge func(D, P) D) *Wizard[D, P] {
	if s.Phase == "" {
		s.Phase = PhaseIdle
	}
	return &Wizard[D, P]{state: s, merge: merge}
}

// State returns a copy of the current snapshot.
func (w *Wizard[D, P]) State() State[D] {
	s := w.state
	s.Steps = slices.Clone(s.Steps)
	return s
}

func (w *Wizard[D, P]) Data() D      { return w.state.Data }
func (w *Wizard[D, P]) Index() int   { return w.state.Index }
func (w *Wizard[D, P]) Phase() Phase { return w.state.Phase }

// Current returns the name of the step being shown.
func (w *Wizard[D, P]) Current() string {
	return w.state.Steps[w.state.Index]
}

// IsLast reports whether the current step is the final one.
func (w *Wizard[D, P]) IsLast() bool {
	return w.state.Index == len(w.state.Steps)-1
}

// Transitioning reports whether an exit or enter phase is in flight.
func (w *Wizard[D, P]) Transitioning() bool {
	return w.state.Phase != PhaseIdle
}

// Next moves one step forward. It is a no-op returning false when a
// transition is in flight or the wizard is already on the last step.
func (w *Wizard[D, P]) Next() bool {
	if w.Transitioning() || w.IsLast() {
		return false
	}
	return w.begin(EventNext, w.state.Index+1)
}

// Prev moves one step back. It is a no-op returning false when a transition
// is in flight or the wizard is on the first step. Prev never merges data.
func (w *Wizard[D, P]) Prev() bool {
	if w.Transitioning() || w.state.Index == 0 {
		return false
	}
	return w.begin(EventPrev, w.state.Index-1)
}

// Goto jumps to the named step from idle.
func (w *Wizard[D, P]) Goto(step string) (bool, error) {
	idx := slices.Index(w.state.Steps, step)
	if idx < 0 {
		return false, fmt.Errorf("%w: %s", ErrUnknownStep, step)
	}
	if w.Transitioning() || idx == w.state.Index {
		return false, nil
	}
	evt := EventNext
	if idx < w.state.Index {
		evt = EventPrev
	}
	return w.begin(evt, idx), nil
}

func (w *Wizard[D, P]) begin(evt Event, target int) bool {
	phase, err := Transition(w.state.Phase, evt)
	if err != nil {
		return false
	}
	if !w.state.Animated {
		w.state.Index = target
		return true
	}
	w.state.Phase = phase
	w.state.Pending = target
	return true
}

// Advance completes the current animation phase: exiting swaps the rendered
// step and starts entering, entering returns to idle. It returns false when
// nothing is in flight.
func (w *Wizard[D, P]) Advance() bool {
	switch w.state.Phase {
	case PhaseExiting:
		phase, err := Transition(w.state.Phase, EventExitDone)
		if err != nil {
			return false
		}
		w.state.Index = w.state.Pending
		w.state.Phase = phase
		return true
	case PhaseEntering:
		phase, err := Transition(w.state.Phase, EventEnterDone)
		if err != nil {
			return false
		}
		w.state.Phase = phase
		return true
	default:
		return false
	}
}

// Settle runs Advance until the wizard is idle.
func (w *Wizard[D, P]) Settle() {
	for w.Advance() {
	}
}

// Update shallow-merges patch into the form data. No validation happens here.
func (w *Wizard[D, P]) Update(patch P) {
	w.state.Data = w.merge(w.state.Data, patch)
}
