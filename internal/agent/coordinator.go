package agent

import (
	"errors"
	"fmt"
)

// ErrInputRejected is returned for inputs that are not legal in the current
// state: blank submissions, submissions while a reply is outstanding, and
// actions that conflict with an active input source.
var ErrInputRejected = errors.New("input rejected")

// State is the input state of a session.
type State int

const (
	StateIdle State = iota
	StateComposing
	StateCapturingVoice
	StateStagingImage
	// StateResolving is the image analysis step of a submission.
	StateResolving
	// StateSubmitting covers the outstanding request to the advisory service.
	StateSubmitting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateComposing:
		return "composing"
	case StateCapturingVoice:
		return "capturing_voice"
	case StateStagingImage:
		return "staging_image"
	case StateResolving:
		return "resolving"
	case StateSubmitting:
		return "submitting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Awaiting reports whether a submission is in flight.
func (s State) Awaiting() bool { return s == StateResolving || s == StateSubmitting }

type Event int

const (
	EventCompose Event = iota
	EventClearText
	EventStartVoice
	EventVoiceEnded
	EventVoiceHeard
	EventStageImage
	EventRemoveImage
	EventSubmit
	EventAnalyzed
	EventAnalysisFailed
	EventResolved
)

var eventNames = [...]string{
	EventCompose:        "compose",
	EventClearText:      "clear_text",
	EventStartVoice:     "start_voice",
	EventVoiceEnded:     "voice_ended",
	EventVoiceHeard:     "voice_heard",
	EventStageImage:     "stage_image",
	EventRemoveImage:    "remove_image",
	EventSubmit:         "submit",
	EventAnalyzed:       "analyzed",
	EventAnalysisFailed: "analysis_failed",
	EventResolved:       "resolved",
}

func (e Event) String() string {
	if int(e) >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// transitions is the complete table of legal moves. A pair that is missing is
// rejected. StateIdle targets are resting states: they resolve to
// StateComposing when composed text remains.
var transitions = map[State]map[Event]State{
	StateIdle: {
		EventCompose:    StateComposing,
		EventClearText:  StateIdle,
		EventStartVoice: StateCapturingVoice,
		EventStageImage: StateStagingImage,
	},
	StateComposing: {
		EventCompose:    StateComposing,
		EventClearText:  StateIdle,
		EventStartVoice: StateCapturingVoice,
		EventStageImage: StateStagingImage,
		EventSubmit:     StateSubmitting,
	},
	StateCapturingVoice: {
		EventVoiceEnded: StateIdle,
		EventVoiceHeard: StateComposing,
	},
	StateStagingImage: {
		EventCompose:     StateStagingImage,
		EventClearText:   StateStagingImage,
		EventStageImage:  StateStagingImage,
		EventRemoveImage: StateIdle,
		EventSubmit:      StateResolving,
	},
	StateResolving: {
		EventAnalyzed:       StateSubmitting,
		EventAnalysisFailed: StateStagingImage,
	},
	StateSubmitting: {
		EventResolved: StateIdle,
	},
}

// Transition looks up the table entry for (s, e).
func Transition(s State, e Event) (State, bool) {
	next, ok := transitions[s][e]
	return next, ok
}

// TransitionError describes a rejected (state, event) pair.
type TransitionError struct {
	From  State
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("input rejected: %s while %s", e.Event, e.From)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInputRejected }

// Coordinator holds the current input state and applies the transition table.
// It does not own any session data; callers pass in whether composed text is
// present so resting transitions land in the right state.
type Coordinator struct {
	state State
}

func (c *Coordinator) State() State { return c.state }

// Can reports whether e is legal right now.
func (c *Coordinator) Can(e Event) bool {
	_, ok := Transition(c.state, e)
	return ok
}

// Fire applies e. On rejection the state is unchanged.
func (c *Coordinator) Fire(e Event, hasText bool) (State, error) {
	next, ok := Transition(c.state, e)
	if !ok {
		return c.state, &TransitionError{From: c.state, Event: e}
	}
	if next == StateIdle && hasText {
		next = StateComposing
	}
	c.state = next
	return next, nil
}
