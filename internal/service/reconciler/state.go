package reconciler

import (
	"time"

	"github.com/oshokin/firefox-package/internal/domain/firefox"
)

// State is a step of the install state machine.
type State string

// Install states. Install runs Absent through Installed; remove runs Installed, Removing, Absent.
const (
	StateAbsent    State = "absent"
	StateResolving State = "resolving"
	StateFetching  State = "fetching"
	StateVerifying State = "verifying"
	StateApplying  State = "applying"
	StateInstalled State = "installed"
	StateRemoving  State = "removing"
)

// String returns the state name.
func (s State) String() string {
	return string(s)
}

// Transition is one recorded state change.
type Transition struct {
	// From is the state that was left.
	From State
	// To is the state that was entered.
	To State
	// At is when the change happened.
	At time.Time
}

// Outcome reports what a reconciliation did.
type Outcome struct {
	// Request is the defaulted copy the run worked on.
	Request *firefox.Request
	// Platform is the normalized platform.
	Platform firefox.Platform
	// Final is the last state reached. On failure it is the state that failed.
	Final State
	// Transitions lists every state change in order.
	Transitions []Transition
	// Filename is the resolved artifact name.
	Filename string
	// Artifact is the local path of the downloaded artifact.
	Artifact string
	// Downloaded is true when the artifact was fetched during this run.
	Downloaded bool
	// Changed is true when the host was modified.
	Changed bool
	// Record describes the installed version. Nil until Installed, or the removed record on remove.
	Record *firefox.Record
	// Replaced are the records removed by the upgrade policy.
	Replaced []*firefox.Record

	// now stamps transitions.
	now func() time.Time
}

func newOutcome(req *firefox.Request, platform firefox.Platform, initial State, now func() time.Time) *Outcome {
	return &Outcome{
		Request:  req,
		Platform: platform,
		Final:    initial,
		now:      now,
	}
}

// enter records a move to the next state.
func (o *Outcome) enter(next State) Transition {
	transition := Transition{
		From: o.Final,
		To:   next,
		At:   o.now().UTC(),
	}

	o.Transitions = append(o.Transitions, transition)
	o.Final = next

	return transition
}

// Path returns the states visited, starting with the initial one.
func (o *Outcome) Path() []State {
	if len(o.Transitions) == 0 {
		return []State{o.Final}
	}

	path := make([]State, 0, len(o.Transitions)+1)
	path = append(path, o.Transitions[0].From)

	for _, transition := range o.Transitions {
		path = append(path, transition.To)
	}

	return path
}
