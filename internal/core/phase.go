package core

import "fmt"

// Phase represents a stage in a conversation session's progress toward
// a deployed workflow.
type Phase string

const (
	// PhaseGathering is the initial phase where free-form facts from the
	// requester are accumulated into the draft requirements.
	PhaseGathering Phase = "gathering"

	// PhaseScoping checks whether enough structured information exists to
	// attempt a design. Incomplete requirements keep the session here with
	// a clarifying question.
	PhaseScoping Phase = "scoping"

	// PhaseValidating checks the requirements against the capability set
	// of the workflow engine. Unsupported capabilities send the session
	// back to scoping with an explanation.
	PhaseValidating Phase = "validating"

	// PhaseDesigning converts the requirements into a workflow definition.
	PhaseDesigning Phase = "designing"

	// PhaseDeploying submits the definition to the workflow engine.
	PhaseDeploying Phase = "deploying"

	// PhaseCompleted is the terminal state after a successful deployment.
	PhaseCompleted Phase = "completed"

	// PhaseFailed is the terminal state reachable from any non-terminal
	// phase when design or deployment fails.
	PhaseFailed Phase = "failed"
)

// AllPhases returns the non-terminal-failure phases in progression order.
func AllPhases() []Phase {
	return []Phase{
		PhaseGathering,
		PhaseScoping,
		PhaseValidating,
		PhaseDesigning,
		PhaseDeploying,
		PhaseCompleted,
	}
}

// PhaseOrder returns the numeric order of a phase (0-indexed).
// PhaseFailed has no position in the forward ordering and returns -1,
// as does any unknown phase.
func PhaseOrder(p Phase) int {
	switch p {
	case PhaseGathering:
		return 0
	case PhaseScoping:
		return 1
	case PhaseValidating:
		return 2
	case PhaseDesigning:
		return 3
	case PhaseDeploying:
		return 4
	case PhaseCompleted:
		return 5
	default:
		return -1
	}
}

// NextPhase returns the phase following the given phase in the forward
// progression. Returns empty string for terminal or unknown phases.
func NextPhase(p Phase) Phase {
	switch p {
	case PhaseGathering:
		return PhaseScoping
	case PhaseScoping:
		return PhaseValidating
	case PhaseValidating:
		return PhaseDesigning
	case PhaseDesigning:
		return PhaseDeploying
	case PhaseDeploying:
		return PhaseCompleted
	default:
		return ""
	}
}

// Terminal reports whether the phase ends the session.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// ValidPhase checks if a phase string is valid.
func ValidPhase(p Phase) bool {
	switch p {
	case PhaseGathering, PhaseScoping, PhaseValidating, PhaseDesigning,
		PhaseDeploying, PhaseCompleted, PhaseFailed:
		return true
	default:
		return false
	}
}

// ParsePhase converts a string to a Phase with validation.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !ValidPhase(p) {
		return "", fmt.Errorf("invalid phase: %s", s)
	}
	return p, nil
}

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// Description returns a human-readable description of the phase.
func (p Phase) Description() string {
	switch p {
	case PhaseGathering:
		return "Collect free-form facts about the desired automation"
	case PhaseScoping:
		return "Determine whether the requirements are complete enough to design"
	case PhaseValidating:
		return "Check the requirements against engine capabilities"
	case PhaseDesigning:
		return "Shape the requirements into a workflow definition"
	case PhaseDeploying:
		return "Submit the definition to the workflow engine"
	case PhaseCompleted:
		return "Workflow deployed"
	case PhaseFailed:
		return "Session failed"
	default:
		return "Unknown phase"
	}
}
