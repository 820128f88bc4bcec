package swap

// State is a step of a swap attempt
type State string

const (
	StateResolving       State = "Resolving"
	StateQuoting         State = "Quoting"
	StateApprovalPending State = "ApprovalPending"
	StateBuilding        State = "Building"
	StateSigning         State = "Signing"
	StateSubmitting      State = "Submitting"
	StateConfirming      State = "Confirming"
	StateDone            State = "Done"
	StateFailed          State = "Failed"
)

// Description is a short human label for progress output
func (s State) Description() string {
	switch s {
	case StateResolving:
		return "Resolving tokens..."
	case StateQuoting:
		return "Fetching quote and checking balance..."
	case StateApprovalPending:
		return "Approving router and waiting for confirmation..."
	case StateBuilding:
		return "Building swap transaction..."
	case StateSigning:
		return "Signing transaction..."
	case StateSubmitting:
		return "Submitting transaction..."
	case StateConfirming:
		return "Waiting for confirmation..."
	case StateDone:
		return "Done"
	default:
		return string(s)
	}
}

// Terminal reports whether no further transition follows s
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
