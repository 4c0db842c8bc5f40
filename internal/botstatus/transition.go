package botstatus

type Decision int

const (
	// Ignore leaves the session untouched.
	Ignore Decision = iota
	// Advance moves the session to a later non-terminal state.
	Advance
	// Finalize moves the session into a terminal state and closes billing.
	Finalize
)

func (d Decision) String() string {
	switch d {
	case Advance:
		return "advance"
	case Finalize:
		return "finalize"
	default:
		return "ignore"
	}
}

type IgnoreReason string

const (
	IgnoreNone          IgnoreReason = ""
	IgnoreUnknownStatus IgnoreReason = "unknown_status"
	IgnoreAlreadyFinal  IgnoreReason = "already_terminal"
	IgnoreDuplicate     IgnoreReason = "duplicate"
	IgnoreRegression    IgnoreReason = "regression"
)

// Decide applies the transition rule: nothing leaves a terminal state, a
// terminal state always wins over a non-terminal one, and non-terminal states
// only move forward.
func Decide(current, next Status) (Decision, IgnoreReason) {
	if !next.IsKnown() {
		return Ignore, IgnoreUnknownStatus
	}
	if current.IsTerminal() {
		if current == next {
			return Ignore, IgnoreDuplicate
		}
		return Ignore, IgnoreAlreadyFinal
	}
	if next.IsTerminal() {
		return Finalize, IgnoreNone
	}
	if current == next {
		return Ignore, IgnoreDuplicate
	}
	if rank[next] < rank[current] {
		return Ignore, IgnoreRegression
	}
	return Advance, IgnoreNone
}
