// Package botstatus holds the canonical bot status vocabulary, the fixed
// provider code table and the transition rule shared by the webhook and
// polling paths.
package botstatus

type Status string

const (
	Created          Status = "created"
	Joining          Status = "joining"
	Waiting          Status = "waiting"
	InCall           Status = "in_call"
	Recording        Status = "recording"
	Completed        Status = "completed"
	Failed           Status = "failed"
	PermissionDenied Status = "permission_denied"
	LimitExceeded    Status = "limit_exceeded"
	Unknown          Status = "unknown"
)

// rank orders the non-terminal states. Terminal states share the top rank.
var rank = map[Status]int{
	Created:          0,
	Joining:          1,
	Waiting:          2,
	InCall:           3,
	Recording:        4,
	Completed:        5,
	Failed:           5,
	PermissionDenied: 5,
	LimitExceeded:    5,
}

func (s Status) IsTerminal() bool {
	switch s {
	case Completed, Failed, PermissionDenied, LimitExceeded:
		return true
	default:
		return false
	}
}

// IsKnown reports whether s is part of the ordered vocabulary. Unknown is not.
func (s Status) IsKnown() bool {
	_, ok := rank[s]
	return ok
}

func (s Status) String() string {
	return string(s)
}

// NonTerminal lists the states the sweeper treats as active.
func NonTerminal() []Status {
	return []Status{Created, Joining, Waiting, InCall, Recording}
}
