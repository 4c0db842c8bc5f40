package botstatus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromProviderCode(t *testing.T) {
	tests := []struct {
		code string
		want Status
	}{
		{"joining_call", Joining},
		{"in_waiting_room", Waiting},
		{"in_call_not_recording", InCall},
		{"in_call_recording", Recording},
		{"done", Completed},
		{"call_ended", Completed},
		{"fatal", Failed},
		{"error", Failed},
		{"recording_permission_denied", PermissionDenied},
		{"  DONE ", Completed},
		{"media_expired", Unknown},
		{"", Unknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FromProviderCode(tt.code), "code %q", tt.code)
	}
}

func TestReasonFromSubCode(t *testing.T) {
	r, ok := ReasonFromSubCode("")
	assert.True(t, ok)
	assert.Equal(t, ReasonNone, r)

	r, ok = ReasonFromSubCode("bot_kicked_from_call")
	assert.True(t, ok)
	assert.Equal(t, ReasonKicked, r)

	r, ok = ReasonFromSubCode("zoom_sdk_exploded")
	assert.False(t, ok)
	assert.Equal(t, ReasonUnknown, r)
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []Status{Completed, Failed, PermissionDenied, LimitExceeded} {
		assert.True(t, s.IsTerminal(), s)
	}
	for _, s := range NonTerminal() {
		assert.False(t, s.IsTerminal(), s)
	}
	assert.False(t, Unknown.IsTerminal())
	assert.False(t, Unknown.IsKnown())
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name         string
		current      Status
		next         Status
		wantDecision Decision
		wantReason   IgnoreReason
	}{
		{"forward", Joining, Waiting, Advance, IgnoreNone},
		{"skip ahead", Created, Recording, Advance, IgnoreNone},
		{"duplicate", Recording, Recording, Ignore, IgnoreDuplicate},
		{"late in_call after recording", Recording, InCall, Ignore, IgnoreRegression},
		{"late joining after waiting", Waiting, Joining, Ignore, IgnoreRegression},
		{"terminal wins over early state", Joining, Completed, Finalize, IgnoreNone},
		{"terminal wins over recording", Recording, Failed, Finalize, IgnoreNone},
		{"nothing leaves completed", Completed, Recording, Ignore, IgnoreAlreadyFinal},
		{"terminal does not replace terminal", Completed, Failed, Ignore, IgnoreAlreadyFinal},
		{"duplicate terminal", Completed, Completed, Ignore, IgnoreDuplicate},
		{"unknown never applied", Recording, Unknown, Ignore, IgnoreUnknownStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, r := Decide(tt.current, tt.next)
			assert.Equal(t, tt.wantDecision, d)
			assert.Equal(t, tt.wantReason, r)
		})
	}
}

func TestDecide_AnyPermutationEndsTerminal(t *testing.T) {
	events := []Status{Joining, Waiting, InCall, Recording}
	perms := permutations(events)
	for _, p := range perms {
		current := Created
		for _, next := range append(p, Completed) {
			if d, _ := Decide(current, next); d != Ignore {
				current = next
			}
		}
		assert.Equal(t, Completed, current, "permutation %v", p)
	}
}

func permutations(in []Status) [][]Status {
	if len(in) <= 1 {
		return [][]Status{append([]Status(nil), in...)}
	}
	var out [][]Status
	for i := range in {
		rest := make([]Status, 0, len(in)-1)
		rest = append(rest, in[:i]...)
		rest = append(rest, in[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]Status{in[i]}, p...))
		}
	}
	return out
}
