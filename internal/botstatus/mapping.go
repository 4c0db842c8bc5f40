package botstatus

import "strings"

var providerCodes = map[string]Status{
	"ready":                        Created,
	"joining_call":                 Joining,
	"in_waiting_room":              Waiting,
	"in_call_not_recording":        InCall,
	"in_call":                      InCall,
	"recording_permission_allowed": InCall,
	"in_call_recording":            Recording,
	"recording_permission_denied":  PermissionDenied,
	"call_ended":                   Completed,
	"done":                         Completed,
	"fatal":                        Failed,
	"error":                        Failed,
	"limit_exceeded":               LimitExceeded,
}

// FromProviderCode maps a raw provider status code onto the canonical
// vocabulary. Codes outside the table map to Unknown and must not be applied.
func FromProviderCode(code string) Status {
	s, ok := providerCodes[strings.ToLower(strings.TrimSpace(code))]
	if !ok {
		return Unknown
	}
	return s
}

type FailureReason string

const (
	ReasonNone                     FailureReason = ""
	ReasonMeetingNotFound          FailureReason = "meeting_not_found"
	ReasonMeetingPasswordIncorrect FailureReason = "meeting_password_incorrect"
	ReasonKicked                   FailureReason = "kicked"
	ReasonWaitingRoomTimeout       FailureReason = "waiting_room_timeout"
	ReasonNoParticipants           FailureReason = "no_participants"
	ReasonEveryoneLeft             FailureReason = "everyone_left"
	ReasonPermissionDenied         FailureReason = "permission_denied"
	ReasonMeetingEnded             FailureReason = "meeting_ended"
	ReasonInternalError            FailureReason = "internal_error"
	ReasonUsageLimit               FailureReason = "usage_limit"
	ReasonBotNotFound              FailureReason = "bot_not_found"
	ReasonUnknown                  FailureReason = "unknown"
)

var subCodes = map[string]FailureReason{
	"meeting_not_found":                   ReasonMeetingNotFound,
	"meeting_not_started":                 ReasonMeetingNotFound,
	"meeting_password_incorrect":          ReasonMeetingPasswordIncorrect,
	"bot_kicked_from_call":                ReasonKicked,
	"bot_kicked_from_waiting_room":        ReasonKicked,
	"timeout_exceeded_waiting_room":       ReasonWaitingRoomTimeout,
	"timeout_exceeded_noone_joined":       ReasonNoParticipants,
	"timeout_exceeded_only_bots_detected": ReasonNoParticipants,
	"timeout_exceeded_everyone_left":      ReasonEveryoneLeft,
	"call_ended_by_host":                  ReasonMeetingEnded,
	"recording_permission_denied":         ReasonPermissionDenied,
	"host_denied_recording":               ReasonPermissionDenied,
	"bot_errored":                         ReasonInternalError,
	"internal_error":                      ReasonInternalError,
	"account_usage_limit_exceeded":        ReasonUsageLimit,
}

// ReasonFromSubCode maps a provider sub-code to a failure reason. The second
// return value is false when a non-empty sub-code is not in the table.
func ReasonFromSubCode(subCode string) (FailureReason, bool) {
	code := strings.ToLower(strings.TrimSpace(subCode))
	if code == "" {
		return ReasonNone, true
	}
	r, ok := subCodes[code]
	if !ok {
		return ReasonUnknown, false
	}
	return r, true
}
