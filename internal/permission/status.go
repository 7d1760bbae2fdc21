package permission

// Status is the externally visible lifecycle status of a permission request.
// It is deliberately decoupled from any richer internal state a region may
// track, so regions can add internal states without breaking consumers.
type Status string

const (
	StatusCreated                     Status = "CREATED"
	StatusValidated                   Status = "VALIDATED"
	StatusMalformed                   Status = "MALFORMED"
	StatusSentToPermissionAdmin       Status = "SENT_TO_PERMISSION_ADMINISTRATOR"
	StatusAccepted                    Status = "ACCEPTED"
	StatusRejected                    Status = "REJECTED"
	StatusInvalid                     Status = "INVALID"
	StatusUnableToSend                Status = "UNABLE_TO_SEND"
	StatusStreamingData               Status = "STREAMING_DATA"
	StatusFulfilled                   Status = "FULFILLED"
	StatusUnfulfillable               Status = "UNFULFILLABLE"
	StatusRevoked                     Status = "REVOKED"
	StatusTerminated                  Status = "TERMINATED"
	StatusTimedOut                    Status = "TIMED_OUT"
)

// terminal statuses are excluded from polling and timeout sweeps.
var terminal = map[Status]bool{
	StatusMalformed:     true,
	StatusInvalid:       true,
	StatusRejected:      true,
	StatusUnableToSend:  true,
	StatusRevoked:       true,
	StatusTerminated:    true,
	StatusTimedOut:      true,
	StatusFulfilled:     true,
	StatusUnfulfillable: true,
}

// Terminal reports whether s ends the lifecycle.
func (s Status) Terminal() bool { return terminal[s] }

// String implements fmt.Stringer.
func (s Status) String() string { return string(s) }
