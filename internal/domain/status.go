package domain

// CallStatus is the lifecycle state of a call record.
type CallStatus string

const (
	StatusIdle       CallStatus = "IDLE" // local indicator only, never stored
	StatusOffering   CallStatus = "OFFERING"
	StatusRinging    CallStatus = "RINGING"
	StatusConnecting CallStatus = "CONNECTING"
	StatusConnected  CallStatus = "CONNECTED"
	StatusEnded      CallStatus = "ENDED"
	StatusRejected   CallStatus = "REJECTED"
	StatusBusy       CallStatus = "BUSY"
	StatusMissed     CallStatus = "MISSED"
)

// statusRank orders the forward path. Terminal states share the top rank so
// one terminal state never "advances" into another.
var statusRank = map[CallStatus]int{
	StatusIdle:       0,
	StatusOffering:   1,
	StatusRinging:    2,
	StatusConnecting: 3,
	StatusConnected:  4,
	StatusEnded:      5,
	StatusRejected:   5,
	StatusBusy:       5,
	StatusMissed:     5,
}

// Terminal reports whether s ends the call lifecycle.
func (s CallStatus) Terminal() bool {
	switch s {
	case StatusEnded, StatusRejected, StatusBusy, StatusMissed:
		return true
	}
	return false
}

// Advances reports whether moving from s to next is a forward transition.
// Duplicate or out-of-order store notifications that would imply a backward
// move must be dropped by the caller.
func (s CallStatus) Advances(next CallStatus) bool {
	return statusRank[next] > statusRank[s]
}
