// Package room drives one side of a consultation call: authenticating against
// the call transport, dialing or listening, reconnecting with backoff and
// tearing everything down when the room closes.
package room

// ConnectionState is the single current state of a room's call.
type ConnectionState string

const (
	StateIdle         ConnectionState = "IDLE"
	StateConnecting   ConnectionState = "CONNECTING"
	StateRinging      ConnectionState = "RINGING"
	StateWaiting      ConnectionState = "WAITING"
	StateConnected    ConnectionState = "CONNECTED"
	StateReconnecting ConnectionState = "RECONNECTING"
	StateFailed       ConnectionState = "FAILED"
	StateNoAnswer     ConnectionState = "NO_ANSWER"
)

var validTransitions = map[ConnectionState][]ConnectionState{
	StateIdle:         {StateConnecting, StateWaiting},
	StateConnecting:   {StateRinging, StateWaiting, StateReconnecting, StateFailed},
	StateRinging:      {StateConnected, StateNoAnswer, StateWaiting, StateReconnecting, StateFailed},
	StateWaiting:      {StateRinging, StateConnected, StateReconnecting, StateFailed},
	StateConnected:    {StateIdle, StateWaiting, StateReconnecting},
	StateReconnecting: {StateConnecting, StateFailed},
	StateFailed:       {StateConnecting},
	StateNoAnswer:     {StateConnecting},
}

func (s ConnectionState) String() string {
	return string(s)
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s ConnectionState) CanTransitionTo(next ConnectionState) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsRetryable reports whether the state only leaves through a manual retry.
func (s ConnectionState) IsRetryable() bool {
	return s == StateFailed || s == StateNoAnswer
}

// RecoveryAction is the single user action offered for a failure state.
type RecoveryAction string

const (
	ActionNone            RecoveryAction = ""
	ActionRetry           RecoveryAction = "retry"
	ActionCallAgain       RecoveryAction = "call_again"
	ActionGrantPermission RecoveryAction = "grant_permission"
)

// User-facing status messages.
const (
	IdleMessage             = "Ready to start the consultation."
	ConnectingMessage       = "Connecting to the consultation..."
	WaitingMessage          = "Waiting for the other party to join..."
	RingingMessage          = "Calling..."
	IncomingMessage         = "Incoming call."
	ConnectedMessage        = ""
	EndedMessage            = "The call has ended."
	ReconnectingMessage     = "Connection lost. Reconnecting..."
	FailedMessage           = "Could not connect to the consultation. Please try again."
	NoAnswerMessage         = "No answer. You can call again."
	PermissionDeniedMessage = "Camera or microphone access was denied. Allow access in your browser settings and try again."
	MockModeMessage         = "Live call credentials are not available. The room is running in preview mode."
)
