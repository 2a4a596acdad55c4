package proto

import "time"

// QAPair is one collected question/answer exchange on an incident.
// The collected_information sequence is append-only.
type QAPair struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}

// AdminMessage is one audited manual status override.
// The admin_messages sequence is append-only and written only by admin transitions.
type AdminMessage struct {
	OldStatus Status    `json:"old_status"`
	NewStatus Status    `json:"new_status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// DecisionTag is an explicit classifier outcome consumed by the state machine.
// Status changes are driven only by these tags, never by string-matching
// free-form response text.
type DecisionTag string

const (
	// DecisionAskMore means required information is still outstanding; keep gathering.
	DecisionAskMore DecisionTag = "ASK_MORE"
	// DecisionEscalate means no automated path exists; route to admin review.
	DecisionEscalate DecisionTag = "ESCALATE"
	// DecisionResolve means the user confirmed the solution worked; close out.
	DecisionResolve DecisionTag = "RESOLVE"
)

// TurnReply is what the dialogue engine hands back to the session layer for one
// user message.
type TurnReply struct {
	// IncidentID is empty when the turn stayed outside the state machine
	// (greeting or off-topic message, no record created).
	IncidentID string
	Status     Status
	Text       string
}
