// Package proto defines the shared vocabulary of the incident system: lifecycle
// statuses, the legal transition table, classifier decisions, and conversation records.
package proto

import "fmt"

// Status represents the lifecycle state of an incident.
type Status string

const (
	// StatusNew is the ephemeral state of an incident being created; it moves
	// forward within the same turn and is never left behind in storage.
	StatusNew Status = "NEW"
	// StatusGatheringInfo indicates the dialogue engine is collecting required information.
	StatusGatheringInfo Status = "GATHERING_INFO"
	// StatusOpen indicates all required information is collected and solution steps were issued.
	StatusOpen Status = "OPEN"
	// StatusPendingAdminReview indicates the incident needs human attention.
	StatusPendingAdminReview Status = "PENDING_ADMIN_REVIEW"
	// StatusResolved is the terminal state. No automated transition leaves it.
	StatusResolved Status = "RESOLVED"
)

// AllStatuses lists every valid status, in lifecycle order.
//
//nolint:gochecknoglobals // Enumeration constant
var AllStatuses = []Status{
	StatusNew,
	StatusGatheringInfo,
	StatusOpen,
	StatusPendingAdminReview,
	StatusResolved,
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusNew, StatusGatheringInfo, StatusOpen, StatusPendingAdminReview, StatusResolved:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s admits no further automated transitions.
func (s Status) IsTerminal() bool {
	return s == StatusResolved
}

// ParseStatus validates and converts a raw string into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("unknown incident status: %q", raw)
	}
	return s, nil
}

// engineTransitions is the automated (dialogue-driven) transition table.
// Admin overrides use a wider table, see CanAdminTransition.
//
//nolint:gochecknoglobals // Static transition table
var engineTransitions = map[Status][]Status{
	StatusNew:           {StatusGatheringInfo, StatusOpen, StatusPendingAdminReview},
	StatusGatheringInfo: {StatusOpen, StatusPendingAdminReview},
	StatusOpen:          {StatusResolved, StatusPendingAdminReview},
	// PENDING_ADMIN_REVIEW is frozen for the engine: only an admin moves it.
	StatusPendingAdminReview: {},
	StatusResolved:           {},
}

// CanEngineTransition reports whether the dialogue engine may move an incident
// from one status to another.
func CanEngineTransition(from, to Status) bool {
	for _, allowed := range engineTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanAdminTransition reports whether an administrator may move an incident from
// one status to another. Admins can move between any two distinct valid
// statuses; RESOLVED is terminal for the engine but reopenable by an admin.
// No-op transitions are rejected to keep the audit log meaningful.
func CanAdminTransition(from, to Status) bool {
	if !from.IsValid() || !to.IsValid() {
		return false
	}
	return from != to
}
