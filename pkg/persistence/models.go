package persistence

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"helpdesk/pkg/kb"
	"helpdesk/pkg/proto"
)

// IncidentRecord is the durable unit of work.
//
// KBReference is write-once: it is bound at first retrieval and never changes,
// even if the KB is re-indexed mid-conversation. KBContext snapshots the full
// KB entry at binding time so the conversation keeps reasoning against the
// context it started with.
//
//nolint:govet // struct alignment optimization not critical for this type
type IncidentRecord struct {
	IncidentID   string               `json:"incident_id"`
	UserDemand   string               `json:"user_demand"`
	Status       proto.Status         `json:"status"`
	KBReference  string               `json:"kb_reference,omitempty"`
	KBContext    *kb.Entry            `json:"kb_context,omitempty"`
	Collected    []proto.QAPair       `json:"collected_information"`
	AdminLog     []proto.AdminMessage `json:"admin_messages"`
	Revision     int64                `json:"revision"`
	CreatedOn    time.Time            `json:"created_on"`
	UpdatedOn    time.Time            `json:"updated_on"`
}

// NewIncidentID generates a globally unique incident identifier of the form
// INC<yyyymmddhhmmss><4 hex chars>.
func NewIncidentID() string {
	suffix := strings.ToUpper(uuid.NewString()[:4])
	return fmt.Sprintf("INC%s%s", time.Now().UTC().Format("20060102150405"), suffix)
}

// NewIncidentRecord creates a fresh record for a first user message.
func NewIncidentRecord(userDemand string) *IncidentRecord {
	now := time.Now().UTC()
	return &IncidentRecord{
		IncidentID: NewIncidentID(),
		UserDemand: userDemand,
		Status:     proto.StatusNew,
		Collected:  []proto.QAPair{},
		AdminLog:   []proto.AdminMessage{},
		Revision:   0, // Assigned on first insert
		CreatedOn:  now,
		UpdatedOn:  now,
	}
}

// BindKB sets the write-once KB reference and context snapshot.
// Returns an error if a reference is already bound.
func (r *IncidentRecord) BindKB(entry *kb.Entry) error {
	if r.KBReference != "" {
		return fmt.Errorf("incident %s already bound to KB entry %s", r.IncidentID, r.KBReference)
	}
	r.KBReference = entry.ID

	// Snapshot by value so later index swaps cannot mutate the bound context.
	snapshot := *entry
	r.KBContext = &snapshot
	return nil
}

// AppendAnswer records a responsive answer to a required-info question.
func (r *IncidentRecord) AppendAnswer(question, answer string) {
	r.Collected = append(r.Collected, proto.QAPair{
		Question:  question,
		Answer:    answer,
		Timestamp: time.Now().UTC(),
	})
}

// AppendAdminMessage records a manual status override in the audit trail.
func (r *IncidentRecord) AppendAdminMessage(oldStatus, newStatus proto.Status, message string) {
	r.AdminLog = append(r.AdminLog, proto.AdminMessage{
		OldStatus: oldStatus,
		NewStatus: newStatus,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// OutstandingInfo returns the bound KB entry's required-info fields that have
// no collected answer yet, in KB order.
func (r *IncidentRecord) OutstandingInfo() []string {
	if r.KBContext == nil {
		return nil
	}

	answered := make(map[string]bool, len(r.Collected))
	for i := range r.Collected {
		answered[r.Collected[i].Question] = true
	}

	var outstanding []string
	for _, field := range r.KBContext.RequiredInfo {
		if !answered[field] {
			outstanding = append(outstanding, field)
		}
	}
	return outstanding
}

// Clone returns a deep copy of the record.
func (r *IncidentRecord) Clone() *IncidentRecord {
	clone := *r
	clone.Collected = append([]proto.QAPair(nil), r.Collected...)
	clone.AdminLog = append([]proto.AdminMessage(nil), r.AdminLog...)
	if r.KBContext != nil {
		ctx := *r.KBContext
		clone.KBContext = &ctx
	}
	return &clone
}
