// Package admin implements the trusted operator surface: manual status
// overrides with a mandatory audit message, incident browsing, and knowledge
// base curation.
package admin

import (
	"context"
	"strings"

	"helpdesk/pkg/incerrors"
	"helpdesk/pkg/kb"
	"helpdesk/pkg/logx"
	"helpdesk/pkg/metrics"
	"helpdesk/pkg/persistence"
	"helpdesk/pkg/proto"
)

// Annotator applies manual interventions to incident records and curates the
// knowledge base. Unlike the conversational surface, its errors may be
// specific: the audience is trusted.
type Annotator struct {
	store  *persistence.Store
	index  *kb.Index
	logger *logx.Logger
}

// NewAnnotator creates the admin surface over the given store and KB index.
// A nil index is allowed for callers that only need record operations.
func NewAnnotator(store *persistence.Store, index *kb.Index) *Annotator {
	return &Annotator{
		store:  store,
		index:  index,
		logger: logx.NewLogger("admin"),
	}
}

// ApplyOverride moves an incident to a new status with a mandatory
// justification. The appended audit entry is the only record of manual
// interventions, so an empty message and no-op transitions are hard
// validation failures, and a failed override leaves the record unmodified.
func (a *Annotator) ApplyOverride(incidentID string, newStatus proto.Status, message string) (*persistence.IncidentRecord, error) {
	if strings.TrimSpace(message) == "" {
		return nil, incerrors.Validation("an override requires a non-empty justification message")
	}
	if !newStatus.IsValid() {
		return nil, incerrors.Validation("unknown status: %q", string(newStatus))
	}

	conflictRetries := incerrors.DefaultRetryConfigs[incerrors.KindConflict].MaxRetries
	for attempt := 0; attempt <= conflictRetries; attempt++ {
		rec, err := a.store.GetIncident(incidentID)
		if err != nil {
			return nil, err
		}
		if rec.Status == newStatus {
			return nil, incerrors.Validation("incident %s is already %s", incidentID, newStatus)
		}
		if !proto.CanAdminTransition(rec.Status, newStatus) {
			return nil, incerrors.Validation("cannot move incident %s from %s to %s", incidentID, rec.Status, newStatus)
		}

		oldStatus := rec.Status
		rec.Status = newStatus
		rec.AppendAdminMessage(oldStatus, newStatus, message)

		err = a.store.UpdateIncident(rec)
		if err == nil {
			metrics.StatusTransitions.WithLabelValues(string(oldStatus), string(newStatus), "admin").Inc()
			a.logger.Info("🔧 Incident %s overridden %s -> %s", incidentID, oldStatus, newStatus)
			return rec, nil
		}
		if !incerrors.Is(err, incerrors.KindConflict) {
			return nil, err
		}
		// Lost a race against a live conversation turn: re-read and
		// re-validate against the fresh status.
		a.logger.Warn("Override for %s lost a write race, retrying (attempt %d)", incidentID, attempt+1)
	}
	return nil, incerrors.Conflict(incidentID)
}

// GetIncident loads one record for the admin surface.
func (a *Annotator) GetIncident(incidentID string) (*persistence.IncidentRecord, error) {
	return a.store.GetIncident(incidentID)
}

// ListIncidents returns records, optionally filtered by status.
func (a *Annotator) ListIncidents(status proto.Status) ([]*persistence.IncidentRecord, error) {
	if status != "" && !status.IsValid() {
		return nil, incerrors.Validation("unknown status filter: %q", string(status))
	}
	return a.store.ListIncidents(status)
}

// Stats returns the incident count per status.
func (a *Annotator) Stats() (map[proto.Status]int, error) {
	return a.store.CountByStatus()
}

// KBText returns the last successfully indexed knowledge base text, so
// edits are made against the live version. Empty if nothing was ever indexed.
func (a *Annotator) KBText() (string, error) {
	text, _, err := a.store.GetKBText()
	if err != nil {
		if incerrors.Is(err, incerrors.KindNotFound) {
			return "", nil
		}
		return "", err
	}
	return text, nil
}

// UpdateKnowledgeBase validates and indexes a full replacement KB text, then
// persists it for restarts. Malformed text is rejected before the previous
// index is touched; in-flight incidents keep their bound context either way.
func (a *Annotator) UpdateKnowledgeBase(ctx context.Context, fullText string) (int, error) {
	count, err := a.index.Reindex(ctx, fullText)
	if err != nil {
		metrics.ReindexTotal.WithLabelValues("error").Inc()
		return 0, err
	}

	snapshot := a.index.Current()
	if err := a.store.SaveKBText(fullText, snapshot.Generation); err != nil {
		// The new index is live but the text did not persist; a restart
		// would revive the previous version.
		return count, err
	}

	metrics.ReindexTotal.WithLabelValues("ok").Inc()
	metrics.KBEntries.Set(float64(count))
	return count, nil
}
