package admin

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk/pkg/embedding"
	"helpdesk/pkg/incerrors"
	"helpdesk/pkg/kb"
	"helpdesk/pkg/persistence"
	"helpdesk/pkg/proto"
)

const adminTestKB = `[KB_ID: KB_PRINTER_02]
Use Case: Printer is offline
Required Information:
- printer model
Solution Steps:
Power cycle the printer and re-add it in system settings.
`

func newAnnotator(t *testing.T) (*Annotator, *persistence.Store, *kb.Index) {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "helpdesk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	index := kb.NewIndex(embedding.NewMockEmbedder("printer"))
	return NewAnnotator(store, index), store, index
}

func seedPending(t *testing.T, store *persistence.Store) *persistence.IncidentRecord {
	t.Helper()
	rec := persistence.NewIncidentRecord("something nobody documented")
	rec.Status = proto.StatusPendingAdminReview
	require.NoError(t, store.CreateIncident(rec))
	return rec
}

func TestApplyOverrideAppendsAuditEntry(t *testing.T) {
	ann, store, _ := newAnnotator(t)
	rec := seedPending(t, store)

	updated, err := ann.ApplyOverride(rec.IncidentID, proto.StatusOpen, "Added new KB entry KB_PRINTER_02")
	require.NoError(t, err)
	assert.Equal(t, proto.StatusOpen, updated.Status)
	require.Len(t, updated.AdminLog, 1)
	assert.Equal(t, proto.StatusPendingAdminReview, updated.AdminLog[0].OldStatus)
	assert.Equal(t, proto.StatusOpen, updated.AdminLog[0].NewStatus)
	assert.Equal(t, "Added new KB entry KB_PRINTER_02", updated.AdminLog[0].Message)

	loaded, err := store.GetIncident(rec.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusOpen, loaded.Status)
	assert.Len(t, loaded.AdminLog, 1)
}

func TestRepeatedOverrideToSameStatusIsRejected(t *testing.T) {
	ann, store, _ := newAnnotator(t)
	rec := seedPending(t, store)

	_, err := ann.ApplyOverride(rec.IncidentID, proto.StatusOpen, "curated")
	require.NoError(t, err)

	_, err = ann.ApplyOverride(rec.IncidentID, proto.StatusOpen, "curated again")
	require.Error(t, err)
	assert.True(t, incerrors.Is(err, incerrors.KindValidation))

	loaded, err := store.GetIncident(rec.IncidentID)
	require.NoError(t, err)
	assert.Len(t, loaded.AdminLog, 1)
}

func TestEmptyMessageIsRejected(t *testing.T) {
	ann, store, _ := newAnnotator(t)
	rec := seedPending(t, store)

	_, err := ann.ApplyOverride(rec.IncidentID, proto.StatusOpen, "   ")
	require.Error(t, err)
	assert.True(t, incerrors.Is(err, incerrors.KindValidation))

	loaded, err := store.GetIncident(rec.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusPendingAdminReview, loaded.Status)
	assert.Empty(t, loaded.AdminLog)
}

func TestOverrideUnknownIncident(t *testing.T) {
	ann, _, _ := newAnnotator(t)

	_, err := ann.ApplyOverride("INC00000000000000DEAD", proto.StatusOpen, "does not exist")
	require.Error(t, err)
	assert.True(t, incerrors.Is(err, incerrors.KindNotFound))
}

func TestOverrideCanReopenResolvedIncident(t *testing.T) {
	ann, store, _ := newAnnotator(t)
	rec := persistence.NewIncidentRecord("was resolved too early")
	rec.Status = proto.StatusResolved
	require.NoError(t, store.CreateIncident(rec))

	updated, err := ann.ApplyOverride(rec.IncidentID, proto.StatusOpen, "user reports the issue came back")
	require.NoError(t, err)
	assert.Equal(t, proto.StatusOpen, updated.Status)
}

func TestListAndStats(t *testing.T) {
	ann, store, _ := newAnnotator(t)
	seedPending(t, store)
	seedPending(t, store)
	open := persistence.NewIncidentRecord("printer jam")
	open.Status = proto.StatusOpen
	require.NoError(t, store.CreateIncident(open))

	pending, err := ann.ListIncidents(proto.StatusPendingAdminReview)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	all, err := ann.ListIncidents("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = ann.ListIncidents(proto.Status("BOGUS"))
	require.Error(t, err)
	assert.True(t, incerrors.Is(err, incerrors.KindValidation))

	stats, err := ann.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats[proto.StatusPendingAdminReview])
	assert.Equal(t, 1, stats[proto.StatusOpen])
}

func TestUpdateKnowledgeBasePersistsText(t *testing.T) {
	ann, _, index := newAnnotator(t)

	count, err := ann.UpdateKnowledgeBase(context.Background(), adminTestKB)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, index.Current().Len())

	text, err := ann.KBText()
	require.NoError(t, err)
	assert.Equal(t, adminTestKB, text)
}

func TestUpdateKnowledgeBaseRejectsMalformedText(t *testing.T) {
	ann, _, index := newAnnotator(t)

	_, err := ann.UpdateKnowledgeBase(context.Background(), adminTestKB)
	require.NoError(t, err)

	_, err = ann.UpdateKnowledgeBase(context.Background(), "no markers here at all")
	require.Error(t, err)
	assert.True(t, incerrors.Is(err, incerrors.KindValidation))

	// The previous index and stored text both survive.
	assert.Equal(t, 1, index.Current().Len())
	text, err := ann.KBText()
	require.NoError(t, err)
	assert.Equal(t, adminTestKB, text)
}

func TestKBTextEmptyBeforeFirstIndex(t *testing.T) {
	ann, _, _ := newAnnotator(t)

	text, err := ann.KBText()
	require.NoError(t, err)
	assert.Empty(t, text)
}
