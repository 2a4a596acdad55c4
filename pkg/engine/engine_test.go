package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk/pkg/embedding"
	"helpdesk/pkg/incerrors"
	"helpdesk/pkg/kb"
	"helpdesk/pkg/llm"
	"helpdesk/pkg/persistence"
	"helpdesk/pkg/proto"
)

const engineTestKB = `[KB_ID: KB_VPN_01]
Use Case: VPN will not connect
Required Information:
- OS version
- error message
Solution Steps:
1. Restart the VPN client.
2. Re-enter your credentials.

[KB_ID: KB_PRINTER_02]
Use Case: Printer is offline
Required Information:
- printer model
Solution Steps:
Power cycle the printer and re-add it in system settings.
`

type fixture struct {
	eng      *Engine
	store    *persistence.Store
	client   *llm.MockClient
	embedder *embedding.MockEmbedder
}

// newFixture builds an engine over a real sqlite store and a two-entry KB
// index. A nil policy selects the classifier-backed default.
func newFixture(t *testing.T, policy ResponsePolicy) *fixture {
	t.Helper()

	store, err := persistence.Open(filepath.Join(t.TempDir(), "helpdesk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	embedder := embedding.NewMockEmbedder("vpn", "printer")
	index := kb.NewIndex(embedder)
	_, err = index.Reindex(context.Background(), engineTestKB)
	require.NoError(t, err)

	retriever := kb.NewRetriever(index, embedder, 0.5, false)
	client := llm.NewMockClient()
	return &fixture{
		eng:      New(store, retriever, client, policy),
		store:    store,
		client:   client,
		embedder: embedder,
	}
}

// seedGathering inserts a GATHERING_INFO incident bound to KB_VPN_01 without
// going through the dialogue path.
func seedGathering(t *testing.T, store *persistence.Store) *persistence.IncidentRecord {
	t.Helper()
	rec := persistence.NewIncidentRecord("My VPN won't connect")
	require.NoError(t, rec.BindKB(&kb.Entry{
		ID:            "KB_VPN_01",
		UseCase:       "VPN will not connect",
		RequiredInfo:  []string{"OS version", "error message"},
		SolutionSteps: "1. Restart the VPN client.\n2. Re-enter your credentials.",
	}))
	rec.Status = proto.StatusGatheringInfo
	require.NoError(t, store.CreateIncident(rec))
	return rec
}

func TestEmptyMessageRejected(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.eng.ProcessTurn(context.Background(), "", "   ", nil)
	require.Error(t, err)
	assert.True(t, incerrors.Is(err, incerrors.KindValidation))
	assert.Zero(t, f.client.CallCount())
}

func TestOffTopicStaysOutsideStateMachine(t *testing.T) {
	f := newFixture(t, nil)
	f.client.Enqueue("OFF_TOPIC").Enqueue("Hi! Describe your IT problem and I'll open an incident for it.")
	embedsAfterIndexing := f.embedder.CallCount()

	reply, err := f.eng.ProcessTurn(context.Background(), "", "good morning!", nil)
	require.NoError(t, err)
	assert.Empty(t, reply.IncidentID)
	assert.Contains(t, reply.Text, "IT problem")

	records, err := f.store.ListIncidents("")
	require.NoError(t, err)
	assert.Empty(t, records)

	// No retrieval call was consumed.
	assert.Equal(t, embedsAfterIndexing, f.embedder.CallCount())
}

func TestProblemCreatesIncidentAndAsksFirstQuestion(t *testing.T) {
	f := newFixture(t, nil)
	f.client.Enqueue("PROBLEM")

	reply, err := f.eng.ProcessTurn(context.Background(), "", "My VPN won't connect", nil)
	require.NoError(t, err)
	require.NotEmpty(t, reply.IncidentID)
	assert.Equal(t, proto.StatusGatheringInfo, reply.Status)
	assert.Contains(t, reply.Text, reply.IncidentID)
	assert.Contains(t, reply.Text, "OS version")

	rec, err := f.store.GetIncident(reply.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, "KB_VPN_01", rec.KBReference)
	assert.Equal(t, "My VPN won't connect", rec.UserDemand)
	assert.Empty(t, rec.Collected)
}

func TestUnknownProblemEscalatesWithoutBinding(t *testing.T) {
	f := newFixture(t, nil)
	f.client.Enqueue("PROBLEM")

	reply, err := f.eng.ProcessTurn(context.Background(), "", "the coffee machine is on fire", nil)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusPendingAdminReview, reply.Status)
	assert.Contains(t, reply.Text, "administrator")

	rec, err := f.store.GetIncident(reply.IncidentID)
	require.NoError(t, err)
	assert.Empty(t, rec.KBReference)
	assert.Nil(t, rec.KBContext)
	assert.Equal(t, proto.StatusPendingAdminReview, rec.Status)
}

func TestGatheringFlowDeliversSolution(t *testing.T) {
	f := newFixture(t, &KeywordPolicy{})
	f.client.Enqueue("PROBLEM")
	ctx := context.Background()

	reply, err := f.eng.ProcessTurn(ctx, "", "My VPN won't connect", nil)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "OS version")

	reply, err = f.eng.ProcessTurn(ctx, reply.IncidentID, "Windows 11", nil)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusGatheringInfo, reply.Status)
	assert.Contains(t, reply.Text, "error message")

	reply, err = f.eng.ProcessTurn(ctx, reply.IncidentID, "Error 809", nil)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusOpen, reply.Status)
	assert.Contains(t, reply.Text, "Restart the VPN client.")

	rec, err := f.store.GetIncident(reply.IncidentID)
	require.NoError(t, err)
	require.Len(t, rec.Collected, 2)
	assert.Equal(t, "OS version", rec.Collected[0].Question)
	assert.Equal(t, "Windows 11", rec.Collected[0].Answer)
	assert.Equal(t, "error message", rec.Collected[1].Question)
	assert.Equal(t, "Error 809", rec.Collected[1].Answer)
}

func TestNonResponsiveReplyReAsksWithoutConsumingSlot(t *testing.T) {
	f := newFixture(t, &KeywordPolicy{Reject: []string{"dunno"}})
	rec := seedGathering(t, f.store)

	reply, err := f.eng.ProcessTurn(context.Background(), rec.IncidentID, "dunno, you tell me", nil)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusGatheringInfo, reply.Status)
	assert.Contains(t, reply.Text, "OS version")

	loaded, err := f.store.GetIncident(rec.IncidentID)
	require.NoError(t, err)
	assert.Empty(t, loaded.Collected)
	assert.Equal(t, rec.Revision, loaded.Revision)
}

func TestClassifierBackedResponsiveness(t *testing.T) {
	f := newFixture(t, nil)
	rec := seedGathering(t, f.store)
	f.client.Enqueue("NON_RESPONSIVE").Enqueue("RESPONSIVE")
	ctx := context.Background()

	reply, err := f.eng.ProcessTurn(ctx, rec.IncidentID, "why do you need that?", nil)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "OS version")

	reply, err = f.eng.ProcessTurn(ctx, rec.IncidentID, "Windows 11", nil)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "error message")

	loaded, err := f.store.GetIncident(rec.IncidentID)
	require.NoError(t, err)
	require.Len(t, loaded.Collected, 1)
	assert.Equal(t, "Windows 11", loaded.Collected[0].Answer)
}

func TestOpenResolvesOnAcknowledgment(t *testing.T) {
	f := newFixture(t, nil)
	rec := seedGathering(t, f.store)
	rec.AppendAnswer("OS version", "Windows 11")
	rec.AppendAnswer("error message", "Error 809")
	rec.Status = proto.StatusOpen
	require.NoError(t, f.store.UpdateIncident(rec))

	f.client.Enqueue("RESOLVED")
	reply, err := f.eng.ProcessTurn(context.Background(), rec.IncidentID, "that fixed it, thanks!", nil)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusResolved, reply.Status)
	assert.Contains(t, reply.Text, "resolved")

	loaded, err := f.store.GetIncident(rec.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusResolved, loaded.Status)
}

func TestOpenEscalatesWhenSolutionFails(t *testing.T) {
	f := newFixture(t, nil)
	rec := seedGathering(t, f.store)
	rec.Status = proto.StatusOpen
	require.NoError(t, f.store.UpdateIncident(rec))

	f.client.Enqueue("ESCALATE")
	reply, err := f.eng.ProcessTurn(context.Background(), rec.IncidentID, "none of that worked, get me a human", nil)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusPendingAdminReview, reply.Status)

	loaded, err := f.store.GetIncident(rec.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusPendingAdminReview, loaded.Status)
}

func TestOpenFollowUpKeepsIncidentOpen(t *testing.T) {
	f := newFixture(t, nil)
	rec := seedGathering(t, f.store)
	rec.Status = proto.StatusOpen
	require.NoError(t, f.store.UpdateIncident(rec))
	revision := rec.Revision

	f.client.Enqueue("NOT_RESOLVED").Enqueue("Step 2 means the credentials dialog in the VPN client itself.")
	reply, err := f.eng.ProcessTurn(context.Background(), rec.IncidentID, "where do I re-enter credentials?", nil)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusOpen, reply.Status)
	assert.Contains(t, reply.Text, "credentials dialog")

	loaded, err := f.store.GetIncident(rec.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusOpen, loaded.Status)
	assert.Equal(t, revision, loaded.Revision)
}

func TestPendingAdminReviewRepliesWithoutClassifier(t *testing.T) {
	f := newFixture(t, nil)
	rec := seedGathering(t, f.store)
	rec.Status = proto.StatusPendingAdminReview
	require.NoError(t, f.store.UpdateIncident(rec))

	reply, err := f.eng.ProcessTurn(context.Background(), rec.IncidentID, "any update?", nil)
	require.NoError(t, err)
	assert.Equal(t, proto.StatusPendingAdminReview, reply.Status)
	assert.Contains(t, reply.Text, "administrator")
	assert.Zero(t, f.client.CallCount())
}

func TestResolvedIncidentStartsFreshOne(t *testing.T) {
	f := newFixture(t, nil)
	rec := seedGathering(t, f.store)
	rec.Status = proto.StatusOpen
	require.NoError(t, f.store.UpdateIncident(rec))
	rec.Status = proto.StatusResolved
	require.NoError(t, f.store.UpdateIncident(rec))

	f.client.Enqueue("PROBLEM")
	reply, err := f.eng.ProcessTurn(context.Background(), rec.IncidentID, "now my printer is offline", nil)
	require.NoError(t, err)
	require.NotEmpty(t, reply.IncidentID)
	assert.NotEqual(t, rec.IncidentID, reply.IncidentID)
	assert.Equal(t, proto.StatusGatheringInfo, reply.Status)
	assert.Contains(t, reply.Text, "printer model")
}

func TestCapabilityFailureLeavesRecordUntouched(t *testing.T) {
	f := newFixture(t, nil)
	rec := seedGathering(t, f.store)
	f.client.EnqueueError(errors.New("upstream 503"))

	_, err := f.eng.ProcessTurn(context.Background(), rec.IncidentID, "Windows 11", nil)
	require.Error(t, err)
	assert.True(t, incerrors.Is(err, incerrors.KindCapabilityUnavailable))

	loaded, err := f.store.GetIncident(rec.IncidentID)
	require.NoError(t, err)
	assert.Empty(t, loaded.Collected)
	assert.Equal(t, rec.Revision, loaded.Revision)

	// Retrying the identical message after recovery lands the same state a
	// single successful attempt would have produced.
	f.client.Enqueue("RESPONSIVE")
	reply, err := f.eng.ProcessTurn(context.Background(), rec.IncidentID, "Windows 11", nil)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "error message")

	loaded, err = f.store.GetIncident(rec.IncidentID)
	require.NoError(t, err)
	require.Len(t, loaded.Collected, 1)
	assert.Equal(t, "Windows 11", loaded.Collected[0].Answer)
}

func TestUnknownIncidentIsNotFound(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.eng.ProcessTurn(context.Background(), "INC00000000000000DEAD", "hello", nil)
	require.Error(t, err)
	assert.True(t, incerrors.Is(err, incerrors.KindNotFound))
}

func TestLostWriteRaceIsReDecided(t *testing.T) {
	f := newFixture(t, nil)
	rec := seedGathering(t, f.store)

	// The first classifier call sneaks in a concurrent write so the turn's
	// save loses the revision race and must re-read and re-decide.
	var once sync.Once
	f.client.CompleteFunc = func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		once.Do(func() {
			other, err := f.store.GetIncident(rec.IncidentID)
			require.NoError(t, err)
			require.NoError(t, f.store.UpdateIncident(other))
		})
		return llm.CompletionResponse{Content: "RESPONSIVE", StopReason: "end_turn"}, nil
	}

	reply, err := f.eng.ProcessTurn(context.Background(), rec.IncidentID, "Windows 11", nil)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "error message")

	loaded, err := f.store.GetIncident(rec.IncidentID)
	require.NoError(t, err)
	require.Len(t, loaded.Collected, 1)
	assert.Equal(t, "Windows 11", loaded.Collected[0].Answer)
}

func TestParseTagPrefersExactThenLongest(t *testing.T) {
	assert.Equal(t, "RESOLVED", parseTag("resolved", tagResolved, tagNotResolved, tagEscalate))
	assert.Equal(t, "NOT_RESOLVED", parseTag("I think: NOT_RESOLVED", tagResolved, tagNotResolved, tagEscalate))
	assert.Equal(t, "NOT_RESOLVED", parseTag("NOT_RESOLVED", tagResolved, tagNotResolved, tagEscalate))
	assert.Equal(t, "", parseTag("who knows", tagResolved, tagNotResolved))
}
