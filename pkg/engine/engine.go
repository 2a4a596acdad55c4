// Package engine implements the dialogue engine: the per-turn controller that
// decides when to retrieve knowledge, what to ask next, when to deliver a
// solution, and how an incident's status evolves. Status changes are driven by
// explicit classifier tags consumed by a deterministic transition table; the
// engine never changes state by string-matching free-form model output.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"helpdesk/pkg/contextmgr"
	"helpdesk/pkg/incerrors"
	"helpdesk/pkg/kb"
	"helpdesk/pkg/llm"
	"helpdesk/pkg/logx"
	"helpdesk/pkg/metrics"
	"helpdesk/pkg/persistence"
	"helpdesk/pkg/proto"
)

// Engine drives one conversation turn at a time. It is stateless between
// turns: everything it needs lives in the incident record and the KB snapshot.
type Engine struct {
	store     *persistence.Store
	retriever *kb.Retriever
	client    llm.Client
	policy    ResponsePolicy
	logger    *logx.Logger
}

// New creates a dialogue engine. A nil policy selects the default
// classifier-backed responsiveness policy.
func New(store *persistence.Store, retriever *kb.Retriever, client llm.Client, policy ResponsePolicy) *Engine {
	if policy == nil {
		policy = NewLLMPolicy(client)
	}
	return &Engine{
		store:     store,
		retriever: retriever,
		client:    client,
		policy:    policy,
		logger:    logx.NewLogger("engine"),
	}
}

// ProcessTurn handles one user message. An empty incidentID means the session
// has no incident yet; a message for a RESOLVED incident starts a fresh one.
//
// All capability calls (classifier, retrieval) happen before any record
// mutation, so a failed turn leaves the store untouched and the caller may
// retry the same message idempotently. A save that loses an optimistic
// concurrency race is retried by re-reading the record and re-running the
// turn's decision logic against the fresh state.
func (e *Engine) ProcessTurn(ctx context.Context, incidentID, userText string, history []contextmgr.Message) (proto.TurnReply, error) {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return proto.TurnReply{}, incerrors.Validation("message must not be empty")
	}

	if incidentID == "" {
		return e.startTurn(ctx, userText, history)
	}

	conflictRetries := incerrors.DefaultRetryConfigs[incerrors.KindConflict].MaxRetries
	for attempt := 0; attempt <= conflictRetries; attempt++ {
		rec, err := e.store.GetIncident(incidentID)
		if err != nil {
			return proto.TurnReply{}, err
		}

		// A resolved incident accepts no further dialogue; the message
		// opens a new incident instead.
		if rec.Status == proto.StatusResolved {
			return e.startTurn(ctx, userText, history)
		}

		reply, mutated, err := e.decideTurn(ctx, rec, userText, history)
		if err != nil {
			return proto.TurnReply{}, err
		}
		if !mutated {
			return reply, nil
		}

		err = e.store.UpdateIncident(rec)
		if err == nil {
			return reply, nil
		}
		if !incerrors.Is(err, incerrors.KindConflict) {
			return proto.TurnReply{}, err
		}
		e.logger.Warn("Turn for %s lost a write race, re-deciding (attempt %d)", incidentID, attempt+1)
	}
	return proto.TurnReply{}, incerrors.Conflict(incidentID)
}

// startTurn handles a message with no live incident: it routes greetings and
// small talk outside the state machine entirely, and otherwise creates an
// incident and runs the initial retrieval.
func (e *Engine) startTurn(ctx context.Context, userText string, history []contextmgr.Message) (proto.TurnReply, error) {
	route, err := e.classify(ctx, routingSystemPrompt, routingUserPrompt(userText, history), tagProblem, tagOffTopic)
	if err != nil {
		return proto.TurnReply{}, completionErr(err)
	}
	if route == tagOffTopic {
		text, err := e.converse(ctx, conversationalSystemPrompt, routingUserPrompt(userText, history))
		if err != nil {
			return proto.TurnReply{}, completionErr(err)
		}
		// No record, no retrieval: the turn stayed outside the state machine.
		return proto.TurnReply{Text: text}, nil
	}

	rec := persistence.NewIncidentRecord(userText)
	text, err := e.routeNew(ctx, rec)
	if err != nil {
		return proto.TurnReply{}, err
	}

	if err := e.store.CreateIncident(rec); err != nil {
		return proto.TurnReply{}, err
	}
	metrics.IncidentsCreated.Inc()
	e.logger.Info("🎫 Incident %s created (status %s)", rec.IncidentID, rec.Status)

	return proto.TurnReply{IncidentID: rec.IncidentID, Status: rec.Status, Text: text}, nil
}

// routeNew runs the on-entry logic for a NEW incident: exactly one retrieval,
// then either bind the match and start gathering, or escalate to admin review.
// The record is mutated in memory only; the caller commits it.
func (e *Engine) routeNew(ctx context.Context, rec *persistence.IncidentRecord) (string, error) {
	match, err := e.retriever.Retrieve(ctx, rec.UserDemand)
	if err != nil {
		metrics.RetrievalResults.WithLabelValues("error").Inc()
		return "", err
	}

	if match == nil {
		metrics.RetrievalResults.WithLabelValues("no_match").Inc()
		e.transition(rec, proto.StatusPendingAdminReview)
		return fmt.Sprintf(
			"I couldn't find a documented fix for this issue, so I've logged incident %s and routed it to an administrator for review.",
			rec.IncidentID), nil
	}

	metrics.RetrievalResults.WithLabelValues("match").Inc()
	if err := rec.BindKB(&match.Entry); err != nil {
		return "", fmt.Errorf("failed to bind KB entry: %w", err)
	}
	e.transition(rec, proto.StatusGatheringInfo)

	outstanding := rec.OutstandingInfo()
	if len(outstanding) == 0 {
		// Entry declares no required info: deliver the solution immediately.
		e.transition(rec, proto.StatusOpen)
		return fmt.Sprintf("I've logged this as incident %s.\n\n%s", rec.IncidentID, solutionText(rec)), nil
	}
	return fmt.Sprintf(
		"I've logged this as incident %s. To troubleshoot, I need a few details.\n\n%s",
		rec.IncidentID, questionText(outstanding[0])), nil
}

// decideTurn runs the per-status turn logic for an existing incident. It
// returns the reply, whether the record was mutated (and must be saved), and
// any error. Capability calls all precede mutations.
func (e *Engine) decideTurn(ctx context.Context, rec *persistence.IncidentRecord, userText string, history []contextmgr.Message) (proto.TurnReply, bool, error) {
	var (
		text    string
		mutated bool
		err     error
	)

	switch rec.Status {
	case proto.StatusNew:
		// A NEW record in storage means a crash between creation and
		// routing; rerun the on-entry logic.
		text, err = e.routeNew(ctx, rec)
		mutated = err == nil
	case proto.StatusGatheringInfo:
		text, mutated, err = e.gatherTurn(ctx, rec, userText)
	case proto.StatusOpen:
		text, mutated, err = e.openTurn(ctx, rec, userText, history)
	case proto.StatusPendingAdminReview:
		text = fmt.Sprintf(
			"Incident %s is waiting for an administrator to review it. I'll be able to help further once that's done.",
			rec.IncidentID)
	case proto.StatusResolved:
		// Handled by the caller before dispatch.
	}
	if err != nil {
		return proto.TurnReply{}, false, err
	}

	return proto.TurnReply{IncidentID: rec.IncidentID, Status: rec.Status, Text: text}, mutated, nil
}

// gatherTurn validates the user's reply against the current required-info
// question. A non-responsive reply re-asks without consuming a slot; a
// responsive one is appended, and when nothing is outstanding the incident
// opens and the solution steps go out exactly once.
func (e *Engine) gatherTurn(ctx context.Context, rec *persistence.IncidentRecord, userText string) (string, bool, error) {
	if rec.KBContext == nil {
		// Gathering without a bound entry is unrecoverable for the engine.
		e.transition(rec, proto.StatusPendingAdminReview)
		return fmt.Sprintf(
			"Something went wrong with the context for incident %s; I've routed it to an administrator.",
			rec.IncidentID), true, nil
	}

	outstanding := rec.OutstandingInfo()
	if len(outstanding) == 0 {
		e.transition(rec, proto.StatusOpen)
		return solutionText(rec), true, nil
	}

	question := outstanding[0]
	responsive, err := e.policy.IsResponsive(ctx, question, userText)
	if err != nil {
		return "", false, completionErr(err)
	}
	if !responsive {
		e.logger.Debug("Non-responsive reply for %s, re-asking %q", rec.IncidentID, question)
		return "That doesn't quite answer what I need. " + questionText(question), false, nil
	}

	rec.AppendAnswer(question, userText)
	if remaining := rec.OutstandingInfo(); len(remaining) > 0 {
		return "Got it. " + questionText(remaining[0]), true, nil
	}

	e.transition(rec, proto.StatusOpen)
	return solutionText(rec), true, nil
}

// openTurn waits for the user's verdict on the delivered solution.
func (e *Engine) openTurn(ctx context.Context, rec *persistence.IncidentRecord, userText string, history []contextmgr.Message) (string, bool, error) {
	verdict, err := e.classify(ctx, resolutionSystemPrompt,
		resolutionUserPrompt(rec.KBContext, userText, history),
		tagResolved, tagNotResolved, tagEscalate)
	if err != nil {
		return "", false, completionErr(err)
	}

	switch verdict {
	case tagResolved:
		e.logger.Debug("Decision %s for %s", proto.DecisionResolve, rec.IncidentID)
		e.transition(rec, proto.StatusResolved)
		return fmt.Sprintf(
			"Great, glad that fixed it. Incident %s is now resolved. If anything else comes up, just describe the problem and I'll open a new incident.",
			rec.IncidentID), true, nil
	case tagEscalate:
		e.logger.Debug("Decision %s for %s", proto.DecisionEscalate, rec.IncidentID)
		e.transition(rec, proto.StatusPendingAdminReview)
		return fmt.Sprintf(
			"Sorry those steps didn't do it. I've escalated incident %s to an administrator for review.",
			rec.IncidentID), true, nil
	default:
		// NOT_RESOLVED or an unparseable verdict: keep the incident open
		// and help the user along without touching the record.
		e.logger.Debug("Decision %s for %s", proto.DecisionAskMore, rec.IncidentID)
		text, err := e.converse(ctx, followUpSystemPrompt, followUpUserPrompt(rec.KBContext, userText, history))
		if err != nil {
			return "", false, completionErr(err)
		}
		return text, false, nil
	}
}

// transition moves the record to a new status via the engine transition table.
func (e *Engine) transition(rec *persistence.IncidentRecord, to proto.Status) {
	from := rec.Status
	if !proto.CanEngineTransition(from, to) {
		// The per-status dispatch only produces legal transitions; log
		// loudly if that ever stops being true.
		e.logger.Error("Illegal engine transition %s -> %s for %s", from, to, rec.IncidentID)
		return
	}
	rec.Status = to
	metrics.StatusTransitions.WithLabelValues(string(from), string(to), "engine").Inc()
	e.logger.Debug("Incident %s: %s -> %s", rec.IncidentID, from, to)
}

// classify runs a single-token classifier call and parses the tag defensively.
// Returns the empty string when the model produced none of the valid tags; the
// call site applies its documented default.
func (e *Engine) classify(ctx context.Context, system, user string, valid ...string) (string, error) {
	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage(system),
		llm.NewUserMessage(user),
	})
	req.MaxTokens = 16

	resp, err := e.client.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	tag := parseTag(resp.Content, valid...)
	if tag == "" {
		e.logger.Warn("Classifier returned no valid tag (got %q)", strings.TrimSpace(resp.Content))
	}
	return tag, nil
}

// converse runs a free-text completion for user-facing replies.
func (e *Engine) converse(ctx context.Context, system, user string) (string, error) {
	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage(system),
		llm.NewUserMessage(user),
	})
	req.Temperature = llm.TemperatureConversational

	resp, err := e.client.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

func questionText(field string) string {
	return fmt.Sprintf("Could you tell me: %s?", field)
}

func solutionText(rec *persistence.IncidentRecord) string {
	return fmt.Sprintf(
		"Thanks, that's everything I need. Here is what should fix it:\n\n%s\n\nLet me know once you've tried these steps.",
		rec.KBContext.SolutionSteps)
}

// completionErr classifies a raw completion failure as a capability error
// unless it already carries a classification.
func completionErr(err error) error {
	var incErr *incerrors.Error
	if errors.As(err, &incErr) {
		return err
	}
	return incerrors.CapabilityUnavailable("llm", err)
}
