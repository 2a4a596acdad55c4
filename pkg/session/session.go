// Package session tracks live conversations: the ephemeral correlation of a
// session ID to zero-or-one incident record, a token-bounded history window,
// and the per-session serialization that keeps turns for one incident strictly
// sequential.
package session

import (
	"context"
	"sync"
	"time"

	"helpdesk/pkg/contextmgr"
	"helpdesk/pkg/engine"
	"helpdesk/pkg/incerrors"
	"helpdesk/pkg/logx"
	"helpdesk/pkg/metrics"
	"helpdesk/pkg/persistence"
	"helpdesk/pkg/proto"
)

// Session is one live conversation. It exists only in memory; the incident
// record it points at is the durable source of truth.
type Session struct {
	// mu serializes turns for this session (and therefore for its
	// incident): a second message must not begin processing until the
	// prior turn's record mutation has committed.
	mu         sync.Mutex
	id         string
	incidentID string
	history    *contextmgr.ContextManager
	lastActive time.Time
}

// Store manages sessions and is the single conversational entry point for the
// transport layer.
type Store struct {
	// mu guards the session map only. It is never held across an engine
	// turn; only the individual session's mutex spans capability calls.
	mu       sync.Mutex
	sessions map[string]*Session

	eng         *engine.Engine
	db          *persistence.Store
	counter     *contextmgr.TokenCounter
	idleTimeout time.Duration
	tokenBudget int
	logger      *logx.Logger
}

// NewStore creates a session store. A nil counter falls back to the
// approximate character-based token estimate.
func NewStore(eng *engine.Engine, db *persistence.Store, counter *contextmgr.TokenCounter, idleTimeout time.Duration, tokenBudget int) *Store {
	return &Store{
		sessions:    make(map[string]*Session),
		eng:         eng,
		db:          db,
		counter:     counter,
		idleTimeout: idleTimeout,
		tokenBudget: tokenBudget,
		logger:      logx.NewLogger("session"),
	}
}

// StartOrContinue processes one conversational turn for the given session,
// creating the session on first contact. When the turn opens an incident (or
// a message for a resolved incident opens a fresh one), the session rebinds
// to the new incident ID.
func (st *Store) StartOrContinue(ctx context.Context, sessionID, userText string) (proto.TurnReply, error) {
	start := time.Now()
	s := st.acquire(sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()

	reply, err := st.eng.ProcessTurn(ctx, s.incidentID, userText, s.history.Window())
	if err != nil {
		metrics.ObserveTurn("error", start)
		return proto.TurnReply{}, err
	}

	s.history.AddMessage("user", userText)
	s.history.AddMessage("assistant", reply.Text)
	s.lastActive = time.Now()

	outcome := "conversational"
	if reply.IncidentID != "" {
		s.incidentID = reply.IncidentID
		outcome = string(reply.Status)
	}
	metrics.ObserveTurn(outcome, start)
	return reply, nil
}

// EndSession discards a session. The bound incident keeps its engine status;
// session teardown only refreshes its updated_on stamp so admins can see the
// conversation ended.
func (st *Store) EndSession(sessionID string) error {
	st.mu.Lock()
	s, ok := st.sessions[sessionID]
	if ok {
		delete(st.sessions, sessionID)
		metrics.ActiveSessions.Set(float64(len(st.sessions)))
	}
	st.mu.Unlock()
	if !ok {
		return incerrors.NotFound("session", sessionID)
	}

	s.mu.Lock()
	incidentID := s.incidentID
	s.mu.Unlock()
	if incidentID == "" {
		return nil
	}

	rec, err := st.db.GetIncident(incidentID)
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() || rec.Status == proto.StatusPendingAdminReview {
		return nil
	}
	if err := st.db.UpdateIncident(rec); err != nil {
		// A concurrent turn already refreshed the record; nothing to do.
		if incerrors.Is(err, incerrors.KindConflict) {
			return nil
		}
		return err
	}
	st.logger.Debug("Session %s ended, incident %s stamped", sessionID, incidentID)
	return nil
}

// IncidentFor returns the incident currently bound to a session, if any.
func (st *Store) IncidentFor(sessionID string) (string, bool) {
	st.mu.Lock()
	s, ok := st.sessions[sessionID]
	st.mu.Unlock()
	if !ok {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incidentID, s.incidentID != ""
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// PruneExpired drops sessions idle longer than the configured timeout and
// returns how many were removed. Call it periodically from a janitor loop.
// Sessions with a turn in flight are skipped rather than waited on: holding
// the store lock while blocking on a busy session would stall every other
// caller, and a busy session is by definition not idle.
func (st *Store) PruneExpired() int {
	st.mu.Lock()
	defer st.mu.Unlock()

	cutoff := time.Now().Add(-st.idleTimeout)
	pruned := 0
	for id, s := range st.sessions {
		if !s.mu.TryLock() {
			continue
		}
		idle := s.lastActive.Before(cutoff)
		s.mu.Unlock()
		if idle {
			delete(st.sessions, id)
			pruned++
		}
	}
	if pruned > 0 {
		metrics.ActiveSessions.Set(float64(len(st.sessions)))
		st.logger.Debug("Pruned %d idle sessions", pruned)
	}
	return pruned
}

// acquire returns the live session for an ID, creating it on first contact.
func (st *Store) acquire(sessionID string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.sessions[sessionID]; ok {
		return s
	}
	s := &Session{
		id:         sessionID,
		history:    contextmgr.NewContextManager(st.counter, st.tokenBudget),
		lastActive: time.Now(),
	}
	st.sessions[sessionID] = s
	metrics.ActiveSessions.Set(float64(len(st.sessions)))
	st.logger.Debug("Session %s created", sessionID)
	return s
}
