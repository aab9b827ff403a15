package chat

import (
	"sync"
	"time"

	"github.com/xhj721521/teamchat/internal/bus"
	"go.uber.org/zap"
)

// Store owns the conversation state for every team the client knows about.
// It is an explicit, injected object rather than a package-level singleton;
// all mutations are synchronous and guarded by a single mutex, so interleaved
// history pages, live deliveries and local sends always converge.
//
// Any mutation on an unknown team lazily creates default state. That way the
// ordering of bootstrap vs. an early live-channel delivery never matters.
type Store struct {
	mu     sync.RWMutex
	teams  map[string]*TeamState
	gens   map[string]int64
	bus    *bus.Bus
	logger *zap.Logger
}

// NewStore creates an empty store. The bus and logger may be nil in tests.
func NewStore(b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		teams:  make(map[string]*TeamState),
		gens:   make(map[string]int64),
		bus:    b,
		logger: logger,
	}
}

func defaultTeamState(teamID string) *TeamState {
	return &TeamState{
		TeamID:        teamID,
		HasMoreBefore: true,
		ConnState:     Disconnected,
	}
}

// team returns the live state for teamID, creating defaults if absent.
// Callers must hold s.mu.
func (s *Store) team(teamID string) *TeamState {
	st, ok := s.teams[teamID]
	if !ok {
		st = defaultTeamState(teamID)
		s.teams[teamID] = st
	}
	return st
}

// Team returns a snapshot copy of the team's state.
func (s *Store) Team(teamID string) (TeamState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.teams[teamID]
	if !ok {
		return TeamState{}, false
	}
	return copyState(st), true
}

// TeamIDs returns the ids of all teams with state, in no particular order.
func (s *Store) TeamIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.teams))
	for id := range s.teams {
		ids = append(ids, id)
	}
	return ids
}

// Generation returns the reset generation for a team. It increases every time
// ResetTeam discards the team's state, letting in-flight fetch completions
// detect that their response went stale.
func (s *Store) Generation(teamID string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gens[teamID]
}

// Bootstrap initializes or replaces the log from a first history page. Read
// position, unread count and connection state survive a re-bootstrap.
func (s *Store) Bootstrap(teamID string, page Page) {
	s.mu.Lock()
	st := s.team(teamID)
	st.Messages = Merge(nil, page.Messages)
	st.HasMoreBefore = page.HasMoreBefore
	st.BeforeCursor = page.BeforeCursor
	st.LastSeq = maxSeq(page.Messages)
	s.mu.Unlock()

	s.publish("chat.bootstrapped", teamID)
}

// AddOlderMessages prepends a page of older history and moves the backward
// pagination boundary to the new page's cursor. A page with HasMoreBefore
// false permanently closes backward pagination until the next Bootstrap.
func (s *Store) AddOlderMessages(teamID string, page Page) {
	s.mu.Lock()
	st := s.team(teamID)
	st.Messages = Merge(page.Messages, st.Messages)
	st.HasMoreBefore = page.HasMoreBefore
	st.BeforeCursor = page.BeforeCursor
	s.mu.Unlock()

	s.publish("chat.updated", teamID)
}

// AppendMessages merges newly arrived server-authoritative messages into the
// live tail. An empty batch is a no-op and does not touch LastSeq.
func (s *Store) AppendMessages(teamID string, msgs []Message) {
	if len(msgs) == 0 {
		return
	}
	s.mu.Lock()
	st := s.team(teamID)
	st.Messages = Merge(st.Messages, msgs)
	if incoming := maxSeq(msgs); incoming > st.LastSeq {
		st.LastSeq = incoming
	}
	s.mu.Unlock()

	s.publish("chat.updated", teamID)
}

// AddPendingMessage inserts a locally authored message so the UI can render
// it before any network round trip completes.
func (s *Store) AddPendingMessage(teamID string, msg Message) {
	s.mu.Lock()
	st := s.team(teamID)
	st.Messages = Merge(st.Messages, []Message{msg})
	s.mu.Unlock()

	s.publish("chat.updated", teamID)
}

// AckMessage resolves a pending send: the entry whose id equals clientID is
// replaced by the server message (id, seq and timestamp authoritative) with
// status forced to sent. If no pending entry remains the server message is
// appended instead, which can hide an ack for an unknown client id, so that
// path is logged.
func (s *Store) AckMessage(teamID, clientID string, server Message) {
	server.Status = StatusSent

	s.mu.Lock()
	st := s.team(teamID)
	found := false
	next := make([]Message, len(st.Messages))
	for i, m := range st.Messages {
		if m.ID == clientID {
			next[i] = server
			found = true
		} else {
			next[i] = m
		}
	}
	st.Messages = Merge(next, nil)
	if server.Seq > st.LastSeq {
		st.LastSeq = server.Seq
	}
	if !found {
		st.Messages = Merge(st.Messages, []Message{server})
	}
	s.mu.Unlock()

	if !found {
		s.logger.Warn("ack for unknown client id, appended server message",
			zap.String("team_id", teamID),
			zap.String("client_id", clientID),
			zap.String("server_id", server.ID))
	}
	s.publish("chat.updated", teamID)
}

// MarkFailed flags a pending send as failed, preserving its text so the UI
// can offer retry with the same content.
func (s *Store) MarkFailed(teamID, clientID string) {
	s.mu.Lock()
	st := s.team(teamID)
	for i := range st.Messages {
		if st.Messages[i].ID == clientID {
			st.Messages[i].Status = StatusFailed
		}
	}
	s.mu.Unlock()

	s.publish("chat.updated", teamID)
}

// FindMessage returns a copy of the message with the given id, if present.
func (s *Store) FindMessage(teamID, id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.teams[teamID]
	if !ok {
		return Message{}, false
	}
	for _, m := range st.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// SetLastReadSeq records the read boundary and zeroes the unread count as one
// atomic update; the two must never disagree.
func (s *Store) SetLastReadSeq(teamID string, seq int64) {
	s.mu.Lock()
	st := s.team(teamID)
	st.LastReadSeq = seq
	st.UnreadCount = 0
	s.mu.Unlock()

	s.publish("chat.unread", teamID)
}

// SetUnreadCount sets the unread counter, clamped at zero.
func (s *Store) SetUnreadCount(teamID string, count int) {
	s.mu.Lock()
	st := s.team(teamID)
	st.UnreadCount = max(0, count)
	s.mu.Unlock()

	s.publish("chat.unread", teamID)
}

// IncrementUnread adjusts the unread counter by delta, clamped at zero.
func (s *Store) IncrementUnread(teamID string, delta int) {
	s.mu.Lock()
	st := s.team(teamID)
	st.UnreadCount = max(0, st.UnreadCount+delta)
	s.mu.Unlock()

	s.publish("chat.unread", teamID)
}

// SetMutedUntil sets the compose-mute deadline (epoch millis, 0 clears).
func (s *Store) SetMutedUntil(teamID string, until int64) {
	s.mu.Lock()
	s.team(teamID).MutedUntil = until
	s.mu.Unlock()

	s.publish("chat.muted", teamID)
}

// SetConnState records the live channel connection state for a team.
func (s *Store) SetConnState(teamID string, cs ConnState) {
	s.mu.Lock()
	s.team(teamID).ConnState = cs
	s.mu.Unlock()

	s.publish("chat.conn_state", teamID)
}

// ResetTeam discards all state for a team (leave-team) and bumps its reset
// generation so stale in-flight responses are dropped.
func (s *Store) ResetTeam(teamID string) {
	s.mu.Lock()
	delete(s.teams, teamID)
	s.gens[teamID]++
	s.mu.Unlock()

	s.publish("chat.reset", teamID)
}

// Restore installs a previously persisted snapshot. Connection state is
// always normalized to disconnected: a connection never survives a restart.
func (s *Store) Restore(st TeamState) {
	st.ConnState = Disconnected
	s.mu.Lock()
	cp := copyState(&st)
	s.teams[st.TeamID] = &cp
	s.mu.Unlock()
}

func (s *Store) publish(kind, teamID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   teamID,
	})
}

func copyState(st *TeamState) TeamState {
	cp := *st
	cp.Messages = make([]Message, len(st.Messages))
	copy(cp.Messages, st.Messages)
	return cp
}
