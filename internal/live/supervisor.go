// Package live manages per-team live channel sessions: connection state
// supervision, routing of push deliveries and send acknowledgements into the
// store, and the unread/read-position rule tied to the viewport bottom state.
package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xhj721521/teamchat/internal/bus"
	"github.com/xhj721521/teamchat/internal/chat"
	"github.com/xhj721521/teamchat/internal/gateway"
	"github.com/xhj721521/teamchat/internal/send"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when a send is attempted on a team with no
// open live channel.
var ErrNotConnected = errors.New("live channel not connected")

// Supervisor owns one live session per joined team. Transport retry and
// reconnection policy belong to the channel implementation; the supervisor
// only tracks and exposes the tri-state connection status.
type Supervisor struct {
	store    *chat.Store
	dialer   gateway.ChannelDialer
	pipeline *send.Pipeline
	user     chat.Author
	bus      *bus.Bus
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	conn gateway.Conn
	// atBottom mirrors the UI viewport: while true, arrivals advance the
	// read position instead of the unread counter.
	atBottom bool
}

// NewSupervisor creates a supervisor acting as the given user.
func NewSupervisor(store *chat.Store, dialer gateway.ChannelDialer, pipeline *send.Pipeline, user chat.Author, b *bus.Bus, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		store:    store,
		dialer:   dialer,
		pipeline: pipeline,
		user:     user,
		bus:      b,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// Connect opens the live channel for a team. Idempotent: an already
// connected team is a no-op. A fresh session starts with the viewport
// considered at the bottom.
func (s *Supervisor) Connect(ctx context.Context, teamID string) error {
	s.mu.Lock()
	if _, ok := s.sessions[teamID]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.transition(teamID, chat.Connecting); err != nil {
		s.logger.Warn("connect transition rejected", zap.String("team_id", teamID), zap.Error(err))
	}

	conn, err := s.dialer.Dial(ctx, gateway.Params{
		TeamID:      teamID,
		CurrentUser: s.user,
		OnMessage: func(msg chat.Message) {
			s.handleMessage(teamID, msg)
		},
		OnAck: func(clientID string, msg chat.Message, failed bool) {
			s.pipeline.HandleAck(teamID, clientID, msg, failed)
		},
	})
	if err != nil {
		s.store.SetConnState(teamID, chat.Disconnected)
		return fmt.Errorf("dial live channel for %s: %w", teamID, err)
	}

	s.mu.Lock()
	s.sessions[teamID] = &session{conn: conn, atBottom: true}
	s.mu.Unlock()

	if err := s.transition(teamID, chat.Connected); err != nil {
		s.logger.Warn("connected transition rejected", zap.String("team_id", teamID), zap.Error(err))
	}
	s.logger.Info("live channel connected", zap.String("team_id", teamID))
	return nil
}

// Disconnect closes the team's live channel, if open.
func (s *Supervisor) Disconnect(teamID string) {
	s.mu.Lock()
	sess, ok := s.sessions[teamID]
	if ok {
		delete(s.sessions, teamID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	sess.conn.Close()
	s.store.SetConnState(teamID, chat.Disconnected)
	s.logger.Info("live channel disconnected", zap.String("team_id", teamID))
}

// Leave disconnects and discards all conversation state for the team. Any
// in-flight pagination response for the old state is dropped via the store's
// reset generation.
func (s *Supervisor) Leave(teamID string) {
	s.Disconnect(teamID)
	s.store.ResetTeam(teamID)
}

// Shutdown closes every open session.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Disconnect(id)
	}
}

// Send submits locally authored text through the optimistic pipeline.
func (s *Supervisor) Send(teamID, text string) (string, error) {
	s.mu.Lock()
	sess, ok := s.sessions[teamID]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("send to %s: %w", teamID, ErrNotConnected)
	}
	return s.pipeline.Submit(teamID, s.user, text, sess.conn), nil
}

// Retry resubmits a failed message as a new send.
func (s *Supervisor) Retry(teamID, clientID string) (string, error) {
	s.mu.Lock()
	sess, ok := s.sessions[teamID]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("retry in %s: %w", teamID, ErrNotConnected)
	}
	return s.pipeline.Retry(teamID, clientID, sess.conn)
}

// SetAtBottom records whether the viewport sits at the bottom of the log.
// Reaching the bottom marks everything read.
func (s *Supervisor) SetAtBottom(teamID string, atBottom bool) {
	s.mu.Lock()
	if sess, ok := s.sessions[teamID]; ok {
		sess.atBottom = atBottom
	}
	s.mu.Unlock()
	if atBottom {
		s.MarkRead(teamID)
	}
}

// MarkRead advances the read position to the latest known seq and zeroes the
// unread count.
func (s *Supervisor) MarkRead(teamID string) {
	st, ok := s.store.Team(teamID)
	if !ok {
		return
	}
	s.store.SetLastReadSeq(teamID, st.LastSeq)
}

func (s *Supervisor) handleMessage(teamID string, msg chat.Message) {
	s.store.AppendMessages(teamID, []chat.Message{msg})

	// Own echoes never count as unread.
	if msg.Author.ID == s.user.ID {
		return
	}
	s.mu.Lock()
	sess, ok := s.sessions[teamID]
	atBottom := ok && sess.atBottom
	s.mu.Unlock()

	if atBottom {
		s.store.SetLastReadSeq(teamID, msg.Seq)
	} else {
		s.store.IncrementUnread(teamID, 1)
	}
}

// validTransitions defines the allowed connection state changes.
var validTransitions = map[chat.ConnState][]chat.ConnState{
	chat.Disconnected: {chat.Connecting},
	chat.Connecting:   {chat.Connected, chat.Disconnected},
	chat.Connected:    {chat.Disconnected},
}

// transition validates and applies a connection state change for a team.
func (s *Supervisor) transition(teamID string, to chat.ConnState) error {
	current := chat.Disconnected
	if st, ok := s.store.Team(teamID); ok {
		current = st.ConnState
	}
	allowed := false
	for _, next := range validTransitions[current] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("invalid transition from %s to %s", current, to)
	}
	s.store.SetConnState(teamID, to)
	if s.bus != nil {
		s.bus.Publish(bus.Event{
			Kind:      "chat.conn_transition",
			Timestamp: time.Now(),
			Payload:   map[string]string{"team_id": teamID, "from": string(current), "to": string(to)},
		})
	}
	return nil
}
