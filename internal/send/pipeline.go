// Package send implements the optimistic send pipeline: a locally authored
// message becomes visible as pending before any network round trip, then
// resolves to sent on server acknowledgement or failed otherwise. Retry is a
// manual user action that re-enters the pipeline with a fresh client id.
package send

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xhj721521/teamchat/internal/bus"
	"github.com/xhj721521/teamchat/internal/chat"
	"go.uber.org/zap"
)

// ErrNotRetryable is returned by Retry for messages that are not in the
// failed state (system messages are never retried either).
var ErrNotRetryable = errors.New("message is not retryable")

// ErrUnknownMessage is returned by Retry when no message with the given
// client id exists in the team's log.
var ErrUnknownMessage = errors.New("unknown message")

// Wire carries a locally submitted send to the transport. Satisfied by
// gateway.Conn.
type Wire interface {
	Send(clientID, text string)
}

// Pipeline owns the pending → sent/failed lifecycle of local sends.
type Pipeline struct {
	store  *chat.Store
	bus    *bus.Bus
	logger *zap.Logger
}

// NewPipeline creates a pipeline over the given store.
func NewPipeline(store *chat.Store, b *bus.Bus, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{store: store, bus: b, logger: logger}
}

// Submit creates a pending message with a fresh client id, makes it visible
// in the log immediately and dispatches it on the wire. Returns the client
// id; the outcome arrives later via HandleAck.
func (p *Pipeline) Submit(teamID string, author chat.Author, text string, wire Wire) string {
	clientID := "tmp-" + uuid.NewString()
	now := time.Now().UnixMilli()
	p.store.AddPendingMessage(teamID, chat.Message{
		ID:        clientID,
		TeamID:    teamID,
		Author:    author,
		Kind:      chat.KindText,
		Body:      text,
		CreatedAt: now,
		Seq:       now, // provisional, keeps the entry at the live tail
		Status:    chat.StatusPending,
	})
	wire.Send(clientID, text)

	p.publish("send.submitted", teamID, clientID)
	return clientID
}

// HandleAck resolves a pending send. On success the server message replaces
// the pending entry; on failure the entry is flagged failed with its text
// preserved for retry.
func (p *Pipeline) HandleAck(teamID, clientID string, msg chat.Message, failed bool) {
	if failed {
		p.store.MarkFailed(teamID, clientID)
		p.logger.Info("send failed",
			zap.String("team_id", teamID),
			zap.String("client_id", clientID))
		p.publish("send.failed", teamID, clientID)
		return
	}
	p.store.AckMessage(teamID, clientID, msg)
	p.logger.Info("send acknowledged",
		zap.String("team_id", teamID),
		zap.String("client_id", clientID),
		zap.String("server_id", msg.ID))
	p.publish("send.ack", teamID, clientID)
}

// Retry resubmits the text of a failed message as a brand new pending entry
// with its own client id. The failed entry stays in the log; removing or
// replacing it is the UI's call.
func (p *Pipeline) Retry(teamID, clientID string, wire Wire) (string, error) {
	m, ok := p.store.FindMessage(teamID, clientID)
	if !ok {
		return "", fmt.Errorf("retry %s: %w", clientID, ErrUnknownMessage)
	}
	if m.Status != chat.StatusFailed || m.Kind != chat.KindText {
		return "", fmt.Errorf("retry %s: %w", clientID, ErrNotRetryable)
	}
	return p.Submit(teamID, m.Author, m.Body, wire), nil
}

func (p *Pipeline) publish(kind, teamID, clientID string) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   map[string]string{"team_id": teamID, "client_id": clientID},
	})
}
