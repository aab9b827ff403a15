// Package gateway defines the collaborator contracts the chat core consumes:
// paginated history fetches, message sends and the duplex live push channel.
// The daemon ships an in-memory implementation for development and tests; a
// production build swaps in the real game-server transport behind the same
// interfaces.
package gateway

import (
	"context"

	"github.com/xhj721521/teamchat/internal/chat"
)

// Query bounds a history fetch. Before and After are exclusive seq cursors;
// zero means unset. Limit caps the page size.
type Query struct {
	Before int64
	After  int64
	Limit  int
}

// Page is a history fetch result. Items are ascending by seq. NextBefore is
// the cursor for the next older page, or zero when no more history exists.
type Page struct {
	Items      []chat.Message
	NextBefore int64
}

// HistoryFetcher serves paginated message history.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, teamID string, q Query) (Page, error)
}

// MessageSender performs a fire-and-await send, resolving with the
// server-authoritative message (stable id and seq) on success.
type MessageSender interface {
	SendMessage(ctx context.Context, teamID string, author chat.Author, text string) (chat.Message, error)
}

// Params configures a live channel connection for one team. OnMessage
// delivers server-authoritative messages from any participant, including
// other sessions of the current user. OnAck delivers the outcome of a
// locally submitted send; failed is true when the send did not succeed.
type Params struct {
	TeamID      string
	CurrentUser chat.Author
	OnMessage   func(msg chat.Message)
	OnAck       func(clientID string, msg chat.Message, failed bool)
}

// Conn is an open live channel handle.
type Conn interface {
	// Send submits locally authored text; the outcome arrives via OnAck.
	Send(clientID, text string)
	// Close tears the channel down. Callbacks stop after Close returns.
	Close()
}

// ChannelDialer opens live channels.
type ChannelDialer interface {
	Dial(ctx context.Context, p Params) (Conn, error)
}
