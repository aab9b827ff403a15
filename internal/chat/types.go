package chat

// Kind distinguishes user text from informational system messages.
type Kind string

const (
	KindText   Kind = "text"
	KindSystem Kind = "system"
)

// Status is the delivery state of a message. Server-authoritative messages
// (history pages, live deliveries) are always StatusSent.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Role of a team member in the conversation.
type Role string

const (
	RoleLeader Role = "leader"
	RoleMember Role = "member"
)

// Author identifies the sender of a message.
type Author struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Role   Role   `json:"role,omitempty"`
}

// Message is a single chat log entry. For a pending local message ID is the
// client-generated temporary id and Seq is a provisional value equal to
// CreatedAt, which keeps it at the live tail until the server assigns the
// authoritative seq on acknowledgement. CreatedAt is epoch millis.
type Message struct {
	ID        string `json:"id"`
	TeamID    string `json:"team_id"`
	Author    Author `json:"author"`
	Kind      Kind   `json:"kind"`
	Body      string `json:"body"`
	CreatedAt int64  `json:"created_at"`
	Seq       int64  `json:"seq"`
	Status    Status `json:"status"`
}

// ConnState tracks the live channel connection for a team.
type ConnState string

const (
	Disconnected ConnState = "disconnected"
	Connecting   ConnState = "connecting"
	Connected    ConnState = "connected"
)

// TeamState is the full conversation state for one team. Snapshots returned by
// the store are copies; callers never share the internal message slice.
type TeamState struct {
	TeamID        string    `json:"team_id"`
	Messages      []Message `json:"messages"`
	HasMoreBefore bool      `json:"has_more_before"`
	BeforeCursor  int64     `json:"before_cursor,omitempty"`
	LastSeq       int64     `json:"last_seq"`
	LastReadSeq   int64     `json:"last_read_seq"`
	UnreadCount   int       `json:"unread_count"`
	MutedUntil    int64     `json:"muted_until,omitempty"`
	ConnState     ConnState `json:"conn_state"`
}

// Page is one fetched slice of history plus its backward pagination boundary.
// A zero BeforeCursor means no older history exists.
type Page struct {
	Messages      []Message
	HasMoreBefore bool
	BeforeCursor  int64
}
