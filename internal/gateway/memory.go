package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xhj721521/teamchat/internal/chat"
)

// Memory is the in-process mock backend: a per-team message log with a global
// seq counter, serving history pages, sends and live channels. It stands in
// for the game server during development and in tests.
type Memory struct {
	mu      sync.Mutex
	logs    map[string][]chat.Message
	conns   map[string][]*memConn
	nextSeq int64

	// Latency delays FetchHistory and SendMessage to approximate a network
	// round trip. Zero means respond immediately (tests).
	Latency time.Duration
	// BotInterval, when positive, makes each live channel emit a periodic
	// scout report so the UI has ambient traffic to render.
	BotInterval time.Duration
}

// NewMemory creates an empty mock backend.
func NewMemory() *Memory {
	return &Memory{
		logs:  make(map[string][]chat.Message),
		conns: make(map[string][]*memConn),
	}
}

var _ HistoryFetcher = (*Memory)(nil)
var _ MessageSender = (*Memory)(nil)
var _ ChannelDialer = (*Memory)(nil)

// SeedDemo loads the demo conversation for the given team: a day of squad
// chatter with a couple of system notices, seqs 1..6.
func (m *Memory) SeedDemo(teamID string) {
	leader := chat.Author{ID: "alpha", Name: "PhotonBlade", Role: chat.RoleLeader}
	scout := chat.Author{ID: "beta", Name: "NeonScout", Role: chat.RoleMember}
	medic := chat.Author{ID: "gamma", Name: "SynthMedic", Role: chat.RoleMember}
	now := time.Now().UnixMilli()

	seed := []struct {
		author chat.Author
		kind   chat.Kind
		body   string
		ageMs  int64
	}{
		{leader, chat.KindSystem, "PhotonBlade founded the squad.", 24 * 3600_000},
		{scout, chat.KindText, "Anyone run the on-chain trial last night? I dropped two rare shards.", 20 * 3600_000},
		{leader, chat.KindText, "Blindbox awakening at 21:00 tonight, drop rate +30%.", 12 * 3600_000},
		{medic, chat.KindText, "Can I bring a supply runner along? Want them to see a raid.", 10 * 3600_000},
		{leader, chat.KindSystem, "NeonScout promoted to tactics officer.", 4 * 3600_000},
		{scout, chat.KindText, "Dungeon buff refreshed, grab it when you log in.", 30 * 60_000},
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range seed {
		m.nextSeq++
		m.logs[teamID] = append(m.logs[teamID], chat.Message{
			ID:        fmt.Sprintf("seed-%d", i+1),
			TeamID:    teamID,
			Author:    s.author,
			Kind:      s.kind,
			Body:      s.body,
			CreatedAt: now - s.ageMs,
			Seq:       m.nextSeq,
			Status:    chat.StatusSent,
		})
	}
}

// FetchHistory returns a page of messages ascending by seq. With Before set,
// the page is the newest Limit messages strictly older than the cursor; with
// After set, everything strictly newer. NextBefore points at the next older
// page, or zero when the returned page reaches the start of history.
func (m *Memory) FetchHistory(ctx context.Context, teamID string, q Query) (Page, error) {
	if err := m.sleep(ctx); err != nil {
		return Page{}, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 30
	}

	m.mu.Lock()
	sorted := make([]chat.Message, len(m.logs[teamID]))
	copy(sorted, m.logs[teamID])
	m.mu.Unlock()
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	var items []chat.Message
	switch {
	case q.After > 0:
		for _, msg := range sorted {
			if msg.Seq > q.After {
				items = append(items, msg)
			}
		}
	case q.Before > 0:
		var older []chat.Message
		for _, msg := range sorted {
			if msg.Seq < q.Before {
				older = append(older, msg)
			}
		}
		if len(older) > limit {
			older = older[len(older)-limit:]
		}
		items = older
	default:
		items = sorted
		if len(items) > limit {
			items = items[len(items)-limit:]
		}
	}

	var nextBefore int64
	if len(items) > 0 && len(sorted) > 0 && sorted[0].Seq < items[0].Seq {
		nextBefore = items[0].Seq
	}
	return Page{Items: items, NextBefore: nextBefore}, nil
}

// SendMessage appends a server-authoritative copy of the text to the team log
// and returns it. The server id is unrelated to any client id.
func (m *Memory) SendMessage(ctx context.Context, teamID string, author chat.Author, text string) (chat.Message, error) {
	if err := m.sleep(ctx); err != nil {
		return chat.Message{}, err
	}

	m.mu.Lock()
	m.nextSeq++
	msg := chat.Message{
		ID:        fmt.Sprintf("srv-%d", m.nextSeq),
		TeamID:    teamID,
		Author:    author,
		Kind:      chat.KindText,
		Body:      text,
		CreatedAt: time.Now().UnixMilli(),
		Seq:       m.nextSeq,
		Status:    chat.StatusSent,
	}
	m.logs[teamID] = append(m.logs[teamID], msg)
	m.mu.Unlock()
	return msg, nil
}

// InjectSystemMessage appends a system-kind message and pushes it to every
// live channel open on the team.
func (m *Memory) InjectSystemMessage(teamID, text string) chat.Message {
	m.mu.Lock()
	m.nextSeq++
	msg := chat.Message{
		ID:        fmt.Sprintf("sys-%d", m.nextSeq),
		TeamID:    teamID,
		Author:    chat.Author{ID: "system", Name: "System"},
		Kind:      chat.KindSystem,
		Body:      text,
		CreatedAt: time.Now().UnixMilli(),
		Seq:       m.nextSeq,
		Status:    chat.StatusSent,
	}
	m.logs[teamID] = append(m.logs[teamID], msg)
	conns := append([]*memConn(nil), m.conns[teamID]...)
	m.mu.Unlock()

	for _, c := range conns {
		c.deliver(msg)
	}
	return msg
}

// Dial opens a mock live channel. Sends resolve through SendMessage and come
// back via OnAck; a send that errors yields a failed-marker ack carrying the
// original text.
func (m *Memory) Dial(_ context.Context, p Params) (Conn, error) {
	c := &memConn{backend: m, params: p, done: make(chan struct{})}

	m.mu.Lock()
	m.conns[p.TeamID] = append(m.conns[p.TeamID], c)
	m.mu.Unlock()

	if m.BotInterval > 0 {
		go c.botLoop(m.BotInterval)
	}
	return c, nil
}

func (m *Memory) sleep(ctx context.Context) error {
	if m.Latency <= 0 {
		return nil
	}
	select {
	case <-time.After(m.Latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) dropConn(c *memConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns := m.conns[c.params.TeamID]
	for i, cc := range conns {
		if cc == c {
			m.conns[c.params.TeamID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
}

type memConn struct {
	backend *Memory
	params  Params

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func (c *memConn) Send(clientID, text string) {
	if c.isClosed() {
		return
	}
	go func() {
		msg, err := c.backend.SendMessage(context.Background(), c.params.TeamID, c.params.CurrentUser, text)
		if c.isClosed() || c.params.OnAck == nil {
			return
		}
		if err != nil {
			c.params.OnAck(clientID, chat.Message{
				ID:        clientID,
				TeamID:    c.params.TeamID,
				Author:    c.params.CurrentUser,
				Kind:      chat.KindText,
				Body:      text,
				CreatedAt: time.Now().UnixMilli(),
				Status:    chat.StatusFailed,
			}, true)
			return
		}
		c.params.OnAck(clientID, msg, false)
	}()
}

func (c *memConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	c.backend.dropConn(c)
}

func (c *memConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *memConn) deliver(msg chat.Message) {
	if c.isClosed() || c.params.OnMessage == nil {
		return
	}
	c.params.OnMessage(msg)
}

// botLoop emits a periodic patrol report from a bot teammate, giving the live
// tail ambient traffic in demo sessions.
func (c *memConn) botLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.backend.InjectBotMessage(c.params.TeamID)
		case <-c.done:
			return
		}
	}
}

// InjectBotMessage appends a patrol report from the AutoScout bot and pushes
// it to live channels, mirroring InjectSystemMessage but with a member author
// and text kind.
func (m *Memory) InjectBotMessage(teamID string) chat.Message {
	m.mu.Lock()
	m.nextSeq++
	msg := chat.Message{
		ID:        fmt.Sprintf("sim-%d", m.nextSeq),
		TeamID:    teamID,
		Author:    chat.Author{ID: "scout-bot", Name: "AutoScout", Role: chat.RoleMember},
		Kind:      chat.KindText,
		Body:      "Patrol complete, resources delivered.",
		CreatedAt: time.Now().UnixMilli(),
		Seq:       m.nextSeq,
		Status:    chat.StatusSent,
	}
	m.logs[teamID] = append(m.logs[teamID], msg)
	conns := append([]*memConn(nil), m.conns[teamID]...)
	m.mu.Unlock()

	for _, c := range conns {
		c.deliver(msg)
	}
	return msg
}
