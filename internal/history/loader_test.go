package history

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/xhj721521/teamchat/internal/chat"
	"github.com/xhj721521/teamchat/internal/gateway"
)

const team = "alpha-squad"

// fakeFetcher serves scripted pages and can block to exercise the in-flight
// guard.
type fakeFetcher struct {
	mu       sync.Mutex
	calls    []gateway.Query
	pages    []gateway.Page
	err      error
	block    chan struct{}
	started  chan struct{}
	startOne sync.Once
	onFetch  func()
}

func (f *fakeFetcher) FetchHistory(_ context.Context, _ string, q gateway.Query) (gateway.Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, q)
	var page gateway.Page
	if len(f.pages) > 0 {
		page = f.pages[0]
		f.pages = f.pages[1:]
	}
	onFetch := f.onFetch
	f.mu.Unlock()

	if f.started != nil {
		f.startOne.Do(func() { close(f.started) })
	}
	if f.block != nil {
		<-f.block
	}
	if onFetch != nil {
		onFetch()
	}
	return page, f.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func m(id string, seq int64) chat.Message {
	return chat.Message{ID: id, TeamID: team, Kind: chat.KindText, Seq: seq, CreatedAt: seq * 10, Status: chat.StatusSent}
}

func TestBootstrapInitializesLog(t *testing.T) {
	store := chat.NewStore(nil, nil)
	f := &fakeFetcher{pages: []gateway.Page{{
		Items:      []chat.Message{m("a", 5), m("b", 6)},
		NextBefore: 5,
	}}}
	l := NewLoader(store, f, nil, 24, 20)

	if err := l.Bootstrap(context.Background(), team); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	st, ok := store.Team(team)
	if !ok {
		t.Fatal("team missing after bootstrap")
	}
	if len(st.Messages) != 2 || !st.HasMoreBefore || st.BeforeCursor != 5 || st.LastSeq != 6 {
		t.Errorf("unexpected state: %+v", st)
	}
}

func TestLoadOlderPrependsAndMovesCursor(t *testing.T) {
	store := chat.NewStore(nil, nil)
	f := &fakeFetcher{pages: []gateway.Page{
		{Items: []chat.Message{m("c", 5), m("d", 6)}, NextBefore: 5},
		{Items: []chat.Message{m("a", 3), m("b", 4)}, NextBefore: 0},
	}}
	l := NewLoader(store, f, nil, 24, 20)

	if err := l.Bootstrap(context.Background(), team); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := l.LoadOlder(context.Background(), team); err != nil {
		t.Fatalf("load older: %v", err)
	}

	st, _ := store.Team(team)
	if len(st.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(st.Messages))
	}
	if st.Messages[0].ID != "a" || st.Messages[3].ID != "d" {
		t.Errorf("order wrong: first=%s last=%s", st.Messages[0].ID, st.Messages[3].ID)
	}
	if st.HasMoreBefore {
		t.Error("pagination still open after terminal page")
	}

	f.mu.Lock()
	olderQuery := f.calls[1]
	f.mu.Unlock()
	if olderQuery.Before != 5 {
		t.Errorf("older fetch used cursor %d, want 5", olderQuery.Before)
	}
}

func TestLoadOlderClosedBoundaryIsNoop(t *testing.T) {
	store := chat.NewStore(nil, nil)
	f := &fakeFetcher{pages: []gateway.Page{{Items: []chat.Message{m("a", 1)}, NextBefore: 0}}}
	l := NewLoader(store, f, nil, 24, 20)

	if err := l.Bootstrap(context.Background(), team); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := l.LoadOlder(context.Background(), team); err != nil {
		t.Fatalf("load older: %v", err)
	}

	if got := f.callCount(); got != 1 {
		t.Errorf("closed boundary triggered a fetch: %d calls", got)
	}
}

func TestLoadOlderUnknownTeamIsNoop(t *testing.T) {
	store := chat.NewStore(nil, nil)
	f := &fakeFetcher{}
	l := NewLoader(store, f, nil, 24, 20)

	if err := l.LoadOlder(context.Background(), team); err != nil {
		t.Fatalf("load older: %v", err)
	}
	if got := f.callCount(); got != 0 {
		t.Errorf("fetch on never-bootstrapped team: %d calls", got)
	}
}

func TestLoadOlderSingleInFlight(t *testing.T) {
	store := chat.NewStore(nil, nil)
	store.Bootstrap(team, chat.Page{
		Messages:      []chat.Message{m("c", 5)},
		HasMoreBefore: true,
		BeforeCursor:  5,
	})

	f := &fakeFetcher{
		pages:   []gateway.Page{{Items: []chat.Message{m("a", 3)}, NextBefore: 0}},
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	l := NewLoader(store, f, nil, 24, 20)

	done := make(chan error, 1)
	go func() { done <- l.LoadOlder(context.Background(), team) }()

	// Wait for the first fetch to start, then race a second call against it.
	<-f.started
	if err := l.LoadOlder(context.Background(), team); err != nil {
		t.Fatalf("concurrent load older: %v", err)
	}
	if got := f.callCount(); got != 1 {
		t.Errorf("second call fetched while first in flight: %d calls", got)
	}

	close(f.block)
	if err := <-done; err != nil {
		t.Fatalf("first load older: %v", err)
	}
}

func TestFetchErrorLeavesBoundaryUntouched(t *testing.T) {
	store := chat.NewStore(nil, nil)
	store.Bootstrap(team, chat.Page{
		Messages:      []chat.Message{m("c", 5)},
		HasMoreBefore: true,
		BeforeCursor:  5,
	})

	f := &fakeFetcher{err: errors.New("gateway down")}
	l := NewLoader(store, f, nil, 24, 20)

	if err := l.LoadOlder(context.Background(), team); err == nil {
		t.Fatal("expected error")
	}

	st, _ := store.Team(team)
	if !st.HasMoreBefore || st.BeforeCursor != 5 {
		t.Errorf("boundary moved on error: %+v", st)
	}
	if len(st.Messages) != 1 {
		t.Errorf("log changed on error: %d messages", len(st.Messages))
	}
}

func TestStaleResponseDiscardedAfterReset(t *testing.T) {
	store := chat.NewStore(nil, nil)
	store.Bootstrap(team, chat.Page{
		Messages:      []chat.Message{m("c", 5)},
		HasMoreBefore: true,
		BeforeCursor:  5,
	})

	f := &fakeFetcher{pages: []gateway.Page{{Items: []chat.Message{m("a", 3)}, NextBefore: 0}}}
	// Reset the team while the fetch is "in flight".
	f.onFetch = func() { store.ResetTeam(team) }
	l := NewLoader(store, f, nil, 24, 20)

	if err := l.LoadOlder(context.Background(), team); err != nil {
		t.Fatalf("load older: %v", err)
	}

	st, ok := store.Team(team)
	if ok && len(st.Messages) > 0 {
		t.Errorf("stale page applied after reset: %+v", st)
	}
}
