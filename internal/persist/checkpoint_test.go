package persist

import (
	"errors"
	"testing"

	"github.com/xhj721521/teamchat/internal/chat"
)

// flakySnaps wraps in-memory snapshot storage with an optional per-team save
// error, to exercise the checkpointer's partial-failure behavior.
type flakySnaps struct {
	saved   map[string]chat.TeamState
	failFor string
}

func newFlakySnaps() *flakySnaps {
	return &flakySnaps{saved: make(map[string]chat.TeamState)}
}

func (f *flakySnaps) SaveTeam(st chat.TeamState) error {
	if st.TeamID == f.failFor {
		return errors.New("disk full")
	}
	st.ConnState = chat.Disconnected
	f.saved[st.TeamID] = st
	return nil
}

func (f *flakySnaps) LoadTeam(teamID string) (chat.TeamState, bool, error) {
	st, ok := f.saved[teamID]
	return st, ok, nil
}

func (f *flakySnaps) LoadAll() ([]chat.TeamState, error) {
	states := make([]chat.TeamState, 0, len(f.saved))
	for _, st := range f.saved {
		states = append(states, st)
	}
	return states, nil
}

func (f *flakySnaps) DeleteTeam(teamID string) error {
	delete(f.saved, teamID)
	return nil
}

func TestCheckpointAllSavesEveryTeam(t *testing.T) {
	store := chat.NewStore(nil, nil)
	store.Bootstrap("alpha-squad", chat.Page{Messages: []chat.Message{{ID: "a", Seq: 1}}})
	store.Bootstrap("beta-wing", chat.Page{Messages: []chat.Message{{ID: "b", Seq: 2}}})

	snaps := newFlakySnaps()
	cp := NewCheckpointer(store, snaps, nil)

	if err := cp.CheckpointAll(); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if len(snaps.saved) != 2 {
		t.Errorf("saved %d teams, want 2", len(snaps.saved))
	}
}

func TestCheckpointAllContinuesPastFailure(t *testing.T) {
	store := chat.NewStore(nil, nil)
	store.Bootstrap("alpha-squad", chat.Page{Messages: []chat.Message{{ID: "a", Seq: 1}}})
	store.Bootstrap("beta-wing", chat.Page{Messages: []chat.Message{{ID: "b", Seq: 2}}})

	snaps := newFlakySnaps()
	snaps.failFor = "alpha-squad"
	cp := NewCheckpointer(store, snaps, nil)

	if err := cp.CheckpointAll(); err == nil {
		t.Fatal("expected error from failing team")
	}
	if _, ok := snaps.saved["beta-wing"]; !ok {
		t.Error("failure on one team blocked the others")
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	source := chat.NewStore(nil, nil)
	source.Bootstrap("alpha-squad", chat.Page{
		Messages:      []chat.Message{{ID: "a", TeamID: "alpha-squad", Kind: chat.KindText, Seq: 1, CreatedAt: 100, Status: chat.StatusSent}},
		HasMoreBefore: true,
		BeforeCursor:  1,
	})
	source.SetLastReadSeq("alpha-squad", 1)
	source.SetConnState("alpha-squad", chat.Connected)

	snaps := newFlakySnaps()
	if err := NewCheckpointer(source, snaps, nil).CheckpointAll(); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}

	fresh := chat.NewStore(nil, nil)
	restored, err := NewCheckpointer(fresh, snaps, nil).Restore()
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored != 1 {
		t.Fatalf("restored %d teams, want 1", restored)
	}

	st, ok := fresh.Team("alpha-squad")
	if !ok {
		t.Fatal("restored team missing")
	}
	if st.LastReadSeq != 1 || len(st.Messages) != 1 {
		t.Errorf("restored state = %+v", st)
	}
	if st.ConnState != chat.Disconnected {
		t.Errorf("restored conn state = %q, want disconnected", st.ConnState)
	}
}

func TestForgetDropsSnapshot(t *testing.T) {
	store := chat.NewStore(nil, nil)
	store.Bootstrap("alpha-squad", chat.Page{Messages: []chat.Message{{ID: "a", Seq: 1}}})

	snaps := newFlakySnaps()
	cp := NewCheckpointer(store, snaps, nil)
	if err := cp.CheckpointAll(); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}

	if err := cp.Forget("alpha-squad"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if _, ok := snaps.saved["alpha-squad"]; ok {
		t.Error("snapshot survived forget")
	}
}
